// Copyright 2024 The Vira Authors
// This file is part of the go-vira library.
//
// The go-vira library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package buildcache persists compiled objects keyed by a hash of their
// source and build options.
package buildcache

import (
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/crypto/sha3"

	"github.com/vira-lang/go-vira/lang/codegen"
	"github.com/vira-lang/go-vira/log"
)

// objectPrefix namespaces object entries; bump the version when the object
// layout changes so stale entries stop matching.
var objectPrefix = []byte("vo1-")

// KeyLength is the size of a cache key in bytes.
const KeyLength = 32

// Key identifies one compilation.
type Key [KeyLength]byte

// String returns the hex form of the key.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// KeyFor hashes source together with the options that influence the
// produced object.
func KeyFor(source string, opts codegen.Options) Key {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(opts.Optimize)))
	h.Write([]byte(strconv.FormatBool(opts.Verify)))
	h.Write([]byte(strconv.Itoa(opts.PageSize)))
	h.Write([]byte(strconv.FormatUint(opts.GasLimit, 10)))
	h.Write([]byte(strconv.Itoa(opts.MaxCallDepth)))

	var k Key
	h.Sum(k[:0])
	return k
}

// Cache is a leveldb backed object store. It is safe for concurrent use.
type Cache struct {
	db  *leveldb.DB
	log log.Logger
}

// Open opens or creates the cache at dir, recovering it once if the
// database is corrupted.
func Open(dir string) (*Cache, error) {
	options := &opt.Options{
		OpenFilesCacheCapacity: 16,
		BlockCacheCapacity:     4 * opt.MiB,
		WriteBuffer:            2 * opt.MiB,
	}
	logger := log.New("cache", dir)

	db, err := leveldb.OpenFile(dir, options)
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		logger.Warn("Recovering corrupted build cache", "err", err)
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("Opened build cache")
	return &Cache{db: db, log: logger}, nil
}

// New wraps an already opened database.
func New(db *leveldb.DB) *Cache {
	return &Cache{db: db, log: log.New("cache", "custom")}
}

func objectKey(k Key) []byte {
	return append(append([]byte{}, objectPrefix...), k[:]...)
}

// Get returns the object stored under k. A miss is not an error.
func (c *Cache) Get(k Key) ([]byte, bool, error) {
	obj, err := c.db.Get(objectKey(k), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// Module returns the decoded module stored under k. Entries that no longer
// decode are dropped and reported as a miss.
func (c *Cache) Module(k Key) (*codegen.Module, bool, error) {
	obj, ok, err := c.Get(k)
	if !ok || err != nil {
		return nil, false, err
	}
	m, err := codegen.DecodeObject(obj)
	if err != nil {
		c.log.Warn("Dropping undecodable cache entry", "key", k, "err", err)
		return nil, false, c.Delete(k)
	}
	return m, true, nil
}

// Put stores obj under k.
func (c *Cache) Put(k Key, obj []byte) error {
	return c.db.Put(objectKey(k), obj, nil)
}

// Delete removes the entry for k, if any.
func (c *Cache) Delete(k Key) error {
	return c.db.Delete(objectKey(k), nil)
}

// Stats returns the number of cached objects and their total size.
func (c *Cache) Stats() (entries int, size uint64, err error) {
	it := c.db.NewIterator(util.BytesPrefix(objectPrefix), nil)
	defer it.Release()
	for it.Next() {
		entries++
		size += uint64(len(it.Value()))
	}
	return entries, size, it.Error()
}

// Purge deletes every cached object.
func (c *Cache) Purge() error {
	it := c.db.NewIterator(util.BytesPrefix(objectPrefix), nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte{}, it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	c.log.Debug("Purging build cache", "entries", batch.Len())
	return c.db.Write(batch, nil)
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
