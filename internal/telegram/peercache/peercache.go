// Package peercache pairs gotd's in-memory peers.Manager with a persistent
// bbolt-backed peer store, one cache file per account. The manager is built
// without the store: the client pool's (C4) ResolveEntity goes through the
// manager alone, so its lookups are not served from the file.
package peercache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"

	"spectra-core/internal/ioutil"
)

const (
	peersBucketName = "peers"
	dbOpenTimeout   = time.Second
	dbFileMode      = 0o600
)

var peersBucketBytes = []byte(peersBucketName)

// Cache is one account's peer cache: a bbolt file plus a gotd peers.Manager,
// which does not read from or write to that file.
type Cache struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	Mgr   *peers.Manager
}

// Open opens (creating if absent) the bbolt file at path and builds a
// peers.Manager for api alongside it.
func Open(api *tg.Client, path string) (*Cache, error) {
	if err := ioutil.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("peercache: ensure dir: %w", err)
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("peercache: open %s: %w", path, err)
	}

	store := bboltdb.NewPeerStorage(db, peersBucketBytes)
	return &Cache{
		db:    db,
		store: store,
		Mgr:   (peers.Options{}).Build(api),
	}, nil
}

// Close closes the underlying bbolt file.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Store exposes the persistent storage for wiring into UpdateHook-driven
// peer hydration, mirroring how update handlers keep the cache warm.
func (c *Cache) Store() contribstorage.PeerStorage {
	return c.store
}

// Reset discards a corrupted cache file's peers bucket, used when a stored
// peer record can no longer be decoded (format drift across gotd upgrades).
func (c *Cache) Reset() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(peersBucketBytes); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucketBytes)
		return err
	})
}

// Exists reports whether a cache file already exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
