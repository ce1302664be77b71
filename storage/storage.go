// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var objectsBucket = []byte("objects")

// Store is a persistent ordered byte map rooted at a directory. Each Store
// owns a single bbolt database file; writers are serialized by bbolt while
// readers proceed concurrently.
type Store struct {
	db   *bolt.DB
	path string
}

// Open creates or opens the store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create the store directory %s: %v", dir, err)
	}

	file := filepath.Join(dir, "data.db")
	db, err := bolt.Open(file, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open the store at %s: %v", file, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create the objects bucket: %v", err)
	}
	return &Store{db: db, path: dir}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the directory the store was opened at.
func (s *Store) Path() string {
	return s.path
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Put([]byte(key), value)
	})
}

// Get returns the value stored under key, or nil when the key is absent.
// A missing key is not an error.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(objectsBucket).Get([]byte(key)); v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) (bool, error) {
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(objectsBucket).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Delete removes key. Deleting an absent key succeeds.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Delete([]byte(key))
	})
}

// Iterate visits every key beginning with prefix in lexicographic order.
// The visit callback returns true to continue the scan.
func (s *Store) Iterate(prefix string, visit func(key string, value []byte) bool) error {
	p := []byte(prefix)

	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(objectsBucket).Cursor()

		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			val := make([]byte, len(v))
			copy(val, v)
			if !visit(string(k), val) {
				break
			}
		}
		return nil
	})
}

// Keys returns every key beginning with prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string

	err := s.Iterate(prefix, func(key string, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	return keys, err
}

// PutBatch stores all entries of batch inside one transaction. The DN42
// populator uses this to cap write-lock hold time to one object type.
func (s *Store) PutBatch(batch map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)

		for k, v := range batch {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutJSON marshals value and stores it under key.
func (s *Store) PutJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal the value for %s: %v", key, err)
	}
	return s.Put(key, data)
}

// GetJSON unmarshals the value stored under key into out. It returns false
// when the key is absent.
func (s *Store) GetJSON(key string, out interface{}) (bool, error) {
	data, err := s.Get(key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal the value for %s: %v", key, err)
	}
	return true, nil
}
