//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package hsm implements component HSM's per-file state machine
// (offline/online-unmodified/online-modified), its durable record
// store, the multi-remote dispatch configuration grammar, and the
// dispatcher that drives archive/release/stage/recycle actions out to
// one or more remotes in order.
package hsm

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/nestybox/mountbroker/domain"
)

var recordsBucket = []byte("hsm_records")

var _ domain.HsmStateStoreIface = (*Store)(nil)

// Store persists HsmRecord values in a bbolt database keyed by absolute
// path, standing in for the real extended attribute the spec describes
// (see DESIGN.md: xattr I/O is outside what this module can exercise
// portably, bbolt gives the same keyed-record durability without it).
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if absent) a bbolt database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "hsm.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open hsm store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Get returns the stored record for path, or the zero record (spec
// §6.5: "a file with no such extended attribute is treated as
// UNMANAGED with a zeroed record") if none exists.
func (s *Store) Get(path string) (domain.HsmRecord, error) {
	var rec domain.HsmRecord
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		data := b.Get([]byte(path))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return domain.HsmRecord{}, err
	}
	if !found {
		return domain.ZeroRecord(), nil
	}
	return rec, nil
}

func (s *Store) Put(path string, rec domain.HsmRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(path), data)
	})
}

// Delete removes path's record entirely, returning it to the implicit
// UNMANAGED/zeroed state on next Get.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		return b.Delete([]byte(path))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
