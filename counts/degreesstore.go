/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package counts

import (
	"fmt"
	"io/ioutil"
	"sync"

	"devt.de/krotik/common/fileutil"
	"github.com/google/btree"

	"devt.de/krotik/recorddb/util"
)

/*
DegreeKey addresses a single degree counter of the degrees store.
*/
type DegreeKey struct {
	Group     uint64 // Relationship group record id
	Direction byte   // Chain direction within the group
}

/*
degreeEntry is a single degree counter in the btree.
*/
type degreeEntry struct {
	key   DegreeKey
	count int64
}

/*
Less provides the total order of degree entries.
*/
func (e *degreeEntry) Less(other btree.Item) bool {
	o := other.(*degreeEntry)

	if e.key.Group != o.key.Group {
		return e.key.Group < o.key.Group
	}
	return e.key.Direction < o.key.Direction
}

/*
DegreesStore is the relationship group degrees store. It holds directed
degree counters for group chains whose degrees were externalized.
*/
type DegreesStore struct {
	name     string        // Name of the checkpoint file
	tree     *btree.BTree  // Counter tree
	lastTxID uint64        // Transaction id of the last applied update
	mutex    *sync.RWMutex // Mutex for store operations
}

/*
OpenDegreesStore opens the group degrees store.
*/
func OpenDegreesStore(name string) (*DegreesStore, error) {
	s := &DegreesStore{name, btree.New(btreeDegree), 0, &sync.RWMutex{}}

	ex, err := fileutil.PathExists(name)
	if err != nil {
		return nil, &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	if ex {
		return s, s.load()
	}

	return s, nil
}

/*
load reads the checkpoint file of this store.
*/
func (s *DegreesStore) load() error {
	data, err := ioutil.ReadFile(s.name)
	if err != nil {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	count, err := readCheckpointHeader(data, s.name, &s.lastTxID)
	if err != nil {
		return err
	}

	if len(data) < 24+int(count)*17 {
		return &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Truncated degrees checkpoint %v", s.name)}
	}

	for i := uint32(0); i < count; i++ {
		off := 24 + int(i)*17

		s.tree.ReplaceOrInsert(&degreeEntry{
			DegreeKey{readUInt64(data, off), data[off+8]},
			int64(readUInt64(data, off+9)),
		})
	}

	return nil
}

/*
Degree returns the current value of a degree counter.
*/
func (s *DegreesStore) Degree(key DegreeKey) int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if item := s.tree.Get(&degreeEntry{key: key}); item != nil {
		return item.(*degreeEntry).count
	}

	return 0
}

/*
Updater returns an updater which accumulates degree deltas for a single
transaction.
*/
func (s *DegreesStore) Updater(txID uint64) *DegreesUpdater {
	return &DegreesUpdater{s, txID, make(map[DegreeKey]int64)}
}

/*
apply applies a set of accumulated deltas to the counter tree. Deltas of
transactions which were already applied are dropped - this makes log
replay idempotent.
*/
func (s *DegreesStore) apply(txID uint64, deltas map[DegreeKey]int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if txID != 0 && txID <= s.lastTxID {
		return
	}

	for key, delta := range deltas {
		if delta == 0 {
			continue
		}

		var count int64

		if item := s.tree.Get(&degreeEntry{key: key}); item != nil {
			count = item.(*degreeEntry).count
		}

		count += delta

		if count == 0 {
			s.tree.Delete(&degreeEntry{key: key})
		} else {
			s.tree.ReplaceOrInsert(&degreeEntry{key, count})
		}
	}

	if txID > s.lastTxID {
		s.lastTxID = txID
	}
}

/*
Checkpoint writes all degree counters to the checkpoint file.
*/
func (s *DegreesStore) Checkpoint() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data := writeCheckpointHeader(uint32(s.tree.Len()), s.lastTxID, 17)

	off := 24
	s.tree.Ascend(func(item btree.Item) bool {
		e := item.(*degreeEntry)

		writeUInt64(data, off, e.key.Group)
		data[off+8] = e.key.Direction
		writeUInt64(data, off+9, uint64(e.count))

		off += 17
		return true
	})

	if err := ioutil.WriteFile(s.name, data, 0660); err != nil {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	return nil
}

/*
Close checkpoints and releases this store.
*/
func (s *DegreesStore) Close() error {
	return s.Checkpoint()
}

/*
DegreesUpdater accumulates degree deltas for a single transaction.
*/
type DegreesUpdater struct {
	store  *DegreesStore       // Store which produced this updater
	txID   uint64              // Transaction applying the deltas
	deltas map[DegreeKey]int64 // Accumulated deltas
}

/*
Increment adds a delta to a degree counter.
*/
func (u *DegreesUpdater) Increment(key DegreeKey, delta int64) {
	u.deltas[key] += delta
}

/*
Close applies all accumulated deltas to the store.
*/
func (u *DegreesUpdater) Close() {
	u.store.apply(u.txID, u.deltas)
	u.deltas = nil
}
