/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package counts contains the counts store and the group degrees store.

The counts store holds entity counters keyed by label and relationship
type tuples, the degrees store holds directed degree counters for
relationship group chains of dense nodes. Both stores keep their counters
in an in-memory btree which is written to a checkpoint file during engine
flush. A missing checkpoint file is rebuilt by scanning the record stores.

Counter updates are accumulated per transaction through an Updater and
applied atomically with the other commands of the transaction.
*/
package counts

import (
	"fmt"
	"io/ioutil"
	"sync"

	"devt.de/krotik/common/fileutil"
	"devt.de/krotik/common/logutil"
	"github.com/google/btree"

	"devt.de/krotik/recorddb/util"
)

/*
Wildcard matches any label or relationship type in a counts key.
*/
const Wildcard int32 = -1

/*
Counts entry kinds
*/
const (
	EntryNode byte = iota
	EntryRelationship
)

/*
CheckpointHeader is the magic number to identify counts checkpoint files
*/
var CheckpointHeader = []byte{0x52, 0x43}

/*
checkpointVersion is the current format version of checkpoint files
*/
const checkpointVersion = 1

/*
btreeDegree is the branching factor of the in-memory counter trees
*/
const btreeDegree = 32

/*
Key addresses a single counter of the counts store. Node counters use only
the Start label field, relationship counters use (Start, Type, End) where
each field may be the Wildcard.
*/
type Key struct {
	Kind  byte  // Entry kind (node or relationship)
	Start int32 // Start label (or node label for node counters)
	Type  int32 // Relationship type
	End   int32 // End label
}

/*
NodeKey returns the counter key for nodes with a given label.
*/
func NodeKey(label int32) Key {
	return Key{EntryNode, label, Wildcard, Wildcard}
}

/*
RelationshipKey returns the counter key for relationships with given
start label, type and end label.
*/
func RelationshipKey(start int32, relType int32, end int32) Key {
	return Key{EntryRelationship, start, relType, end}
}

/*
String returns a string representation of a counter key.
*/
func (k Key) String() string {
	if k.Kind == EntryNode {
		return fmt.Sprintf("node(%v)", k.Start)
	}
	return fmt.Sprintf("rel(%v-[%v]->%v)", k.Start, k.Type, k.End)
}

/*
entry is a single counter in the btree.
*/
type entry struct {
	key   Key
	count int64
}

/*
Less provides the total order of counter entries.
*/
func (e *entry) Less(other btree.Item) bool {
	o := other.(*entry)

	if e.key.Kind != o.key.Kind {
		return e.key.Kind < o.key.Kind
	}
	if e.key.Start != o.key.Start {
		return e.key.Start < o.key.Start
	}
	if e.key.Type != o.key.Type {
		return e.key.Type < o.key.Type
	}
	return e.key.End < o.key.End
}

/*
Store is the counts store. It maps label and relationship type tuples to
64-bit counters.
*/
type Store struct {
	name     string        // Name of the checkpoint file
	tree     *btree.BTree  // Counter tree
	lastTxID uint64        // Transaction id of the last applied update
	mutex    *sync.RWMutex // Mutex for store operations
}

/*
OpenStore opens the counts store. If no checkpoint file exists and a
rebuild function is given then the counters are rebuilt from scratch.
*/
func OpenStore(name string, rebuild func(*Updater) error) (*Store, error) {
	s := &Store{name, btree.New(btreeDegree), 0, &sync.RWMutex{}}

	ex, err := fileutil.PathExists(name)
	if err != nil {
		return nil, &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	if ex {
		return s, s.load()
	}

	if rebuild != nil {
		logutil.GetLogger("recorddb.counts").Warning("Missing counts store, rebuilding it.")

		u := s.Updater(0)
		if err := rebuild(u); err != nil {
			return nil, err
		}
		u.Close()

		logutil.GetLogger("recorddb.counts").Warning("Counts store rebuild completed.")
	}

	return s, nil
}

/*
load reads the checkpoint file of this store.
*/
func (s *Store) load() error {
	data, err := ioutil.ReadFile(s.name)
	if err != nil {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	count, err := readCheckpointHeader(data, s.name, &s.lastTxID)
	if err != nil {
		return err
	}

	if len(data) < 24+int(count)*21 {
		return &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Truncated counts checkpoint %v", s.name)}
	}

	for i := uint32(0); i < count; i++ {
		off := 24 + int(i)*21

		s.tree.ReplaceOrInsert(&entry{
			Key{
				data[off],
				int32(readUInt32(data, off+1)),
				int32(readUInt32(data, off+5)),
				int32(readUInt32(data, off+9)),
			},
			int64(readUInt64(data, off+13)),
		})
	}

	return nil
}

/*
Count returns the current value of a counter.
*/
func (s *Store) Count(key Key) int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if item := s.tree.Get(&entry{key: key}); item != nil {
		return item.(*entry).count
	}

	return 0
}

/*
LastTxID returns the transaction id of the last applied update.
*/
func (s *Store) LastTxID() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastTxID
}

/*
Updater returns an updater which accumulates counter deltas for a single
transaction. The deltas are applied atomically when the updater is closed.
*/
func (s *Store) Updater(txID uint64) *Updater {
	return &Updater{s, txID, make(map[Key]int64)}
}

/*
apply applies a set of accumulated deltas to the counter tree. Deltas of
transactions which were already applied are dropped - this makes log
replay idempotent.
*/
func (s *Store) apply(txID uint64, deltas map[Key]int64) {
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

		if item := s.tree.Get(&entry{key: key}); item != nil {
			count = item.(*entry).count
		}

		count += delta

		if count == 0 {
			s.tree.Delete(&entry{key: key})
		} else {
			s.tree.ReplaceOrInsert(&entry{key, count})
		}
	}

	if txID > s.lastTxID {
		s.lastTxID = txID
	}
}

/*
Checkpoint writes all counters to the checkpoint file.
*/
func (s *Store) Checkpoint() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data := writeCheckpointHeader(uint32(s.tree.Len()), s.lastTxID, 21)

	off := 24
	s.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)

		data[off] = e.key.Kind
		writeUInt32(data, off+1, uint32(e.key.Start))
		writeUInt32(data, off+5, uint32(e.key.Type))
		writeUInt32(data, off+9, uint32(e.key.End))
		writeUInt64(data, off+13, uint64(e.count))

		off += 21
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
func (s *Store) Close() error {
	return s.Checkpoint()
}

/*
Updater accumulates counter deltas for a single transaction.
*/
type Updater struct {
	store  *Store        // Store which produced this updater
	txID   uint64        // Transaction applying the deltas
	deltas map[Key]int64 // Accumulated deltas
}

/*
Increment adds a delta to a counter.
*/
func (u *Updater) Increment(key Key, delta int64) {
	u.deltas[key] += delta
}

/*
Close applies all accumulated deltas to the store.
*/
func (u *Updater) Close() {
	u.store.apply(u.txID, u.deltas)
	u.deltas = nil
}

// Checkpoint file helpers
// =======================

/*
readCheckpointHeader verifies a checkpoint file header and returns the
number of stored entries.
*/
func readCheckpointHeader(data []byte, name string, lastTxID *uint64) (uint32, error) {
	if len(data) < 24 || data[0] != CheckpointHeader[0] || data[1] != CheckpointHeader[1] {
		return 0, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Bad magic for checkpoint file %v", name)}
	}

	version := uint16(data[2])<<8 | uint16(data[3])
	if version != checkpointVersion {
		return 0, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Unexpected checkpoint version %v in %v", version, name)}
	}

	*lastTxID = readUInt64(data, 4)

	return readUInt32(data, 12), nil
}

/*
writeCheckpointHeader creates a checkpoint file buffer with a filled
header.
*/
func writeCheckpointHeader(count uint32, lastTxID uint64, entrySize int) []byte {
	data := make([]byte, 24+int(count)*entrySize)

	copy(data, CheckpointHeader)
	data[2] = byte(checkpointVersion >> 8)
	data[3] = byte(checkpointVersion)

	writeUInt64(data, 4, lastTxID)
	writeUInt32(data, 12, count)

	return data
}

// Byte order helpers
// ==================

func readUInt32(data []byte, pos int) uint32 {
	return uint32(data[pos])<<24 | uint32(data[pos+1])<<16 |
		uint32(data[pos+2])<<8 | uint32(data[pos+3])
}

func writeUInt32(data []byte, pos int, value uint32) {
	data[pos] = byte(value >> 24)
	data[pos+1] = byte(value >> 16)
	data[pos+2] = byte(value >> 8)
	data[pos+3] = byte(value)
}

func readUInt64(data []byte, pos int) uint64 {
	return uint64(readUInt32(data, pos))<<32 | uint64(readUInt32(data, pos+4))
}

func writeUInt64(data []byte, pos int, value uint64) {
	writeUInt32(data, pos, uint32(value>>32))
	writeUInt32(data, pos+4, uint32(value))
}
