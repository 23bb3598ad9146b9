/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package storage

import (
	"fmt"
	"io/ioutil"
	"sync"

	"devt.de/krotik/common/fileutil"
	"devt.de/krotik/recorddb/storage/file"
	"devt.de/krotik/recorddb/util"
)

/*
IDGeneratorHeader is the magic number to identify id generator files
*/
var IDGeneratorHeader = []byte{0x52, 0x49}

/*
IDGenerator allocates fresh record ids for a single record store and
manages a free list of reclaimed ids. Ids freed during normal operation
are held in a pending list and only become available for reuse after the
next checkpoint - i.e. after the transaction which freed them is durable.
*/
type IDGenerator struct {
	name    string      // Name of the id generator file
	highID  uint64      // Id one past the highest allocated id
	free    []uint64    // Ids which may be handed out again
	pending []uint64    // Ids freed since the last checkpoint
	mutex   *sync.Mutex // Mutex for allocation operations
}

/*
OpenIDGenerator opens or creates an id generator. A new generator starts
allocation at the given initial high id.
*/
func OpenIDGenerator(name string, initialHighID uint64) (*IDGenerator, error) {
	gen := &IDGenerator{name, initialHighID, nil, nil, &sync.Mutex{}}

	ex, err := fileutil.PathExists(name)
	if err != nil {
		return nil, &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	if ex {
		if err := gen.load(); err != nil {
			return nil, err
		}
	}

	return gen, nil
}

/*
load reads the persisted state of this id generator.
*/
func (gen *IDGenerator) load() error {
	data, err := ioutil.ReadFile(gen.name)
	if err != nil {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	if len(data) < 16 || data[0] != IDGeneratorHeader[0] || data[1] != IDGeneratorHeader[1] {
		return &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Bad magic for id generator file %v", gen.name)}
	}

	version := uint16(data[2])<<8 | uint16(data[3])
	if version != StoreFormatVersion {
		return &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Unexpected id generator version %v in %v", version, gen.name)}
	}

	gen.highID = readUInt64(data, 4)
	count := readUInt32(data, 12)

	if len(data) < 16+int(count)*8 {
		return &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Truncated id generator file %v", gen.name)}
	}

	gen.free = make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		gen.free = append(gen.free, readUInt64(data, 16+int(i)*8))
	}

	return nil
}

/*
Allocate returns a fresh record id. Reclaimed ids are preferred over
extending the id space.
*/
func (gen *IDGenerator) Allocate() (uint64, error) {
	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	if len(gen.free) > 0 {
		id := gen.free[len(gen.free)-1]
		gen.free = gen.free[:len(gen.free)-1]
		return id, nil
	}

	if gen.highID > file.MaxRecordID {
		return 0, &util.StorageError{Type: util.ErrOutOfIDs,
			Detail: fmt.Sprintf("Id generator %v", gen.name)}
	}

	id := gen.highID
	gen.highID++

	return id, nil
}

/*
Free enqueues a record id for later reuse. The id becomes available only
after the next checkpoint. Freeing an id twice has no effect - recovery
may replay the same deletion multiple times.
*/
func (gen *IDGenerator) Free(id uint64) {
	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	for _, fid := range gen.pending {
		if fid == id {
			return
		}
	}
	for _, fid := range gen.free {
		if fid == id {
			return
		}
	}

	gen.pending = append(gen.pending, id)
}

/*
Mark records an externally-chosen id as used. This is used during recovery
and external transaction application where ids were allocated elsewhere.
*/
func (gen *IDGenerator) Mark(id uint64) {
	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	if id+1 > gen.highID {
		gen.highID = id + 1
	}

	for i, fid := range gen.free {
		if fid == id {
			gen.free = append(gen.free[:i], gen.free[i+1:]...)
			break
		}
	}
}

/*
HighID returns the id one past the highest allocated id.
*/
func (gen *IDGenerator) HighID() uint64 {
	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	return gen.highID
}

/*
Checkpoint makes all pending freed ids available for reuse and writes the
generator state to disk.
*/
func (gen *IDGenerator) Checkpoint() error {
	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	gen.free = append(gen.free, gen.pending...)
	gen.pending = nil

	data := make([]byte, 16+len(gen.free)*8)

	copy(data, IDGeneratorHeader)
	data[2] = byte(StoreFormatVersion >> 8)
	data[3] = byte(StoreFormatVersion)

	writeUInt64(data, 4, gen.highID)
	writeUInt32(data, 12, uint32(len(gen.free)))

	for i, id := range gen.free {
		writeUInt64(data, 16+i*8, id)
	}

	if err := ioutil.WriteFile(gen.name, data, 0660); err != nil {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
	}

	return nil
}

/*
Close checkpoints and releases this id generator.
*/
func (gen *IDGenerator) Close() error {
	return gen.Checkpoint()
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
