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
	"path"

	"devt.de/krotik/recorddb/storage/file"
	"devt.de/krotik/recorddb/util"
)

/*
baseStore wraps a RecordFile and its id generator. The typed stores embed
this structure and add the encoding of their record kind.
*/
type baseStore struct {
	storeName string           // Name of this store
	rf        *file.RecordFile // Underlying record file
	gen       *IDGenerator     // Id generator of this store
}

/*
openBaseStore opens or creates the record file and id generator of a store.
*/
func openBaseStore(dir string, fname string, recordSize uint32,
	reservedLowIDs uint64, readonly bool) (*baseStore, error) {

	rf, err := file.OpenRecordFile(path.Join(dir, fname), StoreFormatVersion,
		recordSize, reservedLowIDs, readonly)
	if err != nil {
		return nil, wrapFileError(err)
	}

	gen, err := OpenIDGenerator(path.Join(dir, fname+FileIDGeneratorSuffix), rf.HighID())
	if err != nil {
		rf.Close()
		return nil, err
	}

	// The record file might be ahead of a stale id generator file

	gen.Mark(rf.HighID() - 1)

	return &baseStore{fname, rf, gen}, nil
}

/*
Name returns the store name.
*/
func (bs *baseStore) Name() string {
	return bs.storeName
}

/*
StorageFile returns the path of the underlying record file.
*/
func (bs *baseStore) StorageFile() string {
	return bs.rf.Name()
}

/*
RecordSize returns the size in bytes of a single record of this store.
*/
func (bs *baseStore) RecordSize() uint32 {
	return bs.rf.RecordSize()
}

/*
HighID returns the id one past the highest record of this store.
*/
func (bs *baseStore) HighID() uint64 {
	return bs.rf.HighID()
}

/*
SetHighID raises the high id of this store and its id generator.
*/
func (bs *baseStore) SetHighID(id uint64) {
	bs.rf.SetHighID(id)
	if id > 0 {
		bs.gen.Mark(id - 1)
	}
}

/*
ReservedLowIDs returns the lowest id which may hold a data record.
*/
func (bs *baseStore) ReservedLowIDs() uint64 {
	return bs.rf.ReservedLowIDs()
}

/*
IDGenerator returns the id generator of this store.
*/
func (bs *baseStore) IDGenerator() *IDGenerator {
	return bs.gen
}

/*
NextID allocates a fresh record id for this store.
*/
func (bs *baseStore) NextID() (uint64, error) {
	return bs.gen.Allocate()
}

/*
Flush syncs the record file of this store to disk.
*/
func (bs *baseStore) Flush() error {
	if err := bs.rf.Flush(); err != nil {
		return wrapFileError(err)
	}
	return nil
}

/*
Checkpoint flushes the record file and checkpoints the id generator.
*/
func (bs *baseStore) Checkpoint() error {
	if err := bs.Flush(); err != nil {
		return err
	}
	return bs.gen.Checkpoint()
}

/*
Close closes the record file and the id generator of this store.
*/
func (bs *baseStore) Close() error {
	err := bs.gen.Close()

	if ferr := bs.rf.Close(); ferr != nil && err == nil {
		err = wrapFileError(ferr)
	}

	return err
}

/*
getRaw reads a raw record honouring the given load mode against the
decoded in-use state.
*/
func (bs *baseStore) getRaw(id uint64, mode LoadMode, inUse bool, rec *file.Record) (*file.Record, error) {
	if mode == LoadNormal && !inUse {
		return nil, &util.StorageError{Type: util.ErrRecordNotInUse,
			Detail: fmt.Sprintf("Record %v of store %v", id, bs.storeName)}
	}

	return rec, nil
}

/*
putRaw writes a raw record and notifies the id update listener about the
id state transition.
*/
func (bs *baseStore) putRaw(rec *file.Record, inUse bool, listener IDUpdateListener) error {
	if err := bs.rf.Put(rec); err != nil {
		return wrapFileError(err)
	}

	if listener != nil {
		if inUse {
			listener.MarkUsed(bs.gen, rec.ID())
		} else {
			listener.MarkDeleted(bs.gen, rec.ID())
		}
	}

	return nil
}

/*
wrapFileError wraps a record file error into a StorageError.
*/
func wrapFileError(err error) error {
	if fe, ok := err.(*file.RecordFileError); ok {
		if fe.Type == file.ErrBadMagic || fe.Type == file.ErrVersionMismatch ||
			fe.Type == file.ErrRecordSize {
			return &util.StorageError{Type: util.ErrFormatMismatch, Detail: fe.Error()}
		}
		if fe.Type == file.ErrReadOnlyFile {
			return &util.StorageError{Type: util.ErrReadOnly, Detail: fe.Error()}
		}
	}

	return &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
}

// Node store
// ==========

/*
NodeStore is the record store for node records.
*/
type NodeStore struct {
	*baseStore
}

/*
Get reads a node record.
*/
func (s *NodeStore) Get(id uint64, mode LoadMode) (*NodeRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	nr := decodeNode(rec)

	if _, err := s.getRaw(id, mode, nr.InUse, rec); err != nil {
		return nil, err
	}

	return nr, nil
}

/*
Update writes a node record.
*/
func (s *NodeStore) Update(nr *NodeRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(nr.ID)
	encodeNode(nr, rec)
	return s.putRaw(rec, nr.InUse, listener)
}

// Relationship store
// ==================

/*
RelationshipStore is the record store for relationship records.
*/
type RelationshipStore struct {
	*baseStore
}

/*
Get reads a relationship record.
*/
func (s *RelationshipStore) Get(id uint64, mode LoadMode) (*RelationshipRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	rr := decodeRelationship(rec)

	if _, err := s.getRaw(id, mode, rr.InUse, rec); err != nil {
		return nil, err
	}

	return rr, nil
}

/*
Update writes a relationship record.
*/
func (s *RelationshipStore) Update(rr *RelationshipRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(rr.ID)
	encodeRelationship(rr, rec)
	return s.putRaw(rec, rr.InUse, listener)
}

// Relationship group store
// ========================

/*
RelGroupStore is the record store for relationship group records.
*/
type RelGroupStore struct {
	*baseStore
}

/*
Get reads a relationship group record.
*/
func (s *RelGroupStore) Get(id uint64, mode LoadMode) (*RelGroupRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	gr := decodeRelGroup(rec)

	if _, err := s.getRaw(id, mode, gr.InUse, rec); err != nil {
		return nil, err
	}

	return gr, nil
}

/*
Update writes a relationship group record.
*/
func (s *RelGroupStore) Update(gr *RelGroupRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(gr.ID)
	encodeRelGroup(gr, rec)
	return s.putRaw(rec, gr.InUse, listener)
}

// Property store
// ==============

/*
PropertyStore is the record store for property records.
*/
type PropertyStore struct {
	*baseStore
}

/*
Get reads a property record.
*/
func (s *PropertyStore) Get(id uint64, mode LoadMode) (*PropertyRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	pr := decodeProperty(rec)

	if _, err := s.getRaw(id, mode, pr.InUse, rec); err != nil {
		return nil, err
	}

	return pr, nil
}

/*
Update writes a property record.
*/
func (s *PropertyStore) Update(pr *PropertyRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(pr.ID)
	encodeProperty(pr, rec)
	return s.putRaw(rec, pr.InUse, listener)
}

// Dynamic store
// =============

/*
DynamicStore is the record store for dynamic records. It is used for the
string store and the array store.
*/
type DynamicStore struct {
	*baseStore
}

/*
Get reads a dynamic record.
*/
func (s *DynamicStore) Get(id uint64, mode LoadMode) (*DynamicRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	dr := decodeDynamic(rec)

	if _, err := s.getRaw(id, mode, dr.InUse, rec); err != nil {
		return nil, err
	}

	return dr, nil
}

/*
Update writes a dynamic record.
*/
func (s *DynamicStore) Update(dr *DynamicRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(dr.ID)
	encodeDynamic(dr, rec)
	return s.putRaw(rec, dr.InUse, listener)
}

/*
ReadChain reads a full dynamic record chain starting at a given record.
*/
func (s *DynamicStore) ReadChain(start uint64) ([]byte, error) {
	var data []byte

	for id := start; id != NilID; {
		dr, err := s.Get(id, LoadNormal)
		if err != nil {
			return nil, err
		}

		data = append(data, dr.Data...)
		id = dr.Next
	}

	return data, nil
}

/*
ChunkDynamicData splits a byte slice into chunks which fit into single
dynamic records.
*/
func ChunkDynamicData(data []byte) [][]byte {
	var chunks [][]byte

	for len(data) > DynamicPayloadSize {
		chunks = append(chunks, data[:DynamicPayloadSize])
		data = data[DynamicPayloadSize:]
	}

	return append(chunks, data)
}

// Schema store
// ============

/*
SchemaStore is the record store for schema records.
*/
type SchemaStore struct {
	*baseStore
}

/*
Get reads a schema record.
*/
func (s *SchemaStore) Get(id uint64, mode LoadMode) (*SchemaRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	sr := decodeSchema(rec)

	if _, err := s.getRaw(id, mode, sr.InUse, rec); err != nil {
		return nil, err
	}

	return sr, nil
}

/*
Update writes a schema record.
*/
func (s *SchemaStore) Update(sr *SchemaRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(sr.ID)
	encodeSchema(sr, rec)
	return s.putRaw(rec, sr.InUse, listener)
}

// Token store
// ===========

/*
TokenStore is the record store for token records.
*/
type TokenStore struct {
	*baseStore
}

/*
Get reads a token record.
*/
func (s *TokenStore) Get(id uint64, mode LoadMode) (*TokenRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	tr := decodeToken(rec)

	if _, err := s.getRaw(id, mode, tr.InUse, rec); err != nil {
		return nil, err
	}

	return tr, nil
}

/*
Update writes a token record.
*/
func (s *TokenStore) Update(tr *TokenRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(tr.ID)
	encodeToken(tr, rec)
	return s.putRaw(rec, tr.InUse, listener)
}

// Meta data store
// ===============

/*
MetaDataStore is the record store for meta data records. All records live
at fixed reserved positions.
*/
type MetaDataStore struct {
	*baseStore
}

/*
Get reads a meta data record.
*/
func (s *MetaDataStore) Get(id uint64, mode LoadMode) (*MetaDataRecord, error) {
	rec, err := s.rf.Get(id)
	if err != nil {
		return nil, wrapFileError(err)
	}

	mr := decodeMetaData(rec)

	if _, err := s.getRaw(id, mode, mr.InUse, rec); err != nil {
		return nil, err
	}

	return mr, nil
}

/*
Update writes a meta data record.
*/
func (s *MetaDataStore) Update(mr *MetaDataRecord, listener IDUpdateListener) error {
	rec := s.rf.NewRecord(mr.ID)
	encodeMetaData(mr, rec)
	return s.putRaw(rec, mr.InUse, listener)
}

/*
Value reads the value at a given meta data position. The second return
value is false if the position was never written.
*/
func (s *MetaDataStore) Value(pos uint64) (uint64, bool, error) {
	mr, err := s.Get(pos, LoadCheck)
	if err != nil {
		return 0, false, err
	}

	return mr.Value, mr.InUse, nil
}

/*
SetValue writes the value at a given meta data position.
*/
func (s *MetaDataStore) SetValue(pos uint64, value uint64) error {
	return s.Update(&MetaDataRecord{pos, true, value}, nil)
}
