/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"devt.de/krotik/common/datautil"
	"devt.de/krotik/common/fileutil"
)

/*
Common record file related errors
*/
var (
	ErrBadMagic         = errors.New("Bad magic for record file")
	ErrVersionMismatch  = errors.New("Unexpected record file version")
	ErrRecordSize       = errors.New("Unexpected record size")
	ErrReadOnlyFile     = errors.New("Record file is read-only")
	ErrIO               = errors.New("Record file I/O error")
	ErrReservedBoundary = errors.New("Record id is below the reserved boundary")
)

/*
RecordFileError is a record file related error.
*/
type RecordFileError struct {
	Type     error  // Error type (to be used for equal checks)
	Detail   string // Details of this error
	Filename string // Name of the record file
}

/*
Error returns a human-readable string representation of this error.
*/
func (e *RecordFileError) Error() string {
	return fmt.Sprintf("%s (%s - %s)", e.Type.Error(), e.Filename, e.Detail)
}

/*
HeaderSize is the size in bytes of a record file header. The header stores
a magic, the format version, the record size and the number of reserved
low ids.
*/
const HeaderSize = 16

/*
RecordFileHeader is the magic number to identify record files
*/
var RecordFileHeader = []byte{0x52, 0x44}

/*
DefaultCacheSize is the default number of records kept in the read cache
of a record file.
*/
const DefaultCacheSize = 10000

/*
RecordFile data structure
*/
type RecordFile struct {
	name           string             // Name of the record file
	version        uint16             // Format version of the record file
	recordSize     uint32             // Size of a single record in bytes
	reservedLowIDs uint64             // Lowest id which may hold a data record
	readonly       bool               // Flag for read-only mode
	file           *os.File           // Underlying OS file
	highID         uint64             // Id one past the highest record ever written
	cache          *datautil.MapCache // Read cache for record data
	mutex          *sync.Mutex        // Mutex to protect file operations
}

/*
OpenRecordFile opens or creates a record file with a given record size and
reserved low id boundary. An existing file must match the expected format
version and record size.
*/
func OpenRecordFile(name string, version uint16, recordSize uint32,
	reservedLowIDs uint64, readonly bool) (*RecordFile, error) {

	rf := &RecordFile{name, version, recordSize, reservedLowIDs, readonly,
		nil, reservedLowIDs, datautil.NewMapCache(DefaultCacheSize, 0),
		&sync.Mutex{}}

	ex, err := fileutil.PathExists(name)
	if err != nil {
		return nil, &RecordFileError{ErrIO, err.Error(), name}
	}

	if !ex && readonly {
		return nil, &RecordFileError{ErrIO, "File does not exist", name}
	}

	flags := os.O_RDWR | os.O_CREATE
	if readonly {
		flags = os.O_RDONLY
	}

	if rf.file, err = os.OpenFile(name, flags, 0660); err != nil {
		return nil, &RecordFileError{ErrIO, err.Error(), name}
	}

	if !ex {
		err = rf.writeHeader()
	} else {
		err = rf.readHeader()
	}

	if err != nil {
		rf.file.Close()
		return nil, err
	}

	return rf, nil
}

/*
writeHeader writes the header of a new record file.
*/
func (rf *RecordFile) writeHeader() error {
	header := make([]byte, HeaderSize)

	copy(header, RecordFileHeader)

	header[2] = byte(rf.version >> 8)
	header[3] = byte(rf.version)

	header[4] = byte(rf.recordSize >> 24)
	header[5] = byte(rf.recordSize >> 16)
	header[6] = byte(rf.recordSize >> 8)
	header[7] = byte(rf.recordSize)

	header[8] = byte(rf.reservedLowIDs >> 24)
	header[9] = byte(rf.reservedLowIDs >> 16)
	header[10] = byte(rf.reservedLowIDs >> 8)
	header[11] = byte(rf.reservedLowIDs)

	if _, err := rf.file.WriteAt(header, 0); err != nil {
		return &RecordFileError{ErrIO, err.Error(), rf.name}
	}

	return nil
}

/*
readHeader reads and verifies the header of an existing record file.
*/
func (rf *RecordFile) readHeader() error {
	header := make([]byte, HeaderSize)

	if _, err := io.ReadFull(io.NewSectionReader(rf.file, 0, HeaderSize), header); err != nil {
		return &RecordFileError{ErrBadMagic, err.Error(), rf.name}
	}

	if header[0] != RecordFileHeader[0] || header[1] != RecordFileHeader[1] {
		return &RecordFileError{ErrBadMagic, "", rf.name}
	}

	version := uint16(header[2])<<8 | uint16(header[3])
	if version != rf.version {
		return &RecordFileError{ErrVersionMismatch,
			fmt.Sprintf("Expected version %v got %v", rf.version, version), rf.name}
	}

	recordSize := uint32(header[4])<<24 | uint32(header[5])<<16 |
		uint32(header[6])<<8 | uint32(header[7])
	if recordSize != rf.recordSize {
		return &RecordFileError{ErrRecordSize,
			fmt.Sprintf("Expected record size %v got %v", rf.recordSize, recordSize), rf.name}
	}

	rf.reservedLowIDs = uint64(header[8])<<24 | uint64(header[9])<<16 |
		uint64(header[10])<<8 | uint64(header[11])

	info, err := rf.file.Stat()
	if err != nil {
		return &RecordFileError{ErrIO, err.Error(), rf.name}
	}

	dataSize := info.Size() - HeaderSize
	if dataSize < 0 {
		dataSize = 0
	}

	rf.highID = uint64(dataSize) / uint64(rf.recordSize)
	if rf.highID < rf.reservedLowIDs {
		rf.highID = rf.reservedLowIDs
	}

	return nil
}

/*
Name returns the file name of this record file.
*/
func (rf *RecordFile) Name() string {
	return rf.name
}

/*
RecordSize returns the size in bytes of a single record.
*/
func (rf *RecordFile) RecordSize() uint32 {
	return rf.recordSize
}

/*
ReservedLowIDs returns the lowest id which may hold a data record.
*/
func (rf *RecordFile) ReservedLowIDs() uint64 {
	return rf.reservedLowIDs
}

/*
HighID returns the id one past the highest record which was ever written.
*/
func (rf *RecordFile) HighID() uint64 {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()

	return rf.highID
}

/*
SetHighID raises the high id of this record file. Lower values than the
current high id are ignored.
*/
func (rf *RecordFile) SetHighID(id uint64) {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()

	if id > rf.highID {
		rf.highID = id
	}
}

/*
NewRecord creates a new empty Record for this record file.
*/
func (rf *RecordFile) NewRecord(id uint64) *Record {
	return NewRecord(id, make([]byte, rf.recordSize))
}

/*
Get reads the record with the given id. Records which were never written
are returned as zero bytes.
*/
func (rf *RecordFile) Get(id uint64) (*Record, error) {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()

	data := make([]byte, rf.recordSize)

	if cdata, ok := rf.cache.Get(fmt.Sprint(id)); ok {
		copy(data, cdata.([]byte))
		return NewRecord(id, data), nil
	}

	offset := int64(HeaderSize) + int64(id)*int64(rf.recordSize)

	// Reads beyond the end of the file produce a zero record

	if _, err := rf.file.ReadAt(data, offset); err != nil && err != io.EOF {
		return nil, &RecordFileError{ErrIO, err.Error(), rf.name}
	}

	return NewRecord(id, data), nil
}

/*
Put writes a given record to the record file.
*/
func (rf *RecordFile) Put(record *Record) error {
	if rf.readonly {
		return &RecordFileError{ErrReadOnlyFile, "", rf.name}
	}

	rf.mutex.Lock()
	defer rf.mutex.Unlock()

	offset := int64(HeaderSize) + int64(record.ID())*int64(rf.recordSize)

	if _, err := rf.file.WriteAt(record.Data(), offset); err != nil {
		return &RecordFileError{ErrIO, err.Error(), rf.name}
	}

	if record.ID()+1 > rf.highID {
		rf.highID = record.ID() + 1
	}

	cdata := make([]byte, rf.recordSize)
	copy(cdata, record.Data())
	rf.cache.Put(fmt.Sprint(record.ID()), cdata)

	record.ClearDirty()

	return nil
}

/*
Flush syncs all written records to disk.
*/
func (rf *RecordFile) Flush() error {
	if rf.readonly {
		return nil
	}

	if err := rf.file.Sync(); err != nil {
		return &RecordFileError{ErrIO, err.Error(), rf.name}
	}

	return nil
}

/*
Close flushes and closes the record file.
*/
func (rf *RecordFile) Close() error {
	if err := rf.Flush(); err != nil {
		rf.file.Close()
		return err
	}

	if err := rf.file.Close(); err != nil {
		return &RecordFileError{ErrIO, err.Error(), rf.name}
	}

	return nil
}
