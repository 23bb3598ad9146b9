/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package command

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"devt.de/krotik/recorddb/util"
)

/*
Batch is a list of commands of a single transaction. Batches can be
linked - the appliers process linked batches in link order, each with its
own transaction boundary.
*/
type Batch struct {
	TxID     uint64        // Transaction id of this batch
	Ver      KernelVersion // Kernel version tag of this transaction
	Commands []Command     // Ordered commands of this transaction
	Next     *Batch        // Next transaction of a linked batch
}

/*
String returns a string representation of this batch.
*/
func (b *Batch) String() string {
	return fmt.Sprintf("Batch %v (%v, %v commands)", b.TxID, b.Ver, len(b.Commands))
}

/*
LogEntryHeader is the magic number to identify transaction log entries
*/
var LogEntryHeader = []byte{0x52, 0x4C}

/*
TransactionLog is the append-only byte sink which the engine writes
serialized transactions to. A cursor provides replay access for recovery.
The physical log implementation is external to the engine.
*/
type TransactionLog interface {

	/*
		Append writes a single transaction to the log.
	*/
	Append(b *Batch) error

	/*
		Cursor returns a replay cursor over all logged transactions.
	*/
	Cursor() (*LogCursor, error)
}

/*
LogWriter serializes transactions to an underlying writer.
*/
type LogWriter struct {
	w io.Writer
}

/*
NewLogWriter creates a new log writer.
*/
func NewLogWriter(w io.Writer) *LogWriter {
	return &LogWriter{w}
}

/*
Append writes a single transaction entry.
*/
func (lw *LogWriter) Append(b *Batch) error {
	e := &encoder{lw.w, nil}

	e.write(LogEntryHeader)
	e.writeByte(byte(b.Ver))
	e.writeUInt64(b.TxID)
	e.writeUInt32(uint32(len(b.Commands)))

	if e.err != nil {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: e.err.Error()}
	}

	for _, c := range b.Commands {
		if err := Encode(lw.w, c); err != nil {
			return &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
		}
	}

	return nil
}

/*
LogCursor reads transactions back from an underlying reader.
*/
type LogCursor struct {
	r io.Reader
}

/*
NewLogCursor creates a new log cursor.
*/
func NewLogCursor(r io.Reader) *LogCursor {
	return &LogCursor{r}
}

/*
Next returns the next transaction of the log. At the end of the log nil
is returned.
*/
func (lc *LogCursor) Next() (*Batch, error) {
	d := &decoder{lc.r, nil}

	magic := d.read(2)
	if d.err == io.EOF {
		return nil, nil
	}

	if d.err != nil || magic[0] != LogEntryHeader[0] || magic[1] != LogEntryHeader[1] {
		return nil, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: "Bad magic for transaction log entry"}
	}

	b := &Batch{
		Ver:  KernelVersion(d.readByte()),
		TxID: d.readUInt64(),
	}

	count := d.readUInt32()
	if d.err != nil {
		return nil, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: d.err.Error()}
	}

	for i := uint32(0); i < count; i++ {
		c, err := Decode(lc.r)
		if err != nil {
			if err == io.EOF {
				err = &util.StorageError{Type: util.ErrFormatMismatch,
					Detail: "Truncated transaction log entry"}
			}
			return nil, err
		}

		b.Commands = append(b.Commands, c)
	}

	return b, nil
}

/*
MemoryLog is a transaction log which keeps all entries in memory. It is
used for testing and for embedded setups without a physical log.
*/
type MemoryLog struct {
	buf     bytes.Buffer // Serialized log entries
	entries int          // Number of appended transactions
	mutex   sync.Mutex   // Mutex for log operations
}

/*
NewMemoryLog creates a new empty in-memory transaction log.
*/
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

/*
Append writes a single transaction to the log.
*/
func (ml *MemoryLog) Append(b *Batch) error {
	ml.mutex.Lock()
	defer ml.mutex.Unlock()

	if err := NewLogWriter(&ml.buf).Append(b); err != nil {
		return err
	}

	ml.entries++

	return nil
}

/*
Cursor returns a replay cursor over all logged transactions.
*/
func (ml *MemoryLog) Cursor() (*LogCursor, error) {
	ml.mutex.Lock()
	defer ml.mutex.Unlock()

	data := make([]byte, ml.buf.Len())
	copy(data, ml.buf.Bytes())

	return NewLogCursor(bytes.NewBuffer(data)), nil
}

/*
Entries returns the number of appended transactions.
*/
func (ml *MemoryLog) Entries() int {
	ml.mutex.Lock()
	defer ml.mutex.Unlock()

	return ml.entries
}
