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
	"reflect"
	"testing"

	"devt.de/krotik/common/testutil"
	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

/*
testCommands returns one command of every kind.
*/
func testCommands() []Command {
	nodeBefore := storage.NewNodeRecord(1)
	nodeAfter := storage.NewNodeRecord(1)
	nodeAfter.InUse = true
	nodeAfter.NextRel = 7
	nodeAfter.NextProp = 9
	nodeAfter.Labels = []uint32{2, 4}

	relBefore := storage.NewRelationshipRecord(7)
	relAfter := storage.NewRelationshipRecord(7)
	relAfter.InUse = true
	relAfter.FirstInStartChain = true
	relAfter.StartNode = 1
	relAfter.EndNode = 2
	relAfter.RelType = 3
	relAfter.StartPrev = 1

	groupBefore := storage.NewRelGroupRecord(4)
	groupAfter := storage.NewRelGroupRecord(4)
	groupAfter.InUse = true
	groupAfter.RelType = 3
	groupAfter.FirstOut = 7
	groupAfter.OwningNode = 1
	groupAfter.ExternalDegreesOut = true

	propBefore := storage.NewPropertyRecord(9)
	propAfter := storage.NewPropertyRecord(9)
	propAfter.InUse = true
	propAfter.Blocks[0] = storage.PropertyBlock{Key: 5, Type: storage.ValueTypeString, Value: 11}

	dynBefore := storage.NewDynamicRecord(11)
	dynAfter := storage.NewDynamicRecord(11)
	dynAfter.InUse = true
	dynAfter.Data = []byte("a longer string value")

	schemaBefore := storage.NewSchemaRecord(2)
	schemaAfter := storage.NewSchemaRecord(2)
	schemaAfter.InUse = true
	schemaAfter.RuleRef = 13

	ruleDynBefore := storage.NewDynamicRecord(13)
	ruleDynAfter := storage.NewDynamicRecord(13)
	ruleDynAfter.InUse = true
	ruleDynAfter.Data = []byte{1, 2, 3}

	tokenBefore := storage.NewTokenRecord(3)
	tokenAfter := storage.NewTokenRecord(3)
	tokenAfter.InUse = true
	tokenAfter.Kind = storage.TokenRelType
	tokenAfter.NameRef = 14

	nameDynBefore := storage.NewDynamicRecord(14)
	nameDynAfter := storage.NewDynamicRecord(14)
	nameDynAfter.InUse = true
	nameDynAfter.Data = []byte("KNOWS")

	metaBefore := &storage.MetaDataRecord{ID: storage.MetaPosKernelVersion, InUse: true, Value: 1}
	metaAfter := &storage.MetaDataRecord{ID: storage.MetaPosKernelVersion, InUse: true, Value: 2}

	return []Command{
		&SchemaCommand{Ver: Version1, Before: schemaBefore, After: schemaAfter,
			Rule: &schema.Rule{ID: 2, Kind: schema.KindIndex, Name: "idx",
				Label: 2, RelType: schema.NoToken, PropertyKeys: []int32{5}},
			Dynamic: []DynamicChange{{false, ruleDynBefore, ruleDynAfter}}},
		&TokenCommand{Ver: Version1, Before: tokenBefore, After: tokenAfter,
			Name: "KNOWS", Dynamic: []DynamicChange{{false, nameDynBefore, nameDynAfter}}},
		&NodeCommand{Ver: Version1, Before: nodeBefore, After: nodeAfter},
		&RelationshipCommand{Ver: Version1, Before: relBefore, After: relAfter},
		&RelGroupCommand{Ver: Version1, Before: groupBefore, After: groupAfter},
		&PropertyCommand{Ver: Version1, Before: propBefore, After: propAfter,
			Dynamic: []DynamicChange{{false, dynBefore, dynAfter}}},
		&CountsCommand{Ver: Version1, Key: counts.NodeKey(2), Delta: 1},
		&DegreesCommand{Ver: Version1, Key: counts.DegreeKey{Group: 4, Direction: 0}, Delta: 2},
		&MetaDataCommand{Ver: Version2, Before: metaBefore, After: metaAfter},
	}
}

func TestCommandRoundTrip(t *testing.T) {
	cmds := testCommands()

	var buf bytes.Buffer

	for _, cmd := range cmds {
		if err := Encode(&buf, cmd); err != nil {
			t.Error(err)
			return
		}
	}

	for _, cmd := range cmds {
		decoded, err := Decode(&buf)
		if err != nil {
			t.Error(err)
			return
		}

		if !reflect.DeepEqual(cmd, decoded) {
			t.Error("Round trip mismatch:\n", cmd, "\n", decoded)
			return
		}
	}

	// Serialization is deterministic

	var buf1, buf2 bytes.Buffer

	for _, cmd := range testCommands() {
		Encode(&buf1, cmd)
	}
	for _, cmd := range testCommands() {
		Encode(&buf2, cmd)
	}

	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Error("Serialization should be deterministic")
		return
	}
}

func TestLogWriterAndCursor(t *testing.T) {
	log := NewMemoryLog()

	b1 := &Batch{TxID: 1, Ver: Version1, Commands: testCommands()}
	b2 := &Batch{TxID: 2, Ver: Version1, Commands: testCommands()[:2]}

	if err := log.Append(b1); err != nil {
		t.Error(err)
		return
	}
	if err := log.Append(b2); err != nil {
		t.Error(err)
		return
	}

	if log.Entries() != 2 {
		t.Error("Unexpected number of log entries:", log.Entries())
		return
	}

	cursor, err := log.Cursor()
	if err != nil {
		t.Error(err)
		return
	}

	r1, err := cursor.Next()
	if err != nil {
		t.Error(err)
		return
	}

	if r1.TxID != 1 || r1.Ver != Version1 || len(r1.Commands) != len(b1.Commands) {
		t.Error("Unexpected first log entry:", r1)
		return
	}

	if !reflect.DeepEqual(r1.Commands, b1.Commands) {
		t.Error("Replayed commands should equal the appended commands")
		return
	}

	r2, err := cursor.Next()
	if err != nil {
		t.Error(err)
		return
	}

	if r2.TxID != 2 || len(r2.Commands) != 2 {
		t.Error("Unexpected second log entry:", r2)
		return
	}

	// The cursor reports the end of the log

	r3, err := cursor.Next()
	if err != nil || r3 != nil {
		t.Error("Unexpected result at end of log:", r3, err)
		return
	}

	// Garbage in the log is detected

	badCursor := NewLogCursor(bytes.NewBuffer([]byte{0xFF, 0xFF, 0x00}))
	if _, err := badCursor.Next(); err == nil {
		t.Error("Bad magic should cause an error")
		return
	}
}

func TestLogWriteErrors(t *testing.T) {
	b := &Batch{TxID: 1, Ver: Version1, Commands: testCommands()}

	// A failing sink surfaces as a storage I/O error

	lw := NewLogWriter(&testutil.ErrorTestingBuffer{RemainingSize: 5})

	err := lw.Append(b)
	if err == nil {
		t.Error("Writing to a full sink should cause an error")
		return
	}

	if se, ok := err.(*util.StorageError); !ok || se.Type != util.ErrStorageIO {
		t.Error("Unexpected error:", err)
		return
	}

	// An error while writing the commands is reported as well

	lw = NewLogWriter(&testutil.ErrorTestingBuffer{RemainingSize: 20})

	err = lw.Append(b)
	if err == nil {
		t.Error("Writing commands to a full sink should cause an error")
		return
	}

	if se, ok := err.(*util.StorageError); !ok || se.Type != util.ErrStorageIO {
		t.Error("Unexpected error:", err)
		return
	}
}
