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
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"devt.de/krotik/common/fileutil"
)

const DBDir = "recordfiletest"

func TestMain(m *testing.M) {
	flag.Parse()

	// Setup
	if res, _ := fileutil.PathExists(DBDir); res {
		os.RemoveAll(DBDir)
	}

	err := os.Mkdir(DBDir, 0770)
	if err != nil {
		fmt.Print("Could not create test directory:", err.Error())
		os.Exit(1)
	}

	// Run the tests
	res := m.Run()

	// Teardown
	err = os.RemoveAll(DBDir)
	if err != nil {
		fmt.Print("Could not remove test directory:", err.Error())
	}

	os.Exit(res)
}

func TestRecordFileStoreAndRetrieve(t *testing.T) {
	rf, err := OpenRecordFile(DBDir+"/test1.db", 1, 32, 1, false)
	if err != nil {
		t.Error(err)
		return
	}

	if rf.RecordSize() != 32 || rf.ReservedLowIDs() != 1 {
		t.Error("Unexpected record file parameters")
		return
	}

	if rf.HighID() != 1 {
		t.Error("Unexpected high id of empty file:", rf.HighID())
		return
	}

	rec := rf.NewRecord(3)
	rec.WriteUInt64(0, 4711)

	if err := rf.Put(rec); err != nil {
		t.Error(err)
		return
	}

	if rec.Dirty() {
		t.Error("Record should be clean after a put")
		return
	}

	if rf.HighID() != 4 {
		t.Error("Unexpected high id after write:", rf.HighID())
		return
	}

	// Records which were never written read as zero

	rec2, err := rf.Get(2)
	if err != nil {
		t.Error(err)
		return
	}

	if rec2.ReadUInt64(0) != 0 {
		t.Error("Unexpected data in unwritten record")
		return
	}

	rec3, err := rf.Get(3)
	if err != nil {
		t.Error(err)
		return
	}

	if rec3.ReadUInt64(0) != 4711 {
		t.Error("Unexpected record data:", rec3.ReadUInt64(0))
		return
	}

	if err := rf.Close(); err != nil {
		t.Error(err)
		return
	}

	// Reopen and check the data survived

	rf, err = OpenRecordFile(DBDir+"/test1.db", 1, 32, 1, false)
	if err != nil {
		t.Error(err)
		return
	}

	if rf.HighID() != 4 {
		t.Error("Unexpected high id after reopen:", rf.HighID())
		return
	}

	rec3, err = rf.Get(3)
	if err != nil {
		t.Error(err)
		return
	}

	if rec3.ReadUInt64(0) != 4711 {
		t.Error("Unexpected record data after reopen:", rec3.ReadUInt64(0))
		return
	}

	rf.Close()
}

func TestRecordFileHeaderChecks(t *testing.T) {
	rf, err := OpenRecordFile(DBDir+"/test2.db", 1, 32, 1, false)
	if err != nil {
		t.Error(err)
		return
	}
	rf.Close()

	// A wrong record size must be detected

	if _, err := OpenRecordFile(DBDir+"/test2.db", 1, 64, 1, false); err == nil {
		t.Error("Record size mismatch should cause an error")
		return
	} else if rfe, ok := err.(*RecordFileError); !ok || rfe.Type != ErrRecordSize {
		t.Error("Unexpected error:", err)
		return
	}

	// A wrong version must be detected

	if _, err := OpenRecordFile(DBDir+"/test2.db", 2, 32, 1, false); err == nil {
		t.Error("Version mismatch should cause an error")
		return
	} else if rfe, ok := err.(*RecordFileError); !ok || rfe.Type != ErrVersionMismatch {
		t.Error("Unexpected error:", err)
		return
	}

	// A corrupted magic must be detected

	if err := ioutil.WriteFile(DBDir+"/test3.db", []byte("XXXXXXXXXXXXXXXX"), 0660); err != nil {
		t.Error(err)
		return
	}

	if _, err := OpenRecordFile(DBDir+"/test3.db", 1, 32, 1, false); err == nil {
		t.Error("Bad magic should cause an error")
		return
	}

	// Read-only mode rejects writes and missing files

	if _, err := OpenRecordFile(DBDir+"/missing.db", 1, 32, 1, true); err == nil {
		t.Error("Opening a missing file read-only should cause an error")
		return
	}

	rf, err = OpenRecordFile(DBDir+"/test2.db", 1, 32, 1, true)
	if err != nil {
		t.Error(err)
		return
	}

	if err := rf.Put(rf.NewRecord(1)); err == nil {
		t.Error("Writing to a read-only file should cause an error")
		return
	}

	rf.Close()
}
