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
	"testing"
)

func TestIDGeneratorAllocation(t *testing.T) {
	gen, err := OpenIDGenerator(DBDir+"/test.ids", 1)
	if err != nil {
		t.Error(err)
		return
	}

	id1, _ := gen.Allocate()
	id2, _ := gen.Allocate()

	if id1 != 1 || id2 != 2 {
		t.Error("Unexpected allocated ids:", id1, id2)
		return
	}

	if gen.HighID() != 3 {
		t.Error("Unexpected high id:", gen.HighID())
		return
	}

	// Freed ids are not reusable before a checkpoint

	gen.Free(id1)

	id3, _ := gen.Allocate()
	if id3 != 3 {
		t.Error("Freed id should not be reusable before checkpoint:", id3)
		return
	}

	// Freeing the same id twice has no effect

	gen.Free(id1)

	if err := gen.Checkpoint(); err != nil {
		t.Error(err)
		return
	}

	id4, _ := gen.Allocate()
	if id4 != id1 {
		t.Error("Freed id should be reused after checkpoint:", id4)
		return
	}

	id5, _ := gen.Allocate()
	if id5 != 4 {
		t.Error("Unexpected allocated id:", id5)
		return
	}

	// Mark removes an id from the free list and advances the high id

	gen.Free(id5)
	gen.Checkpoint()

	gen.Mark(id5)
	gen.Mark(10)

	id6, _ := gen.Allocate()
	if id6 != 11 {
		t.Error("Unexpected allocated id after mark:", id6)
		return
	}

	if err := gen.Close(); err != nil {
		t.Error(err)
		return
	}

	// Reopen and check the state survived

	gen, err = OpenIDGenerator(DBDir+"/test.ids", 1)
	if err != nil {
		t.Error(err)
		return
	}

	if gen.HighID() != 12 {
		t.Error("Unexpected high id after reopen:", gen.HighID())
		return
	}

	gen.Close()
}
