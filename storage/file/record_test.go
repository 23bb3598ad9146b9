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
	"testing"
)

func TestRecordAccessors(t *testing.T) {
	r := NewRecord(5, make([]byte, 32))

	if r.ID() != 5 {
		t.Error("Unexpected record id:", r.ID())
		return
	}

	r.SetID(7)
	if r.ID() != 7 {
		t.Error("Unexpected record id:", r.ID())
		return
	}

	if r.Dirty() {
		t.Error("New record should not be dirty")
		return
	}

	r.WriteSingleByte(0, 0x42)
	if !r.Dirty() {
		t.Error("Record should be dirty after a write")
		return
	}

	if r.ReadSingleByte(0) != 0x42 {
		t.Error("Unexpected byte value:", r.ReadSingleByte(0))
		return
	}

	r.ClearDirty()
	if r.Dirty() {
		t.Error("Record should not be dirty after clear")
		return
	}

	r.WriteUInt16(1, 0xBEEF)
	if r.ReadUInt16(1) != 0xBEEF {
		t.Error("Unexpected uint16 value:", r.ReadUInt16(1))
		return
	}

	r.WriteUInt32(3, 0xDEADBEEF)
	if r.ReadUInt32(3) != 0xDEADBEEF {
		t.Error("Unexpected uint32 value:", r.ReadUInt32(3))
		return
	}

	r.WriteUInt64(7, 0xFEEDFACEDEADBEEF)
	if r.ReadUInt64(7) != 0xFEEDFACEDEADBEEF {
		t.Error("Unexpected uint64 value:", r.ReadUInt64(7))
		return
	}

	// Check the values are stored big-endian

	if r.ReadSingleByte(1) != 0xBE || r.ReadSingleByte(2) != 0xEF {
		t.Error("Unexpected byte order")
		return
	}

	r.WriteBytes(15, []byte{1, 2, 3})
	data := r.ReadBytes(15, 3)
	if data[0] != 1 || data[1] != 2 || data[2] != 3 {
		t.Error("Unexpected byte slice:", data)
		return
	}

	r.ClearData()
	if r.ReadUInt64(7) != 0 || r.Dirty() {
		t.Error("Record should be empty after data clear")
		return
	}
}
