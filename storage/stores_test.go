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
	"flag"
	"fmt"
	"os"
	"testing"

	"devt.de/krotik/common/fileutil"
	"devt.de/krotik/recorddb/util"
)

const DBDir = "storestest"

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

func TestStoresOpenAndRecordRoundTrip(t *testing.T) {
	ss, err := OpenStores(DBDir+"/db1", false)
	if err != nil {
		t.Error(err)
		return
	}

	// Node records

	nr := NewNodeRecord(1)
	nr.InUse = true
	nr.Dense = true
	nr.NextRel = 42
	nr.NextProp = 43
	nr.Labels = []uint32{2, 5}

	if err := ss.Nodes.Update(nr, DirectIDUpdates); err != nil {
		t.Error(err)
		return
	}

	nr2, err := ss.Nodes.Get(1, LoadNormal)
	if err != nil {
		t.Error(err)
		return
	}

	if !nr2.InUse || !nr2.Dense || nr2.NextRel != 42 || nr2.NextProp != 43 ||
		len(nr2.Labels) != 2 || nr2.Labels[0] != 2 || nr2.Labels[1] != 5 ||
		nr2.LabelRef != NilID {
		t.Error("Unexpected node record:", nr2)
		return
	}

	// Reading a record which is not in use fails in normal mode

	if _, err := ss.Nodes.Get(2, LoadNormal); err == nil {
		t.Error("Reading a record which is not in use should cause an error")
		return
	} else if se, ok := err.(*util.StorageError); !ok || se.Type != util.ErrRecordNotInUse {
		t.Error("Unexpected error:", err)
		return
	}

	if _, err := ss.Nodes.Get(2, LoadAlways); err != nil {
		t.Error("Load always should not fail:", err)
		return
	}

	if nr3, err := ss.Nodes.Get(2, LoadCheck); err != nil || nr3.InUse {
		t.Error("Load check should report the record as not in use")
		return
	}

	// Relationship records

	rr := NewRelationshipRecord(1)
	rr.InUse = true
	rr.FirstInStartChain = true
	rr.StartNode = 1
	rr.EndNode = 7
	rr.RelType = 3
	rr.StartPrev = 1
	rr.EndNext = 9

	if err := ss.Rels.Update(rr, DirectIDUpdates); err != nil {
		t.Error(err)
		return
	}

	rr2, err := ss.Rels.Get(1, LoadNormal)
	if err != nil {
		t.Error(err)
		return
	}

	if !rr2.FirstInStartChain || rr2.FirstInEndChain || rr2.StartNode != 1 ||
		rr2.EndNode != 7 || rr2.RelType != 3 || rr2.StartPrev != 1 ||
		rr2.StartNext != NilID || rr2.EndNext != 9 {
		t.Error("Unexpected relationship record:", rr2)
		return
	}

	// Chain helpers pick the right pointer side

	if rr2.PrevForNode(1) != 1 || rr2.NextForNode(7) != 9 {
		t.Error("Unexpected chain references")
		return
	}

	if rr2.DirectionFor(1) != DirectionOutgoing || rr2.DirectionFor(7) != DirectionIncoming {
		t.Error("Unexpected chain directions")
		return
	}

	// Property records

	pr := NewPropertyRecord(1)
	pr.InUse = true
	pr.Blocks[0] = PropertyBlock{Key: 11, Type: ValueTypeInt, Value: 4711}

	if err := ss.Props.Update(pr, DirectIDUpdates); err != nil {
		t.Error(err)
		return
	}

	pr2, err := ss.Props.Get(1, LoadNormal)
	if err != nil {
		t.Error(err)
		return
	}

	if pr2.UsedBlocks() != 1 || pr2.Blocks[0].Key != 11 || pr2.Blocks[0].Value != 4711 ||
		pr2.Blocks[1].InUse() {
		t.Error("Unexpected property record:", pr2)
		return
	}

	// Meta data store values

	if err := ss.Meta.SetValue(MetaPosKernelVersion, 2); err != nil {
		t.Error(err)
		return
	}

	if v, set, err := ss.Meta.Value(MetaPosKernelVersion); err != nil || !set || v != 2 {
		t.Error("Unexpected meta data value:", v, set, err)
		return
	}

	if _, set, err := ss.Meta.Value(MetaPosUpgradeTime); err != nil || set {
		t.Error("Unset meta data position should report as not set")
		return
	}

	if err := ss.Close(); err != nil {
		t.Error(err)
		return
	}
}

func TestDynamicChains(t *testing.T) {
	ss, err := OpenStores(DBDir+"/db2", false)
	if err != nil {
		t.Error(err)
		return
	}
	defer ss.Close()

	// Store a value which spans multiple dynamic records

	data := make([]byte, DynamicPayloadSize*2+10)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := ChunkDynamicData(data)
	if len(chunks) != 3 {
		t.Error("Unexpected number of chunks:", len(chunks))
		return
	}

	var first, prev *DynamicRecord

	for _, chunk := range chunks {
		id, _ := ss.Strings.NextID()

		dr := NewDynamicRecord(id)
		dr.InUse = true
		dr.Data = chunk

		if prev != nil {
			prev.Next = id
			if err := ss.Strings.Update(prev, DirectIDUpdates); err != nil {
				t.Error(err)
				return
			}
		}

		if first == nil {
			first = dr
		}

		prev = dr
	}

	if err := ss.Strings.Update(prev, DirectIDUpdates); err != nil {
		t.Error(err)
		return
	}

	read, err := ss.Strings.ReadChain(first.ID)
	if err != nil {
		t.Error(err)
		return
	}

	if len(read) != len(data) {
		t.Error("Unexpected chain data length:", len(read))
		return
	}

	for i := range read {
		if read[i] != data[i] {
			t.Error("Unexpected chain data at position", i)
			return
		}
	}
}

func TestShortStringPacking(t *testing.T) {
	packed, length, ok := PackShortString("hello")
	if !ok || length != 5 {
		t.Error("Unexpected packing result:", packed, length, ok)
		return
	}

	if UnpackShortString(packed, length) != "hello" {
		t.Error("Unexpected unpacked string:", UnpackShortString(packed, length))
		return
	}

	if _, _, ok := PackShortString("this is too long"); ok {
		t.Error("Long string should not pack")
		return
	}
}
