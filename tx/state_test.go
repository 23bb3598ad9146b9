/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package tx

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"

	"devt.de/krotik/common/fileutil"
	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

const DBDir = "txtest"

var dbCounter int

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

/*
testStores opens a fresh set of stores for a single test.
*/
func testStores(t *testing.T) *storage.Stores {
	dbCounter++

	ss, err := storage.OpenStores(fmt.Sprintf("%v/db%v", DBDir, dbCounter), false)
	if err != nil {
		t.Fatal(err)
	}

	return ss
}

/*
applyState writes all staged changes of a record state directly to the
stores. This simulates the store applier for state level tests.
*/
func applyState(t *testing.T, ss *storage.Stores, rs *RecordState) {
	var cmds []command.Command

	if err := rs.ExtractCommands(&cmds, command.Version1); err != nil {
		t.Fatal(err)
	}

	for _, cmd := range cmds {
		switch c := cmd.(type) {

		case *command.NodeCommand:
			ss.Nodes.Update(c.After, storage.DirectIDUpdates)
			applyDynamic(ss, c.Dynamic)
		case *command.RelationshipCommand:
			ss.Rels.Update(c.After, storage.DirectIDUpdates)
		case *command.RelGroupCommand:
			ss.Groups.Update(c.After, storage.DirectIDUpdates)
		case *command.PropertyCommand:
			ss.Props.Update(c.After, storage.DirectIDUpdates)
			applyDynamic(ss, c.Dynamic)
		case *command.SchemaCommand:
			ss.Schema.Update(c.After, storage.DirectIDUpdates)
			applyDynamic(ss, c.Dynamic)
		case *command.TokenCommand:
			ss.Tokens.Update(c.After, storage.DirectIDUpdates)
			applyDynamic(ss, c.Dynamic)
		}
	}
}

func applyDynamic(ss *storage.Stores, changes []command.DynamicChange) {
	for _, dc := range changes {
		if dc.Array {
			ss.Arrays.Update(dc.After, storage.DirectIDUpdates)
		} else {
			ss.Strings.Update(dc.After, storage.DirectIDUpdates)
		}
	}
}

func TestRelationshipChainSurgery(t *testing.T) {
	ss := testStores(t)
	defer ss.Close()

	rs := NewRecordState(ss, nil, 50, false, nil)

	n1, _ := ss.Nodes.NextID()
	n2, _ := ss.Nodes.NextID()

	rs.NodeCreate(n1)
	rs.NodeCreate(n2)

	r1, _ := ss.Rels.NextID()
	r2, _ := ss.Rels.NextID()
	r3, _ := ss.Rels.NextID()

	if err := rs.RelCreate(r1, 3, n1, n2); err != nil {
		t.Error(err)
		return
	}
	if err := rs.RelCreate(r2, 3, n1, n2); err != nil {
		t.Error(err)
		return
	}
	if err := rs.RelCreate(r3, 3, n1, n2); err != nil {
		t.Error(err)
		return
	}

	// The chain head is the last inserted relationship and its prev
	// reference holds the chain degree

	nc := rs.nodes[n1]
	if nc.After.NextRel != r3 {
		t.Error("Unexpected chain head:", nc.After.NextRel)
		return
	}

	head := rs.rels[r3]
	if !head.After.FirstForNode(n1) || head.After.PrevForNode(n1) != 3 {
		t.Error("Unexpected chain head record:", head.After)
		return
	}

	if head.After.NextForNode(n1) != r2 {
		t.Error("Unexpected chain order")
		return
	}

	mid := rs.rels[r2]
	if mid.After.FirstForNode(n1) || mid.After.PrevForNode(n1) != r3 ||
		mid.After.NextForNode(n1) != r1 {
		t.Error("Unexpected middle chain record:", mid.After)
		return
	}

	// Deleting the middle relationship relinks the neighbours and
	// decrements the degree in the head

	if err := rs.RelDelete(r2); err != nil {
		t.Error(err)
		return
	}

	if head.After.PrevForNode(n1) != 2 || head.After.NextForNode(n1) != r1 {
		t.Error("Unexpected head after middle deletion:", head.After)
		return
	}

	tail := rs.rels[r1]
	if tail.After.PrevForNode(n1) != r3 {
		t.Error("Unexpected tail after middle deletion:", tail.After)
		return
	}

	if rs.rels[r2].After.InUse {
		t.Error("Deleted relationship should not be in use")
		return
	}

	// Deleting the head promotes the next relationship

	if err := rs.RelDelete(r3); err != nil {
		t.Error(err)
		return
	}

	if nc.After.NextRel != r1 {
		t.Error("Unexpected chain head after head deletion")
		return
	}

	if !tail.After.FirstForNode(n1) || tail.After.PrevForNode(n1) != 1 {
		t.Error("Promoted head should carry the degree:", tail.After)
		return
	}
}

func TestNodeDeleteValidation(t *testing.T) {
	ss := testStores(t)
	defer ss.Close()

	rs := NewRecordState(ss, nil, 50, false, nil)

	n1, _ := ss.Nodes.NextID()
	n2, _ := ss.Nodes.NextID()
	r1, _ := ss.Rels.NextID()

	rs.NodeCreate(n1)
	rs.NodeCreate(n2)
	rs.RelCreate(r1, 1, n1, n2)

	// Deleting a node with relationships fails with a validation error

	err := rs.NodeDelete(n1)
	if err == nil {
		t.Error("Deleting a node with relationships should cause an error")
		return
	}

	se, ok := err.(*util.StorageError)
	if !ok || se.Type != util.ErrValidation {
		t.Error("Unexpected error:", err)
		return
	}

	if !strings.Contains(err.Error(), "Cannot delete node") ||
		!strings.Contains(err.Error(), "because it still has relationships") {
		t.Error("Unexpected error message:", err)
		return
	}

	// After removing the relationship the deletion succeeds

	if err := rs.RelDelete(r1); err != nil {
		t.Error(err)
		return
	}

	if err := rs.NodeDelete(n1); err != nil {
		t.Error(err)
		return
	}

	if rs.nodes[n1].After.InUse {
		t.Error("Deleted node should not be in use")
		return
	}
}

func TestDenseNodeConversion(t *testing.T) {
	ss := testStores(t)
	defer ss.Close()

	rs := NewRecordState(ss, nil, 10, false, nil)

	n1, _ := ss.Nodes.NextID()
	rs.NodeCreate(n1)

	otherNodes := make([]uint64, 10)
	relIDs := make([]uint64, 10)

	for i := 0; i < 10; i++ {
		otherNodes[i], _ = ss.Nodes.NextID()
		rs.NodeCreate(otherNodes[i])

		relIDs[i], _ = ss.Rels.NextID()

		if err := rs.RelCreate(relIDs[i], 3, n1, otherNodes[i]); err != nil {
			t.Error(err)
			return
		}
	}

	// Crossing the dense threshold switches the node to group chains

	nc := rs.nodes[n1]
	if !nc.After.Dense {
		t.Error("Node should have become dense")
		return
	}

	gc, err := rs.findGroup(nc, 3)
	if err != nil {
		t.Error(err)
		return
	}

	if gc.After.OwningNode != n1 || gc.After.FirstIn != storage.NilID ||
		gc.After.FirstLoop != storage.NilID {
		t.Error("Unexpected group record:", gc.After)
		return
	}

	// All relationships stay reachable through the group chain and the
	// head carries the degree

	var count int
	var seen = make(map[uint64]bool)

	first := true

	for id := gc.After.FirstOut; id != storage.NilID; {
		rc := rs.rels[id]

		if first && (!rc.After.FirstForNode(n1) || rc.After.PrevForNode(n1) != 10) {
			t.Error("Group chain head should carry the degree:", rc.After)
			return
		}

		first = false
		seen[id] = true
		count++

		id = rc.After.NextForNode(n1)
	}

	if count != 10 {
		t.Error("Unexpected number of relationships in group chain:", count)
		return
	}

	for _, id := range relIDs {
		if !seen[id] {
			t.Error("Relationship missing from group chain:", id)
			return
		}
	}

	// Inserting into the dense node goes through the group

	extra, _ := ss.Rels.NextID()
	n12, _ := ss.Nodes.NextID()
	rs.NodeCreate(n12)

	if err := rs.RelCreate(extra, 3, n1, n12); err != nil {
		t.Error(err)
		return
	}

	if gc.After.FirstOut != extra || rs.rels[extra].After.PrevForNode(n1) != 11 {
		t.Error("Dense insertion should go through the group chain")
		return
	}

	// A different type gets its own group - groups stay sorted by type

	extra2, _ := ss.Rels.NextID()

	if err := rs.RelCreate(extra2, 1, n1, n12); err != nil {
		t.Error(err)
		return
	}

	firstGroup := rs.groups[nc.After.NextRel]
	if firstGroup.After.RelType != 1 || firstGroup.After.Next != gc.After.ID {
		t.Error("Group chain should be sorted by relationship type")
		return
	}
}

func TestPropertyChains(t *testing.T) {
	ss := testStores(t)
	defer ss.Close()

	rs := NewRecordState(ss, nil, 50, false, nil)

	n1, _ := ss.Nodes.NextID()
	rs.NodeCreate(n1)

	// Fill more blocks than a single record can hold

	for i := 0; i < 4; i++ {
		if err := rs.SetNodeProperty(n1, uint32(i), int64(i*100)); err != nil {
			t.Error(err)
			return
		}
	}

	keys, err := rs.NodePropertyKeys(n1)
	if err != nil {
		t.Error(err)
		return
	}

	if len(keys) != 4 {
		t.Error("Unexpected number of property keys:", keys)
		return
	}

	// The chain has two records now

	nc := rs.nodes[n1]
	headProp := rs.props[nc.After.NextProp]

	if headProp.After.NextProp == storage.NilID {
		t.Error("Property chain should have a second record")
		return
	}

	// Changing a value rewrites its block in place

	if err := rs.SetNodeProperty(n1, 1, int64(4711)); err != nil {
		t.Error(err)
		return
	}

	if keys, _ = rs.NodePropertyKeys(n1); len(keys) != 4 {
		t.Error("Changing a value should not add a block:", keys)
		return
	}

	// Long strings go to the string store

	if err := rs.SetNodeProperty(n1, 9, "this is a long string which does not fit inline"); err != nil {
		t.Error(err)
		return
	}

	if len(rs.strings) == 0 {
		t.Error("Long string should be staged in the string store")
		return
	}

	// Removing properties coalesces empty records out of the chain

	for i := 0; i < 4; i++ {
		if err := rs.RemoveNodeProperty(n1, uint32(i)); err != nil {
			t.Error(err)
			return
		}
	}

	keys, _ = rs.NodePropertyKeys(n1)
	if len(keys) != 1 || keys[0] != 9 {
		t.Error("Unexpected property keys after removal:", keys)
		return
	}

	if err := rs.RemoveNodeProperty(n1, 9); err != nil {
		t.Error(err)
		return
	}

	if nc.After.NextProp != storage.NilID {
		t.Error("Property chain should be empty")
		return
	}
}

func TestLabelSpill(t *testing.T) {
	ss := testStores(t)
	defer ss.Close()

	rs := NewRecordState(ss, nil, 50, false, nil)

	n1, _ := ss.Nodes.NextID()
	rs.NodeCreate(n1)

	for i := 1; i <= 6; i++ {
		if err := rs.AddLabel(n1, uint32(i)); err != nil {
			t.Error(err)
			return
		}
	}

	nc := rs.nodes[n1]

	if nc.After.LabelRef == storage.NilID || nc.After.Labels != nil {
		t.Error("Labels should have spilled to the array store")
		return
	}

	labels, err := rs.NodeLabels(n1)
	if err != nil {
		t.Error(err)
		return
	}

	if len(labels) != 6 || labels[0] != 1 || labels[5] != 6 {
		t.Error("Unexpected spilled labels:", labels)
		return
	}

	// Removing labels brings them back inline

	rs.RemoveLabel(n1, 5)
	rs.RemoveLabel(n1, 6)

	if nc.After.LabelRef != storage.NilID || len(nc.After.Labels) != 4 {
		t.Error("Labels should be inline again:", nc.After)
		return
	}

	// Adding the same label twice has no effect

	rs.AddLabel(n1, 1)

	if len(nc.After.Labels) != 4 {
		t.Error("Duplicate label should have no effect")
		return
	}
}

func TestChainSurgeryAgainstStore(t *testing.T) {
	ss := testStores(t)
	defer ss.Close()

	// First transaction creates two connected nodes

	rs := NewRecordState(ss, nil, 50, false, nil)

	n1, _ := ss.Nodes.NextID()
	n2, _ := ss.Nodes.NextID()
	r1, _ := ss.Rels.NextID()

	rs.NodeCreate(n1)
	rs.NodeCreate(n2)
	rs.RelCreate(r1, 7, n1, n2)

	applyState(t, ss, rs)

	// Second transaction loads the stored records as before images

	rs2 := NewRecordState(ss, nil, 50, false, nil)

	r2, _ := ss.Rels.NextID()

	if err := rs2.RelCreate(r2, 7, n1, n2); err != nil {
		t.Error(err)
		return
	}

	// The before image of the old head was read from the store

	oldHead := rs2.rels[r1]

	if !oldHead.Before.FirstInStartChain || oldHead.Before.StartPrev != 1 {
		t.Error("Unexpected before image:", oldHead.Before)
		return
	}

	if oldHead.After.FirstInStartChain || oldHead.After.StartPrev != r2 {
		t.Error("Unexpected after image:", oldHead.After)
		return
	}

	newHead := rs2.rels[r2]
	if newHead.After.PrevForNode(n1) != 2 {
		t.Error("New head should carry the incremented degree")
		return
	}
}

func TestLockAcquisition(t *testing.T) {
	ss := testStores(t)
	defer ss.Close()

	locker := &recordingLocker{}
	rs := NewRecordState(ss, nil, 50, false, locker)

	n1, _ := ss.Nodes.NextID()
	n2, _ := ss.Nodes.NextID()
	r1, _ := ss.Rels.NextID()

	rs.NodeCreate(n1)
	rs.NodeCreate(n2)
	rs.RelCreate(r1, 1, n1, n2)

	if !locker.holds(ResourceNode, n1) || !locker.holds(ResourceNode, n2) {
		t.Error("Both endpoint nodes should be locked")
		return
	}

	if !locker.holds(ResourceRelationship, r1) {
		t.Error("The created relationship should be locked")
		return
	}
}

/*
recordingLocker records all acquired locks.
*/
type recordingLocker struct {
	nodes []uint64
	rels  []uint64
}

func (l *recordingLocker) AcquireExclusive(rt ResourceType, ids ...uint64) error {
	if rt == ResourceNode {
		l.nodes = append(l.nodes, ids...)
	} else {
		l.rels = append(l.rels, ids...)
	}
	return nil
}

func (l *recordingLocker) HoldsExclusive(rt ResourceType, id uint64) bool {
	return l.holds(rt, id)
}

func (l *recordingLocker) holds(rt ResourceType, id uint64) bool {
	list := l.nodes
	if rt == ResourceRelationship {
		list = l.rels
	}

	for _, lid := range list {
		if lid == id {
			return true
		}
	}

	return false
}
