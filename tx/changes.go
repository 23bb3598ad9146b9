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
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
)

/*
The change structures stage pending record mutations of one transaction.
Every staged record carries a before and an after image of the same id.
On the first touch of a record id the current record is read from its
store as the before image - all edits go to the after image.
*/

/*
NodeChange is a staged node record mutation.
*/
type NodeChange struct {
	Before  *storage.NodeRecord // Record image at transaction start
	After   *storage.NodeRecord // Record image with staged edits
	Created bool                // Flag if the record is created by this transaction
	Changed bool                // Flag if the after image was edited
	Dynamic []uint64            // Array store records of spilled labels
}

/*
RelChange is a staged relationship record mutation.
*/
type RelChange struct {
	Before  *storage.RelationshipRecord
	After   *storage.RelationshipRecord
	Created bool
	Changed bool
}

/*
GroupChange is a staged relationship group record mutation.
*/
type GroupChange struct {
	Before  *storage.RelGroupRecord
	After   *storage.RelGroupRecord
	Created bool
	Changed bool
}

/*
PropChange is a staged property record mutation. The ids of dynamic
records which were staged for the values of this record are tracked so
the extracted property command can carry them.
*/
type PropChange struct {
	Before  *storage.PropertyRecord
	After   *storage.PropertyRecord
	Created bool
	Changed bool
	Dynamic []dynRef // Dynamic records belonging to this property record
}

/*
dynRef references a staged dynamic record.
*/
type dynRef struct {
	array bool   // Flag if the record lives in the array store
	id    uint64 // Record id
}

/*
DynChange is a staged dynamic record mutation.
*/
type DynChange struct {
	Before  *storage.DynamicRecord
	After   *storage.DynamicRecord
	Created bool
	Changed bool
}

/*
SchemaChange is a staged schema record mutation.
*/
type SchemaChange struct {
	Before  *storage.SchemaRecord
	After   *storage.SchemaRecord
	Rule    *schema.Rule // Rule body for rule creations
	Created bool
	Changed bool
	Dynamic []uint64 // String store records of the rule body
}

/*
TokenChange is a staged token record mutation.
*/
type TokenChange struct {
	Before  *storage.TokenRecord
	After   *storage.TokenRecord
	Name    string   // Name of the created token
	Created bool
	Changed bool
	Dynamic []uint64 // String store records of the token name
}

// Load-or-create access
// =====================

/*
loadNode stages a node record. The first touch reads the current record
from the node store.
*/
func (rs *RecordState) loadNode(id uint64) (*NodeChange, error) {
	if nc, ok := rs.nodes[id]; ok {
		return nc, nil
	}

	before, err := rs.stores.Nodes.Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	nc := &NodeChange{before, before.Copy(), false, false, nil}
	rs.nodes[id] = nc

	return nc, nil
}

/*
createNode stages a new node record.
*/
func (rs *RecordState) createNode(id uint64) *NodeChange {
	after := storage.NewNodeRecord(id)
	after.InUse = true

	nc := &NodeChange{storage.NewNodeRecord(id), after, true, true, nil}
	rs.nodes[id] = nc

	return nc
}

/*
loadRel stages a relationship record.
*/
func (rs *RecordState) loadRel(id uint64) (*RelChange, error) {
	if rc, ok := rs.rels[id]; ok {
		return rc, nil
	}

	before, err := rs.stores.Rels.Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	rc := &RelChange{before, before.Copy(), false, false}
	rs.rels[id] = rc

	return rc, nil
}

/*
createRel stages a new relationship record.
*/
func (rs *RecordState) createRel(id uint64) *RelChange {
	after := storage.NewRelationshipRecord(id)
	after.InUse = true

	rc := &RelChange{storage.NewRelationshipRecord(id), after, true, true}
	rs.rels[id] = rc

	return rc
}

/*
loadGroup stages a relationship group record.
*/
func (rs *RecordState) loadGroup(id uint64) (*GroupChange, error) {
	if gc, ok := rs.groups[id]; ok {
		return gc, nil
	}

	before, err := rs.stores.Groups.Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	gc := &GroupChange{before, before.Copy(), false, false}
	rs.groups[id] = gc

	return gc, nil
}

/*
createGroup stages a new relationship group record.
*/
func (rs *RecordState) createGroup(id uint64) *GroupChange {
	after := storage.NewRelGroupRecord(id)
	after.InUse = true

	gc := &GroupChange{storage.NewRelGroupRecord(id), after, true, true}
	rs.groups[id] = gc

	return gc
}

/*
loadProp stages a property record.
*/
func (rs *RecordState) loadProp(id uint64) (*PropChange, error) {
	if pc, ok := rs.props[id]; ok {
		return pc, nil
	}

	before, err := rs.stores.Props.Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	pc := &PropChange{before, before.Copy(), false, false, nil}
	rs.props[id] = pc

	return pc, nil
}

/*
createProp stages a new property record.
*/
func (rs *RecordState) createProp(id uint64) *PropChange {
	after := storage.NewPropertyRecord(id)
	after.InUse = true

	pc := &PropChange{storage.NewPropertyRecord(id), after, true, true, nil}
	rs.props[id] = pc

	return pc
}

/*
dynMap returns the staging map for the string or array store.
*/
func (rs *RecordState) dynMap(array bool) map[uint64]*DynChange {
	if array {
		return rs.arrays
	}
	return rs.strings
}

/*
dynStore returns the string or array store.
*/
func (rs *RecordState) dynStore(array bool) *storage.DynamicStore {
	if array {
		return rs.stores.Arrays
	}
	return rs.stores.Strings
}

/*
loadDynamic stages a dynamic record.
*/
func (rs *RecordState) loadDynamic(array bool, id uint64) (*DynChange, error) {
	m := rs.dynMap(array)

	if dc, ok := m[id]; ok {
		return dc, nil
	}

	before, err := rs.dynStore(array).Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	dc := &DynChange{before, before.Copy(), false, false}
	m[id] = dc

	return dc, nil
}

/*
createDynamic stages a new dynamic record.
*/
func (rs *RecordState) createDynamic(array bool, id uint64) *DynChange {
	after := storage.NewDynamicRecord(id)
	after.InUse = true

	dc := &DynChange{storage.NewDynamicRecord(id), after, true, true}
	rs.dynMap(array)[id] = dc

	return dc
}

/*
stageDynamicData allocates and stages a dynamic record chain for a given
byte slice. The id of the first record of the chain is returned together
with the ids of all staged records.
*/
func (rs *RecordState) stageDynamicData(array bool, data []byte) (uint64, []uint64, error) {
	chunks := storage.ChunkDynamicData(data)

	var first uint64 = storage.NilID
	var prev *DynChange
	var ids []uint64

	for _, chunk := range chunks {
		id, err := rs.dynStore(array).NextID()
		if err != nil {
			return storage.NilID, nil, err
		}

		dc := rs.createDynamic(array, id)
		dc.After.Data = append([]byte(nil), chunk...)

		if prev == nil {
			first = id
		} else {
			prev.After.Next = id
		}

		prev = dc
		ids = append(ids, id)
	}

	return first, ids, nil
}

/*
freeDynamicChain stages the deletion of a dynamic record chain.
*/
func (rs *RecordState) freeDynamicChain(array bool, start uint64) ([]uint64, error) {
	var ids []uint64

	for id := start; id != storage.NilID; {
		dc, err := rs.loadDynamic(array, id)
		if err != nil {
			return nil, err
		}

		id = dc.After.Next

		dc.After.InUse = false
		dc.After.Next = storage.NilID
		dc.After.Data = nil
		dc.Changed = true

		ids = append(ids, dc.After.ID)
	}

	return ids, nil
}

/*
readDynamicData reads the full contents of a dynamic record chain
honouring staged changes.
*/
func (rs *RecordState) readDynamicData(array bool, start uint64) ([]byte, error) {
	var data []byte

	for id := start; id != storage.NilID; {
		dc, err := rs.loadDynamic(array, id)
		if err != nil {
			return nil, err
		}

		data = append(data, dc.After.Data...)
		id = dc.After.Next
	}

	return data, nil
}
