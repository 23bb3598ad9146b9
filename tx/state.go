/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package tx contains the transaction record state of the storage engine.

The record state is the per-transaction staging buffer for record level
changes. The logical transaction state is visited through a Visitor which
translates every logical change into staged record mutations. Staged
records are keyed by record id per store and carry a before and an after
image - the before image is read from the store on first touch, all edits
go to the after image.

Relationships of a node form doubly-linked chains. Inserting or removing
a relationship mutates up to four neighbouring relationship records plus
the owning node record. The prev reference of the first relationship in a
chain holds the chain degree. A node whose degree reaches the dense node
threshold switches from a single chain to per-type relationship group
chains within the same transaction.

After all logical changes were visited the staged mutations are extracted
as an ordered command stream.
*/
package tx

import (
	"fmt"
	"sort"

	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

/*
RecordState is the staging buffer of a single transaction.
*/
type RecordState struct {
	stores          *storage.Stores          // Record stores of the engine
	schemaCache     *schema.Cache            // Schema cache for constraint checks
	denseThreshold  uint64                   // Degree at which nodes become dense
	externalDegrees bool                     // Flag if new group chains use external degrees
	locker          ResourceLocker           // Lock service of the transaction

	nodes      map[uint64]*NodeChange       // Staged node records
	rels       map[uint64]*RelChange        // Staged relationship records
	groups     map[uint64]*GroupChange      // Staged relationship group records
	props      map[uint64]*PropChange       // Staged property records
	strings    map[uint64]*DynChange        // Staged string store records
	arrays     map[uint64]*DynChange        // Staged array store records
	schemaRecs map[uint64]*SchemaChange     // Staged schema records
	tokens     map[uint64]*TokenChange      // Staged token records
	degrees    map[counts.DegreeKey]int64   // Accumulated external degree deltas
}

/*
NewRecordState creates a new record state for a single transaction.
*/
func NewRecordState(stores *storage.Stores, schemaCache *schema.Cache,
	denseThreshold uint64, externalDegrees bool, locker ResourceLocker) *RecordState {

	if locker == nil {
		locker = IgnoreLocks
	}

	return &RecordState{
		stores:          stores,
		schemaCache:     schemaCache,
		denseThreshold:  denseThreshold,
		externalDegrees: externalDegrees,
		locker:          locker,

		nodes:      make(map[uint64]*NodeChange),
		rels:       make(map[uint64]*RelChange),
		groups:     make(map[uint64]*GroupChange),
		props:      make(map[uint64]*PropChange),
		strings:    make(map[uint64]*DynChange),
		arrays:     make(map[uint64]*DynChange),
		schemaRecs: make(map[uint64]*SchemaChange),
		tokens:     make(map[uint64]*TokenChange),
		degrees:    make(map[counts.DegreeKey]int64),
	}
}

// Node operations
// ===============

/*
NodeCreate stages the creation of a node.
*/
func (rs *RecordState) NodeCreate(id uint64) error {
	if err := rs.locker.AcquireExclusive(ResourceNode, id); err != nil {
		return err
	}

	rs.createNode(id)

	return nil
}

/*
NodeDelete stages the deletion of a node. The node must not have any
remaining relationships.
*/
func (rs *RecordState) NodeDelete(id uint64) error {
	if err := rs.locker.AcquireExclusive(ResourceNode, id); err != nil {
		return err
	}

	nc, err := rs.loadNode(id)
	if err != nil {
		return err
	}

	if err := rs.checkNoRelationships(nc); err != nil {
		return err
	}

	// Release the relationship group records of a dense node

	if nc.After.Dense {
		for gid := nc.After.NextRel; gid != storage.NilID; {
			gc, err := rs.loadGroup(gid)
			if err != nil {
				return err
			}

			gid = gc.After.Next

			gc.After.InUse = false
			gc.After.Next = storage.NilID
			gc.Changed = true
		}
	}

	// Release the property chain and spilled labels

	if err := rs.deletePropertyChain(nc.After.NextProp); err != nil {
		return err
	}

	if nc.After.LabelRef != storage.NilID {
		ids, err := rs.freeDynamicChain(true, nc.After.LabelRef)
		if err != nil {
			return err
		}
		nc.Dynamic = append(nc.Dynamic, ids...)
	}

	nc.After = storage.NewNodeRecord(id)
	nc.Changed = true

	return nil
}

/*
checkNoRelationships verifies that a node has no remaining relationships
considering all staged changes.
*/
func (rs *RecordState) checkNoRelationships(nc *NodeChange) error {
	hasRels := false

	if !nc.After.Dense {
		hasRels = nc.After.NextRel != storage.NilID

	} else {
		for gid := nc.After.NextRel; gid != storage.NilID && !hasRels; {
			gc, err := rs.loadGroup(gid)
			if err != nil {
				return err
			}

			hasRels = gc.After.FirstOut != storage.NilID ||
				gc.After.FirstIn != storage.NilID ||
				gc.After.FirstLoop != storage.NilID

			gid = gc.After.Next
		}
	}

	if hasRels {
		return &util.StorageError{Type: util.ErrValidation,
			Detail: fmt.Sprintf("Cannot delete node %v because it still has relationships", nc.After.ID)}
	}

	return nil
}

// Label operations
// ================

/*
AddLabel stages the addition of a label to a node.
*/
func (rs *RecordState) AddLabel(id uint64, label uint32) error {
	if err := rs.locker.AcquireExclusive(ResourceNode, id); err != nil {
		return err
	}

	nc, err := rs.loadNode(id)
	if err != nil {
		return err
	}

	labels, err := rs.nodeLabels(nc)
	if err != nil {
		return err
	}

	for _, l := range labels {
		if l == label {
			return nil
		}
	}

	labels = append(labels, label)
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	return rs.storeLabels(nc, labels)
}

/*
RemoveLabel stages the removal of a label from a node.
*/
func (rs *RecordState) RemoveLabel(id uint64, label uint32) error {
	if err := rs.locker.AcquireExclusive(ResourceNode, id); err != nil {
		return err
	}

	nc, err := rs.loadNode(id)
	if err != nil {
		return err
	}

	labels, err := rs.nodeLabels(nc)
	if err != nil {
		return err
	}

	kept := labels[:0]
	for _, l := range labels {
		if l != label {
			kept = append(kept, l)
		}
	}

	return rs.storeLabels(nc, kept)
}

/*
nodeLabels returns all labels of a staged node including spilled labels.
*/
func (rs *RecordState) nodeLabels(nc *NodeChange) ([]uint32, error) {
	if nc.After.LabelRef == storage.NilID {
		return append([]uint32(nil), nc.After.Labels...), nil
	}

	data, err := rs.readDynamicData(true, nc.After.LabelRef)
	if err != nil {
		return nil, err
	}

	return decodeLabelSpill(data), nil
}

/*
storeLabels writes a label set to a staged node - inline if it fits,
otherwise as a spilled dynamic record chain in the array store.
*/
func (rs *RecordState) storeLabels(nc *NodeChange, labels []uint32) error {

	// Release a previous spill chain

	if nc.After.LabelRef != storage.NilID {
		ids, err := rs.freeDynamicChain(true, nc.After.LabelRef)
		if err != nil {
			return err
		}
		nc.Dynamic = append(nc.Dynamic, ids...)
		nc.After.LabelRef = storage.NilID
	}

	if len(labels) <= storage.MaxInlineLabels {
		nc.After.Labels = labels

	} else {
		ref, ids, err := rs.stageDynamicData(true, encodeLabelSpill(labels))
		if err != nil {
			return err
		}

		nc.Dynamic = append(nc.Dynamic, ids...)
		nc.After.Labels = nil
		nc.After.LabelRef = ref
	}

	nc.Changed = true

	return nil
}

/*
NodeLabels returns all labels of a node considering staged changes.
*/
func (rs *RecordState) NodeLabels(id uint64) ([]uint32, error) {
	nc, err := rs.loadNode(id)
	if err != nil {
		return nil, err
	}

	return rs.nodeLabels(nc)
}

/*
NodeLabelsBefore returns the labels a node had at transaction start.
*/
func (rs *RecordState) NodeLabelsBefore(id uint64) ([]uint32, error) {
	nr, err := rs.stores.Nodes.Get(id, storage.LoadAlways)
	if err != nil {
		return nil, err
	}

	if nr.LabelRef == storage.NilID {
		return nr.Labels, nil
	}

	data, err := rs.stores.Arrays.ReadChain(nr.LabelRef)
	if err != nil {
		return nil, err
	}

	return decodeLabelSpill(data), nil
}

/*
encodeLabelSpill encodes a label set for storage in the array store.
*/
func encodeLabelSpill(labels []uint32) []byte {
	data := make([]byte, len(labels)*4)

	for i, l := range labels {
		data[i*4] = byte(l >> 24)
		data[i*4+1] = byte(l >> 16)
		data[i*4+2] = byte(l >> 8)
		data[i*4+3] = byte(l)
	}

	return data
}

/*
decodeLabelSpill decodes a label set from its stored form.
*/
func decodeLabelSpill(data []byte) []uint32 {
	labels := make([]uint32, 0, len(data)/4)

	for i := 0; i+4 <= len(data); i += 4 {
		labels = append(labels, uint32(data[i])<<24|uint32(data[i+1])<<16|
			uint32(data[i+2])<<8|uint32(data[i+3]))
	}

	return labels
}

// Relationship operations
// =======================

/*
RelCreate stages the creation of a relationship between two nodes.
*/
func (rs *RecordState) RelCreate(id uint64, relType uint32, start uint64, end uint64) error {
	if err := rs.locker.AcquireExclusive(ResourceNode, start, end); err != nil {
		return err
	}
	if err := rs.locker.AcquireExclusive(ResourceRelationship, id); err != nil {
		return err
	}

	rc := rs.createRel(id)
	rc.After.RelType = relType
	rc.After.StartNode = start
	rc.After.EndNode = end

	if err := rs.connect(start, rc); err != nil {
		return err
	}

	// A loop relationship is a member of only one chain

	if start != end {
		if err := rs.connect(end, rc); err != nil {
			return err
		}
	}

	return nil
}

/*
connect inserts a relationship at the head of the chain of one of its
endpoint nodes.
*/
func (rs *RecordState) connect(nodeID uint64, rc *RelChange) error {
	nc, err := rs.loadNode(nodeID)
	if err != nil {
		return err
	}

	if nc.After.Dense {
		gc, err := rs.findOrCreateGroup(nc, rc.After.RelType)
		if err != nil {
			return err
		}

		return rs.connectInGroup(nodeID, gc, rc.After.DirectionFor(nodeID), rc)
	}

	head := nc.After.NextRel
	var degree uint64

	if head == storage.NilID {
		rc.After.SetFirstForNode(nodeID, true)
		rc.After.SetPrevForNode(nodeID, 1)
		rc.After.SetNextForNode(nodeID, storage.NilID)
		degree = 1

	} else {
		if err := rs.locker.AcquireExclusive(ResourceRelationship, head); err != nil {
			return err
		}

		hc, err := rs.loadRel(head)
		if err != nil {
			return err
		}

		// The prev reference of the old head held the chain degree

		oldDegree := hc.After.PrevForNode(nodeID)

		hc.After.SetFirstForNode(nodeID, false)
		hc.After.SetPrevForNode(nodeID, rc.After.ID)
		hc.Changed = true

		rc.After.SetFirstForNode(nodeID, true)
		rc.After.SetPrevForNode(nodeID, oldDegree+1)
		rc.After.SetNextForNode(nodeID, head)

		degree = oldDegree + 1
	}

	nc.After.NextRel = rc.After.ID
	nc.Changed = true

	if rs.denseThreshold > 0 && degree >= rs.denseThreshold {
		return rs.convertToDense(nodeID)
	}

	return nil
}

/*
connectInGroup inserts a relationship at the head of a group chain of a
dense node.
*/
func (rs *RecordState) connectInGroup(nodeID uint64, gc *GroupChange,
	dir storage.Direction, rc *RelChange) error {

	head := gc.After.First(dir)
	external := gc.After.HasExternalDegrees(dir)

	if head == storage.NilID {
		rc.After.SetFirstForNode(nodeID, true)
		rc.After.SetNextForNode(nodeID, storage.NilID)

		if external {
			rc.After.SetPrevForNode(nodeID, storage.NilID)
		} else {
			rc.After.SetPrevForNode(nodeID, 1)
		}

	} else {
		if err := rs.locker.AcquireExclusive(ResourceRelationship, head); err != nil {
			return err
		}

		hc, err := rs.loadRel(head)
		if err != nil {
			return err
		}

		oldDegree := hc.After.PrevForNode(nodeID)

		hc.After.SetFirstForNode(nodeID, false)
		hc.After.SetPrevForNode(nodeID, rc.After.ID)
		hc.Changed = true

		rc.After.SetFirstForNode(nodeID, true)
		rc.After.SetNextForNode(nodeID, head)

		if external {
			rc.After.SetPrevForNode(nodeID, storage.NilID)
		} else {
			rc.After.SetPrevForNode(nodeID, oldDegree+1)
		}
	}

	gc.After.SetFirst(dir, rc.After.ID)
	gc.Changed = true

	if external {
		rs.degrees[counts.DegreeKey{Group: gc.After.ID, Direction: byte(dir)}]++
	}

	return nil
}

/*
RelDelete stages the deletion of a relationship.
*/
func (rs *RecordState) RelDelete(id uint64) error {
	if err := rs.locker.AcquireExclusive(ResourceRelationship, id); err != nil {
		return err
	}

	rc, err := rs.loadRel(id)
	if err != nil {
		return err
	}

	if err := rs.locker.AcquireExclusive(ResourceNode,
		rc.After.StartNode, rc.After.EndNode); err != nil {
		return err
	}

	if err := rs.disconnect(rc.After.StartNode, rc); err != nil {
		return err
	}

	if rc.After.EndNode != rc.After.StartNode {
		if err := rs.disconnect(rc.After.EndNode, rc); err != nil {
			return err
		}
	}

	if err := rs.deletePropertyChain(rc.After.NextProp); err != nil {
		return err
	}

	rc.After = storage.NewRelationshipRecord(id)
	rc.Changed = true

	return nil
}

/*
disconnect removes a relationship from the chain of one of its endpoint
nodes.
*/
func (rs *RecordState) disconnect(nodeID uint64, rc *RelChange) error {
	nc, err := rs.loadNode(nodeID)
	if err != nil {
		return err
	}

	dir := rc.After.DirectionFor(nodeID)

	var gc *GroupChange
	var external bool
	var headRef uint64

	if nc.After.Dense {
		if gc, err = rs.findGroup(nc, rc.After.RelType); err != nil {
			return err
		}

		external = gc.After.HasExternalDegrees(dir)
		headRef = gc.After.First(dir)

	} else {
		headRef = nc.After.NextRel
	}

	next := rc.After.NextForNode(nodeID)

	if rc.After.FirstForNode(nodeID) {

		// The relationship is the chain head - its prev reference holds
		// the chain degree unless the degree is externalized

		if next != storage.NilID {
			if err := rs.locker.AcquireExclusive(ResourceRelationship, next); err != nil {
				return err
			}

			nxt, err := rs.loadRel(next)
			if err != nil {
				return err
			}

			nxt.After.SetFirstForNode(nodeID, true)

			if external {
				nxt.After.SetPrevForNode(nodeID, storage.NilID)
			} else {
				nxt.After.SetPrevForNode(nodeID, rc.After.PrevForNode(nodeID)-1)
			}

			nxt.Changed = true
		}

		if gc != nil {
			gc.After.SetFirst(dir, next)
			gc.Changed = true
		} else {
			nc.After.NextRel = next
			nc.Changed = true
		}

	} else {
		prev := rc.After.PrevForNode(nodeID)

		if err := rs.locker.AcquireExclusive(ResourceRelationship, prev); err != nil {
			return err
		}

		pc, err := rs.loadRel(prev)
		if err != nil {
			return err
		}

		pc.After.SetNextForNode(nodeID, next)
		pc.Changed = true

		if next != storage.NilID {
			if err := rs.locker.AcquireExclusive(ResourceRelationship, next); err != nil {
				return err
			}

			nxt, err := rs.loadRel(next)
			if err != nil {
				return err
			}

			nxt.After.SetPrevForNode(nodeID, prev)
			nxt.Changed = true
		}

		if !external {

			// Decrement the degree stored in the chain head

			hc, err := rs.loadRel(headRef)
			if err != nil {
				return err
			}

			hc.After.SetPrevForNode(nodeID, hc.After.PrevForNode(nodeID)-1)
			hc.Changed = true
		}
	}

	if external {
		rs.degrees[counts.DegreeKey{Group: gc.After.ID, Direction: byte(dir)}]--
	}

	return nil
}

// Relationship groups
// ===================

/*
findGroup returns the staged group record of a given type of a dense
node. The group must exist.
*/
func (rs *RecordState) findGroup(nc *NodeChange, relType uint32) (*GroupChange, error) {
	for gid := nc.After.NextRel; gid != storage.NilID; {
		gc, err := rs.loadGroup(gid)
		if err != nil {
			return nil, err
		}

		if gc.After.RelType == relType {
			return gc, nil
		}

		gid = gc.After.Next
	}

	return nil, &util.StorageError{Type: util.ErrValidation,
		Detail: fmt.Sprintf("No relationship group of type %v on node %v", relType, nc.After.ID)}
}

/*
findOrCreateGroup returns the group record of a given type of a dense
node, creating it if necessary. Group chains stay sorted by ascending
relationship type.
*/
func (rs *RecordState) findOrCreateGroup(nc *NodeChange, relType uint32) (*GroupChange, error) {
	var prev *GroupChange

	gid := nc.After.NextRel

	for gid != storage.NilID {
		gc, err := rs.loadGroup(gid)
		if err != nil {
			return nil, err
		}

		if gc.After.RelType == relType {
			return gc, nil
		}
		if gc.After.RelType > relType {
			break
		}

		prev = gc
		gid = gc.After.Next
	}

	id, err := rs.stores.Groups.NextID()
	if err != nil {
		return nil, err
	}

	gc := rs.createGroup(id)
	gc.After.RelType = relType
	gc.After.OwningNode = nc.After.ID
	gc.After.Next = gid

	if rs.externalDegrees {
		gc.After.ExternalDegreesOut = true
		gc.After.ExternalDegreesIn = true
		gc.After.ExternalDegreesLoop = true
	}

	if prev == nil {
		nc.After.NextRel = id
		nc.Changed = true
	} else {
		prev.After.Next = id
		prev.Changed = true
	}

	return gc, nil
}

/*
convertToDense converts the single relationship chain of a node into
per-type relationship group chains. The conversion is a single atomic
bundle of record writes within the current transaction.
*/
func (rs *RecordState) convertToDense(nodeID uint64) error {
	nc, err := rs.loadNode(nodeID)
	if err != nil {
		return err
	}

	// Collect the existing chain

	var chain []*RelChange

	for id := nc.After.NextRel; id != storage.NilID; {
		if err := rs.locker.AcquireExclusive(ResourceRelationship, id); err != nil {
			return err
		}

		rc, err := rs.loadRel(id)
		if err != nil {
			return err
		}

		chain = append(chain, rc)
		id = rc.After.NextForNode(nodeID)
	}

	// Partition the chain by relationship type and direction preserving
	// the chain order

	type partKey struct {
		relType uint32
		dir     storage.Direction
	}

	parts := make(map[partKey][]*RelChange)
	var types []uint32

	for _, rc := range chain {
		key := partKey{rc.After.RelType, rc.After.DirectionFor(nodeID)}

		if _, ok := parts[key]; !ok {
			found := false
			for _, t := range types {
				if t == key.relType {
					found = true
					break
				}
			}
			if !found {
				types = append(types, key.relType)
			}
		}

		parts[key] = append(parts[key], rc)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	// Build one group record per type and relink the per-direction chains

	var firstGroup uint64 = storage.NilID
	var prevGroup *GroupChange

	for _, relType := range types {
		id, err := rs.stores.Groups.NextID()
		if err != nil {
			return err
		}

		gc := rs.createGroup(id)
		gc.After.RelType = relType
		gc.After.OwningNode = nodeID

		if rs.externalDegrees {
			gc.After.ExternalDegreesOut = true
			gc.After.ExternalDegreesIn = true
			gc.After.ExternalDegreesLoop = true
		}

		for _, dir := range []storage.Direction{storage.DirectionOutgoing,
			storage.DirectionIncoming, storage.DirectionLoop} {

			list := parts[partKey{relType, dir}]
			if len(list) == 0 {
				continue
			}

			for i, rc := range list {
				if i == 0 {
					rc.After.SetFirstForNode(nodeID, true)

					if rs.externalDegrees {
						rc.After.SetPrevForNode(nodeID, storage.NilID)
					} else {
						rc.After.SetPrevForNode(nodeID, uint64(len(list)))
					}

				} else {
					rc.After.SetFirstForNode(nodeID, false)
					rc.After.SetPrevForNode(nodeID, list[i-1].After.ID)
				}

				if i < len(list)-1 {
					rc.After.SetNextForNode(nodeID, list[i+1].After.ID)
				} else {
					rc.After.SetNextForNode(nodeID, storage.NilID)
				}

				rc.Changed = true
			}

			gc.After.SetFirst(dir, list[0].After.ID)

			if rs.externalDegrees {
				rs.degrees[counts.DegreeKey{Group: id, Direction: byte(dir)}] += int64(len(list))
			}
		}

		if prevGroup == nil {
			firstGroup = id
		} else {
			prevGroup.After.Next = id
		}

		prevGroup = gc
	}

	nc.After.NextRel = firstGroup
	nc.After.Dense = true
	nc.Changed = true

	return nil
}

/*
DegreeDeltas returns the accumulated external degree deltas of this
transaction.
*/
func (rs *RecordState) DegreeDeltas() map[counts.DegreeKey]int64 {
	return rs.degrees
}

/*
RelInfo returns the type and endpoints of a relationship considering
staged changes.
*/
func (rs *RecordState) RelInfo(id uint64) (uint32, uint64, uint64, error) {
	rc, err := rs.loadRel(id)
	if err != nil {
		return 0, 0, 0, err
	}

	r := rc.After
	if !r.InUse {
		r = rc.Before
	}

	return r.RelType, r.StartNode, r.EndNode, nil
}

/*
relStat keys the per-type, per-direction relationship statistics of a
node.
*/
type relStat struct {
	relType uint32
	dir     storage.Direction
}

/*
RelStatsForNode returns the number of relationships of a node per type
and direction considering staged changes. Relationships matching the
exclude predicate are not counted.
*/
func (rs *RecordState) RelStatsForNode(nodeID uint64,
	exclude func(id uint64) bool) (map[relStat]int64, error) {

	nc, err := rs.loadNode(nodeID)
	if err != nil {
		return nil, err
	}

	stats := make(map[relStat]int64)

	countChain := func(start uint64) error {
		for id := start; id != storage.NilID; {
			rc, err := rs.loadRel(id)
			if err != nil {
				return err
			}

			if exclude == nil || !exclude(id) {
				stats[relStat{rc.After.RelType, rc.After.DirectionFor(nodeID)}]++
			}

			id = rc.After.NextForNode(nodeID)
		}
		return nil
	}

	if !nc.After.Dense {
		if err := countChain(nc.After.NextRel); err != nil {
			return nil, err
		}

		return stats, nil
	}

	for gid := nc.After.NextRel; gid != storage.NilID; {
		gc, err := rs.loadGroup(gid)
		if err != nil {
			return nil, err
		}

		for _, first := range []uint64{gc.After.FirstOut, gc.After.FirstIn, gc.After.FirstLoop} {
			if err := countChain(first); err != nil {
				return nil, err
			}
		}

		gid = gc.After.Next
	}

	return stats, nil
}
