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
	"sort"

	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
)

/*
CountsState accumulates counter deltas of a single transaction. The
deltas are extracted as counts commands after the record state.
*/
type CountsState struct {
	deltas map[counts.Key]int64
}

/*
NewCountsState creates a new empty counts state.
*/
func NewCountsState() *CountsState {
	return &CountsState{make(map[counts.Key]int64)}
}

/*
Increment adds a delta to a counter.
*/
func (cs *CountsState) Increment(key counts.Key, delta int64) {
	cs.deltas[key] += delta
}

/*
ExtractCommands appends one command per accumulated counter delta to the
given list in deterministic key order.
*/
func (cs *CountsState) ExtractCommands(out *[]command.Command, ver command.KernelVersion) {
	keys := make([]counts.Key, 0, len(cs.deltas))

	for key := range cs.deltas {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]

		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.End < b.End
	})

	for _, key := range keys {
		if delta := cs.deltas[key]; delta != 0 {
			*out = append(*out, &command.CountsCommand{Ver: ver, Key: key, Delta: delta})
		}
	}
}

/*
relInfo captures the identity of a created or deleted relationship.
*/
type relInfo struct {
	id      uint64
	relType uint32
	start   uint64
	end     uint64
}

/*
nodeLabel is a single label change of a node.
*/
type nodeLabel struct {
	node  uint64
	label uint32
}

/*
CountingVisitor wraps a visitor and records the information needed to
derive the counter deltas of the transaction. The deltas are computed
after the visit in Finalize - created entities count with the labels
they have at the end of the transaction, deleted entities with the
labels they had at transaction start.
*/
type CountingVisitor struct {
	delegate Visitor
	rs       *RecordState

	createdNodes  []uint64
	deletedNodes  []uint64
	createdRels   []relInfo
	deletedRels   []relInfo
	addedLabels   []nodeLabel
	removedLabels []nodeLabel
}

/*
NewCountingVisitor creates a new counting visitor around a given
delegate.
*/
func NewCountingVisitor(delegate Visitor, rs *RecordState) *CountingVisitor {
	return &CountingVisitor{delegate: delegate, rs: rs}
}

/*
VisitCreatedNode records and delegates a node creation.
*/
func (v *CountingVisitor) VisitCreatedNode(id uint64) error {
	v.createdNodes = append(v.createdNodes, id)
	return v.delegate.VisitCreatedNode(id)
}

/*
VisitDeletedNode records and delegates a node deletion.
*/
func (v *CountingVisitor) VisitDeletedNode(id uint64) error {
	v.deletedNodes = append(v.deletedNodes, id)
	return v.delegate.VisitDeletedNode(id)
}

/*
VisitCreatedRelationship records and delegates a relationship creation.
*/
func (v *CountingVisitor) VisitCreatedRelationship(id uint64, relType uint32,
	start uint64, end uint64) error {

	v.createdRels = append(v.createdRels, relInfo{id, relType, start, end})

	return v.delegate.VisitCreatedRelationship(id, relType, start, end)
}

/*
VisitDeletedRelationship records and delegates a relationship deletion.
The relationship identity is captured before the record state clears it.
*/
func (v *CountingVisitor) VisitDeletedRelationship(id uint64) error {
	relType, start, end, err := v.rs.RelInfo(id)
	if err != nil {
		return err
	}

	v.deletedRels = append(v.deletedRels, relInfo{id, relType, start, end})

	return v.delegate.VisitDeletedRelationship(id)
}

/*
VisitAddedLabel records and delegates a label addition.
*/
func (v *CountingVisitor) VisitAddedLabel(node uint64, label uint32) error {
	v.addedLabels = append(v.addedLabels, nodeLabel{node, label})
	return v.delegate.VisitAddedLabel(node, label)
}

/*
VisitRemovedLabel records and delegates a label removal.
*/
func (v *CountingVisitor) VisitRemovedLabel(node uint64, label uint32) error {
	v.removedLabels = append(v.removedLabels, nodeLabel{node, label})
	return v.delegate.VisitRemovedLabel(node, label)
}

/*
VisitSetNodeProperty delegates a node property change.
*/
func (v *CountingVisitor) VisitSetNodeProperty(node uint64, key uint32, value interface{}) error {
	return v.delegate.VisitSetNodeProperty(node, key, value)
}

/*
VisitRemovedNodeProperty delegates a node property removal.
*/
func (v *CountingVisitor) VisitRemovedNodeProperty(node uint64, key uint32) error {
	return v.delegate.VisitRemovedNodeProperty(node, key)
}

/*
VisitSetRelProperty delegates a relationship property change.
*/
func (v *CountingVisitor) VisitSetRelProperty(rel uint64, key uint32, value interface{}) error {
	return v.delegate.VisitSetRelProperty(rel, key, value)
}

/*
VisitRemovedRelProperty delegates a relationship property removal.
*/
func (v *CountingVisitor) VisitRemovedRelProperty(rel uint64, key uint32) error {
	return v.delegate.VisitRemovedRelProperty(rel, key)
}

/*
VisitCreatedSchemaRule delegates a schema rule creation.
*/
func (v *CountingVisitor) VisitCreatedSchemaRule(rule *schema.Rule) error {
	return v.delegate.VisitCreatedSchemaRule(rule)
}

/*
VisitDroppedSchemaRule delegates a schema rule removal.
*/
func (v *CountingVisitor) VisitDroppedSchemaRule(id uint64) error {
	return v.delegate.VisitDroppedSchemaRule(id)
}

/*
VisitCreatedToken delegates a token creation.
*/
func (v *CountingVisitor) VisitCreatedToken(kind storage.TokenKind, name string) error {
	return v.delegate.VisitCreatedToken(kind, name)
}

/*
Finalize computes the counter deltas of the visited transaction.
*/
func (v *CountingVisitor) Finalize(cs *CountsState) error {
	created := make(map[uint64]bool)
	for _, id := range v.createdNodes {
		created[id] = true
	}

	deleted := make(map[uint64]bool)
	for _, id := range v.deletedNodes {
		deleted[id] = true
	}

	// Node counters

	for _, id := range v.createdNodes {
		if deleted[id] {
			continue
		}

		cs.Increment(counts.NodeKey(counts.Wildcard), 1)

		labels, err := v.rs.NodeLabels(id)
		if err != nil {
			return err
		}

		for _, l := range labels {
			cs.Increment(counts.NodeKey(int32(l)), 1)
		}
	}

	for _, id := range v.deletedNodes {
		if created[id] {
			continue
		}

		cs.Increment(counts.NodeKey(counts.Wildcard), -1)

		labels, err := v.rs.NodeLabelsBefore(id)
		if err != nil {
			return err
		}

		for _, l := range labels {
			cs.Increment(counts.NodeKey(int32(l)), -1)
		}
	}

	// Label changes on nodes which existed before and still exist

	for _, nl := range v.addedLabels {
		if created[nl.node] || deleted[nl.node] {
			continue
		}

		cs.Increment(counts.NodeKey(int32(nl.label)), 1)

		if err := v.adjustRelCountersForLabel(cs, nl.node, nl.label, 1, created); err != nil {
			return err
		}
	}

	for _, nl := range v.removedLabels {
		if created[nl.node] || deleted[nl.node] {
			continue
		}

		cs.Increment(counts.NodeKey(int32(nl.label)), -1)

		if err := v.adjustRelCountersForLabel(cs, nl.node, nl.label, -1, created); err != nil {
			return err
		}
	}

	// Relationship counters

	createdRelIDs := make(map[uint64]bool)
	for _, ri := range v.createdRels {
		createdRelIDs[ri.id] = true
	}

	deletedRelIDs := make(map[uint64]bool)
	for _, ri := range v.deletedRels {
		deletedRelIDs[ri.id] = true
	}

	for _, ri := range v.createdRels {
		if deletedRelIDs[ri.id] {
			continue
		}

		startLabels, err := v.rs.NodeLabels(ri.start)
		if err != nil {
			return err
		}

		endLabels, err := v.rs.NodeLabels(ri.end)
		if err != nil {
			return err
		}

		countRelationship(cs, ri.relType, startLabels, endLabels, 1)
	}

	for _, ri := range v.deletedRels {
		if createdRelIDs[ri.id] {
			continue
		}

		startLabels, err := v.rs.NodeLabelsBefore(ri.start)
		if err != nil {
			return err
		}

		endLabels, err := v.rs.NodeLabelsBefore(ri.end)
		if err != nil {
			return err
		}

		countRelationship(cs, ri.relType, startLabels, endLabels, -1)
	}

	return nil
}

/*
adjustRelCountersForLabel adjusts the per-label relationship counters
when a label is added to or removed from a node which has surviving
relationships. Relationships created by this transaction are excluded -
they are counted with their final labels already.
*/
func (v *CountingVisitor) adjustRelCountersForLabel(cs *CountsState, node uint64,
	label uint32, delta int64, createdNodes map[uint64]bool) error {

	stats, err := v.rs.RelStatsForNode(node, func(id uint64) bool {
		for _, ri := range v.createdRels {
			if ri.id == id {
				return true
			}
		}
		return false
	})

	if err != nil {
		return err
	}

	for key, count := range stats {
		outgoing := key.dir == storage.DirectionOutgoing || key.dir == storage.DirectionLoop
		incoming := key.dir == storage.DirectionIncoming || key.dir == storage.DirectionLoop

		if outgoing {
			cs.Increment(counts.RelationshipKey(int32(label), counts.Wildcard, counts.Wildcard), delta*count)
			cs.Increment(counts.RelationshipKey(int32(label), int32(key.relType), counts.Wildcard), delta*count)
		}
		if incoming {
			cs.Increment(counts.RelationshipKey(counts.Wildcard, counts.Wildcard, int32(label)), delta*count)
			cs.Increment(counts.RelationshipKey(counts.Wildcard, int32(key.relType), int32(label)), delta*count)
		}
	}

	return nil
}

/*
countRelationship applies the counter deltas of a single created or
deleted relationship.
*/
func countRelationship(cs *CountsState, relType uint32, startLabels []uint32,
	endLabels []uint32, delta int64) {

	cs.Increment(counts.RelationshipKey(counts.Wildcard, counts.Wildcard, counts.Wildcard), delta)
	cs.Increment(counts.RelationshipKey(counts.Wildcard, int32(relType), counts.Wildcard), delta)

	for _, l := range startLabels {
		cs.Increment(counts.RelationshipKey(int32(l), counts.Wildcard, counts.Wildcard), delta)
		cs.Increment(counts.RelationshipKey(int32(l), int32(relType), counts.Wildcard), delta)
	}

	for _, l := range endLabels {
		cs.Increment(counts.RelationshipKey(counts.Wildcard, counts.Wildcard, int32(l)), delta)
		cs.Increment(counts.RelationshipKey(counts.Wildcard, int32(relType), int32(l)), delta)
	}
}
