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
	"fmt"

	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
)

/*
Visitor is the contract between the logical transaction state of the
kernel and the record state of the engine. Every logical change kind has
a visit method - the engine implements the visitor such that each visited
change is translated into staged record mutations.
*/
type Visitor interface {
	VisitCreatedNode(id uint64) error
	VisitDeletedNode(id uint64) error
	VisitCreatedRelationship(id uint64, relType uint32, start uint64, end uint64) error
	VisitDeletedRelationship(id uint64) error
	VisitAddedLabel(node uint64, label uint32) error
	VisitRemovedLabel(node uint64, label uint32) error
	VisitSetNodeProperty(node uint64, key uint32, value interface{}) error
	VisitRemovedNodeProperty(node uint64, key uint32) error
	VisitSetRelProperty(rel uint64, key uint32, value interface{}) error
	VisitRemovedRelProperty(rel uint64, key uint32) error
	VisitCreatedSchemaRule(rule *schema.Rule) error
	VisitDroppedSchemaRule(id uint64) error
	VisitCreatedToken(kind storage.TokenKind, name string) error
}

/*
Decorator wraps a visitor with additional behaviour.
*/
type Decorator func(Visitor) Visitor

/*
NoDecoration is the identity visitor decorator.
*/
func NoDecoration(v Visitor) Visitor {
	return v
}

// Logical transaction state
// =========================

/*
RelSpec describes a relationship created by a transaction.
*/
type RelSpec struct {
	ID      uint64 // Reserved relationship id
	RelType uint32 // Relationship type token
	Start   uint64 // Start node
	End     uint64 // End node
}

/*
labelOp is a single staged label change.
*/
type labelOp struct {
	node  uint64
	label uint32
	add   bool
}

/*
propOp is a single staged property change.
*/
type propOp struct {
	entity uint64
	key    uint32
	value  interface{}
	remove bool
}

/*
tokenOp is a single staged token creation.
*/
type tokenOp struct {
	kind storage.TokenKind
	name string
}

/*
State is the logical state of one transaction. It is a value set of
graph mutations which is built up by the kernel and visited by the
engine when commands are created. The visit order is deterministic:
tokens, created nodes, created relationships, label changes, property
changes, deleted relationships, deleted nodes, schema changes.
*/
type State struct {
	createdTokens []tokenOp
	createdNodes  []uint64
	createdRels   []RelSpec
	labelOps      []labelOp
	nodeProps     []propOp
	relProps      []propOp
	deletedRels   []uint64
	deletedNodes  []uint64
	createdRules  []*schema.Rule
	droppedRules  []uint64
}

/*
NewState creates a new empty logical transaction state.
*/
func NewState() *State {
	return &State{}
}

/*
CreateToken registers a token creation.
*/
func (s *State) CreateToken(kind storage.TokenKind, name string) {
	s.createdTokens = append(s.createdTokens, tokenOp{kind, name})
}

/*
CreateNode registers a node creation.
*/
func (s *State) CreateNode(id uint64) {
	s.createdNodes = append(s.createdNodes, id)
}

/*
DeleteNode registers a node deletion.
*/
func (s *State) DeleteNode(id uint64) {
	s.deletedNodes = append(s.deletedNodes, id)
}

/*
CreateRelationship registers a relationship creation.
*/
func (s *State) CreateRelationship(id uint64, relType uint32, start uint64, end uint64) {
	s.createdRels = append(s.createdRels, RelSpec{id, relType, start, end})
}

/*
DeleteRelationship registers a relationship deletion.
*/
func (s *State) DeleteRelationship(id uint64) {
	s.deletedRels = append(s.deletedRels, id)
}

/*
AddLabel registers a label addition.
*/
func (s *State) AddLabel(node uint64, label uint32) {
	s.labelOps = append(s.labelOps, labelOp{node, label, true})
}

/*
RemoveLabel registers a label removal.
*/
func (s *State) RemoveLabel(node uint64, label uint32) {
	s.labelOps = append(s.labelOps, labelOp{node, label, false})
}

/*
SetNodeProperty registers a node property addition or change.
*/
func (s *State) SetNodeProperty(node uint64, key uint32, value interface{}) {
	s.nodeProps = append(s.nodeProps, propOp{node, key, value, false})
}

/*
RemoveNodeProperty registers a node property removal.
*/
func (s *State) RemoveNodeProperty(node uint64, key uint32) {
	s.nodeProps = append(s.nodeProps, propOp{node, key, nil, true})
}

/*
SetRelProperty registers a relationship property addition or change.
*/
func (s *State) SetRelProperty(rel uint64, key uint32, value interface{}) {
	s.relProps = append(s.relProps, propOp{rel, key, value, false})
}

/*
RemoveRelProperty registers a relationship property removal.
*/
func (s *State) RemoveRelProperty(rel uint64, key uint32) {
	s.relProps = append(s.relProps, propOp{rel, key, nil, true})
}

/*
CreateSchemaRule registers a schema rule creation.
*/
func (s *State) CreateSchemaRule(rule *schema.Rule) {
	s.createdRules = append(s.createdRules, rule)
}

/*
DropSchemaRule registers a schema rule removal.
*/
func (s *State) DropSchemaRule(id uint64) {
	s.droppedRules = append(s.droppedRules, id)
}

/*
IsEmpty returns if this transaction state contains no changes.
*/
func (s *State) IsEmpty() bool {
	return len(s.createdTokens) == 0 && len(s.createdNodes) == 0 &&
		len(s.createdRels) == 0 && len(s.labelOps) == 0 &&
		len(s.nodeProps) == 0 && len(s.relProps) == 0 &&
		len(s.deletedRels) == 0 && len(s.deletedNodes) == 0 &&
		len(s.createdRules) == 0 && len(s.droppedRules) == 0
}

/*
String returns a string representation of this transaction state.
*/
func (s *State) String() string {
	return fmt.Sprintf("TxState (nodes: I:%v R:%v - rels: I:%v R:%v - props:%v tokens:%v rules:%v)",
		len(s.createdNodes), len(s.deletedNodes), len(s.createdRels), len(s.deletedRels),
		len(s.nodeProps)+len(s.relProps), len(s.createdTokens),
		len(s.createdRules)+len(s.droppedRules))
}

/*
Accept visits all changes of this transaction state in deterministic
order.
*/
func (s *State) Accept(v Visitor) error {
	for _, op := range s.createdTokens {
		if err := v.VisitCreatedToken(op.kind, op.name); err != nil {
			return err
		}
	}

	for _, id := range s.createdNodes {
		if err := v.VisitCreatedNode(id); err != nil {
			return err
		}
	}

	for _, spec := range s.createdRels {
		if err := v.VisitCreatedRelationship(spec.ID, spec.RelType, spec.Start, spec.End); err != nil {
			return err
		}
	}

	for _, op := range s.labelOps {
		var err error

		if op.add {
			err = v.VisitAddedLabel(op.node, op.label)
		} else {
			err = v.VisitRemovedLabel(op.node, op.label)
		}

		if err != nil {
			return err
		}
	}

	for _, op := range s.nodeProps {
		var err error

		if op.remove {
			err = v.VisitRemovedNodeProperty(op.entity, op.key)
		} else {
			err = v.VisitSetNodeProperty(op.entity, op.key, op.value)
		}

		if err != nil {
			return err
		}
	}

	for _, op := range s.relProps {
		var err error

		if op.remove {
			err = v.VisitRemovedRelProperty(op.entity, op.key)
		} else {
			err = v.VisitSetRelProperty(op.entity, op.key, op.value)
		}

		if err != nil {
			return err
		}
	}

	for _, id := range s.deletedRels {
		if err := v.VisitDeletedRelationship(id); err != nil {
			return err
		}
	}

	for _, id := range s.deletedNodes {
		if err := v.VisitDeletedNode(id); err != nil {
			return err
		}
	}

	for _, rule := range s.createdRules {
		if err := v.VisitCreatedSchemaRule(rule); err != nil {
			return err
		}
	}

	for _, id := range s.droppedRules {
		if err := v.VisitDroppedSchemaRule(id); err != nil {
			return err
		}
	}

	return nil
}

// Record state visitor
// ====================

/*
RecordStateVisitor translates visited logical changes into staged record
mutations.
*/
type RecordStateVisitor struct {
	rs *RecordState
}

/*
NewRecordStateVisitor creates a new record state visitor.
*/
func NewRecordStateVisitor(rs *RecordState) *RecordStateVisitor {
	return &RecordStateVisitor{rs}
}

/*
VisitCreatedNode stages a node creation.
*/
func (v *RecordStateVisitor) VisitCreatedNode(id uint64) error {
	return v.rs.NodeCreate(id)
}

/*
VisitDeletedNode stages a node deletion.
*/
func (v *RecordStateVisitor) VisitDeletedNode(id uint64) error {
	return v.rs.NodeDelete(id)
}

/*
VisitCreatedRelationship stages a relationship creation.
*/
func (v *RecordStateVisitor) VisitCreatedRelationship(id uint64, relType uint32,
	start uint64, end uint64) error {
	return v.rs.RelCreate(id, relType, start, end)
}

/*
VisitDeletedRelationship stages a relationship deletion.
*/
func (v *RecordStateVisitor) VisitDeletedRelationship(id uint64) error {
	return v.rs.RelDelete(id)
}

/*
VisitAddedLabel stages a label addition.
*/
func (v *RecordStateVisitor) VisitAddedLabel(node uint64, label uint32) error {
	return v.rs.AddLabel(node, label)
}

/*
VisitRemovedLabel stages a label removal.
*/
func (v *RecordStateVisitor) VisitRemovedLabel(node uint64, label uint32) error {
	return v.rs.RemoveLabel(node, label)
}

/*
VisitSetNodeProperty stages a node property addition or change.
*/
func (v *RecordStateVisitor) VisitSetNodeProperty(node uint64, key uint32, value interface{}) error {
	return v.rs.SetNodeProperty(node, key, value)
}

/*
VisitRemovedNodeProperty stages a node property removal.
*/
func (v *RecordStateVisitor) VisitRemovedNodeProperty(node uint64, key uint32) error {
	return v.rs.RemoveNodeProperty(node, key)
}

/*
VisitSetRelProperty stages a relationship property addition or change.
*/
func (v *RecordStateVisitor) VisitSetRelProperty(rel uint64, key uint32, value interface{}) error {
	return v.rs.SetRelProperty(rel, key, value)
}

/*
VisitRemovedRelProperty stages a relationship property removal.
*/
func (v *RecordStateVisitor) VisitRemovedRelProperty(rel uint64, key uint32) error {
	return v.rs.RemoveRelProperty(rel, key)
}

/*
VisitCreatedSchemaRule stages a schema rule creation.
*/
func (v *RecordStateVisitor) VisitCreatedSchemaRule(rule *schema.Rule) error {
	return v.rs.SchemaRuleCreate(rule)
}

/*
VisitDroppedSchemaRule stages a schema rule removal.
*/
func (v *RecordStateVisitor) VisitDroppedSchemaRule(id uint64) error {
	return v.rs.SchemaRuleDrop(id)
}

/*
VisitCreatedToken stages a token creation.
*/
func (v *RecordStateVisitor) VisitCreatedToken(kind storage.TokenKind, name string) error {
	_, err := v.rs.TokenCreate(kind, name)
	return err
}
