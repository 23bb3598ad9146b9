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
	"fmt"

	"devt.de/krotik/recorddb/storage/file"
)

// Node records
// ============

/*
Node record flags
*/
const (
	flagNodeDense = 0x02
)

/*
MaxInlineLabels is the number of label tokens which fit into the inline
label field of a node record.
*/
const MaxInlineLabels = 4

/*
labelFieldDynamic marks the label field as a reference into the array store.
*/
const labelFieldDynamic = uint64(1) << 63

/*
NodeRecord is a single record of the node store. Labels are stored inline
in the record as long as they fit - a node with more labels stores them in
a dynamic record chain referenced by LabelRef.
*/
type NodeRecord struct {
	ID       uint64   // Record id
	InUse    bool     // In-use flag
	Dense    bool     // Flag if the relationship chain is stored via groups
	NextRel  uint64   // First relationship or first relationship group
	NextProp uint64   // First property record
	Labels   []uint32 // Inline label tokens (ascending order)
	LabelRef uint64   // Dynamic record reference for spilled labels
}

/*
NewNodeRecord creates a new empty node record.
*/
func NewNodeRecord(id uint64) *NodeRecord {
	return &NodeRecord{id, false, false, NilID, NilID, nil, NilID}
}

/*
Copy returns a deep copy of this node record.
*/
func (nr *NodeRecord) Copy() *NodeRecord {
	ret := *nr
	ret.Labels = append([]uint32(nil), nr.Labels...)
	return &ret
}

/*
String returns a string representation of this node record.
*/
func (nr *NodeRecord) String() string {
	return fmt.Sprintf("Node %v (inUse:%v dense:%v nextRel:%v nextProp:%v labels:%v)",
		nr.ID, nr.InUse, nr.Dense, refString(nr.NextRel), refString(nr.NextProp), nr.Labels)
}

/*
encodeNode encodes a node record into a raw record.
*/
func encodeNode(nr *NodeRecord, rec *file.Record) {
	var flags byte

	if nr.InUse {
		flags |= FlagInUse
	}
	if nr.Dense {
		flags |= flagNodeDense
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteUInt64(1, nr.NextRel)
	rec.WriteUInt64(9, nr.NextProp)

	if nr.LabelRef != NilID {
		rec.WriteUInt64(17, labelFieldDynamic|nr.LabelRef)

	} else {
		var field uint64

		for i, l := range nr.Labels {
			field |= uint64(l+1) << uint(16*i)
		}
		rec.WriteUInt64(17, field)
	}
}

/*
decodeNode decodes a node record from a raw record.
*/
func decodeNode(rec *file.Record) *NodeRecord {
	flags := rec.ReadSingleByte(0)

	nr := &NodeRecord{
		ID:       rec.ID(),
		InUse:    flags&FlagInUse != 0,
		Dense:    flags&flagNodeDense != 0,
		NextRel:  rec.ReadUInt64(1),
		NextProp: rec.ReadUInt64(9),
		LabelRef: NilID,
	}

	field := rec.ReadUInt64(17)

	if field&labelFieldDynamic != 0 {
		nr.LabelRef = field &^ labelFieldDynamic

	} else {
		for i := 0; i < MaxInlineLabels; i++ {
			slot := uint32(field>>uint(16*i)) & 0xFFFF
			if slot != 0 {
				nr.Labels = append(nr.Labels, slot-1)
			}
		}
	}

	return nr
}

// Relationship records
// ====================

/*
Relationship record flags
*/
const (
	flagRelFirstInStartChain = 0x02
	flagRelFirstInEndChain   = 0x04
)

/*
RelationshipRecord is a single record of the relationship store. Every
relationship is a member of two doubly-linked chains - one per endpoint
node. The prev reference of the first relationship in a chain holds the
chain degree instead of a record reference.
*/
type RelationshipRecord struct {
	ID                uint64 // Record id
	InUse             bool   // In-use flag
	FirstInStartChain bool   // Flag if first in the start node chain
	FirstInEndChain   bool   // Flag if first in the end node chain
	StartNode         uint64 // Start node of the relationship
	EndNode           uint64 // End node of the relationship
	RelType           uint32 // Relationship type token
	StartPrev         uint64 // Previous relationship in the start node chain
	StartNext         uint64 // Next relationship in the start node chain
	EndPrev           uint64 // Previous relationship in the end node chain
	EndNext           uint64 // Next relationship in the end node chain
	NextProp          uint64 // First property record
}

/*
NewRelationshipRecord creates a new empty relationship record.
*/
func NewRelationshipRecord(id uint64) *RelationshipRecord {
	return &RelationshipRecord{id, false, false, false, NilID, NilID, 0,
		NilID, NilID, NilID, NilID, NilID}
}

/*
Copy returns a copy of this relationship record.
*/
func (rr *RelationshipRecord) Copy() *RelationshipRecord {
	ret := *rr
	return &ret
}

/*
String returns a string representation of this relationship record.
*/
func (rr *RelationshipRecord) String() string {
	return fmt.Sprintf("Rel %v (inUse:%v type:%v start:%v end:%v sPrev:%v sNext:%v ePrev:%v eNext:%v)",
		rr.ID, rr.InUse, rr.RelType, refString(rr.StartNode), refString(rr.EndNode),
		refString(rr.StartPrev), refString(rr.StartNext), refString(rr.EndPrev),
		refString(rr.EndNext))
}

/*
PrevForNode returns the prev chain reference of this relationship for a
given endpoint node.
*/
func (rr *RelationshipRecord) PrevForNode(node uint64) uint64 {
	if rr.StartNode == node {
		return rr.StartPrev
	}
	return rr.EndPrev
}

/*
NextForNode returns the next chain reference of this relationship for a
given endpoint node.
*/
func (rr *RelationshipRecord) NextForNode(node uint64) uint64 {
	if rr.StartNode == node {
		return rr.StartNext
	}
	return rr.EndNext
}

/*
SetPrevForNode sets the prev chain reference of this relationship for a
given endpoint node.
*/
func (rr *RelationshipRecord) SetPrevForNode(node uint64, prev uint64) {
	if rr.StartNode == node {
		rr.StartPrev = prev
	} else {
		rr.EndPrev = prev
	}
}

/*
SetNextForNode sets the next chain reference of this relationship for a
given endpoint node.
*/
func (rr *RelationshipRecord) SetNextForNode(node uint64, next uint64) {
	if rr.StartNode == node {
		rr.StartNext = next
	} else {
		rr.EndNext = next
	}
}

/*
FirstForNode returns if this relationship is the first in the chain of a
given endpoint node.
*/
func (rr *RelationshipRecord) FirstForNode(node uint64) bool {
	if rr.StartNode == node {
		return rr.FirstInStartChain
	}
	return rr.FirstInEndChain
}

/*
SetFirstForNode sets the first-in-chain flag of this relationship for a
given endpoint node.
*/
func (rr *RelationshipRecord) SetFirstForNode(node uint64, first bool) {
	if rr.StartNode == node {
		rr.FirstInStartChain = first
	} else {
		rr.FirstInEndChain = first
	}
}

/*
DirectionFor returns the chain direction of this relationship as seen from
a given endpoint node.
*/
func (rr *RelationshipRecord) DirectionFor(node uint64) Direction {
	if rr.StartNode == rr.EndNode {
		return DirectionLoop
	} else if rr.StartNode == node {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

/*
encodeRelationship encodes a relationship record into a raw record.
*/
func encodeRelationship(rr *RelationshipRecord, rec *file.Record) {
	var flags byte

	if rr.InUse {
		flags |= FlagInUse
	}
	if rr.FirstInStartChain {
		flags |= flagRelFirstInStartChain
	}
	if rr.FirstInEndChain {
		flags |= flagRelFirstInEndChain
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteUInt64(1, rr.StartNode)
	rec.WriteUInt64(9, rr.EndNode)
	rec.WriteUInt32(17, rr.RelType)
	rec.WriteUInt64(21, rr.StartPrev)
	rec.WriteUInt64(29, rr.StartNext)
	rec.WriteUInt64(37, rr.EndPrev)
	rec.WriteUInt64(45, rr.EndNext)
	rec.WriteUInt64(53, rr.NextProp)
}

/*
decodeRelationship decodes a relationship record from a raw record.
*/
func decodeRelationship(rec *file.Record) *RelationshipRecord {
	flags := rec.ReadSingleByte(0)

	return &RelationshipRecord{
		ID:                rec.ID(),
		InUse:             flags&FlagInUse != 0,
		FirstInStartChain: flags&flagRelFirstInStartChain != 0,
		FirstInEndChain:   flags&flagRelFirstInEndChain != 0,
		StartNode:         rec.ReadUInt64(1),
		EndNode:           rec.ReadUInt64(9),
		RelType:           rec.ReadUInt32(17),
		StartPrev:         rec.ReadUInt64(21),
		StartNext:         rec.ReadUInt64(29),
		EndPrev:           rec.ReadUInt64(37),
		EndNext:           rec.ReadUInt64(45),
		NextProp:          rec.ReadUInt64(53),
	}
}

// Relationship group records
// ==========================

/*
Relationship group record flags
*/
const (
	flagGroupExternalDegreesOut  = 0x02
	flagGroupExternalDegreesIn   = 0x04
	flagGroupExternalDegreesLoop = 0x08
)

/*
RelGroupRecord is a single record of the relationship group store. Dense
nodes reference a chain of group records - one per relationship type -
which in turn reference the per-direction relationship chains. Group
chains are kept sorted by ascending relationship type.
*/
type RelGroupRecord struct {
	ID                  uint64 // Record id
	InUse               bool   // In-use flag
	ExternalDegreesOut  bool   // Outgoing degree lives in the degrees store
	ExternalDegreesIn   bool   // Incoming degree lives in the degrees store
	ExternalDegreesLoop bool   // Loop degree lives in the degrees store
	RelType             uint32 // Relationship type of this group
	Next                uint64 // Next group record
	FirstOut            uint64 // First outgoing relationship
	FirstIn             uint64 // First incoming relationship
	FirstLoop           uint64 // First loop relationship
	OwningNode          uint64 // Node owning this group
}

/*
NewRelGroupRecord creates a new empty relationship group record.
*/
func NewRelGroupRecord(id uint64) *RelGroupRecord {
	return &RelGroupRecord{id, false, false, false, false, 0, NilID,
		NilID, NilID, NilID, NilID}
}

/*
Copy returns a copy of this relationship group record.
*/
func (gr *RelGroupRecord) Copy() *RelGroupRecord {
	ret := *gr
	return &ret
}

/*
String returns a string representation of this group record.
*/
func (gr *RelGroupRecord) String() string {
	return fmt.Sprintf("RelGroup %v (inUse:%v type:%v node:%v out:%v in:%v loop:%v next:%v)",
		gr.ID, gr.InUse, gr.RelType, refString(gr.OwningNode), refString(gr.FirstOut),
		refString(gr.FirstIn), refString(gr.FirstLoop), refString(gr.Next))
}

/*
First returns the first relationship of a given direction chain.
*/
func (gr *RelGroupRecord) First(d Direction) uint64 {
	switch d {
	case DirectionOutgoing:
		return gr.FirstOut
	case DirectionIncoming:
		return gr.FirstIn
	}
	return gr.FirstLoop
}

/*
SetFirst sets the first relationship of a given direction chain.
*/
func (gr *RelGroupRecord) SetFirst(d Direction, id uint64) {
	switch d {
	case DirectionOutgoing:
		gr.FirstOut = id
	case DirectionIncoming:
		gr.FirstIn = id
	default:
		gr.FirstLoop = id
	}
}

/*
HasExternalDegrees returns if the degree of a given direction chain lives
in the degrees store.
*/
func (gr *RelGroupRecord) HasExternalDegrees(d Direction) bool {
	switch d {
	case DirectionOutgoing:
		return gr.ExternalDegreesOut
	case DirectionIncoming:
		return gr.ExternalDegreesIn
	}
	return gr.ExternalDegreesLoop
}

/*
SetExternalDegrees marks the degree of a given direction chain as living
in the degrees store.
*/
func (gr *RelGroupRecord) SetExternalDegrees(d Direction) {
	switch d {
	case DirectionOutgoing:
		gr.ExternalDegreesOut = true
	case DirectionIncoming:
		gr.ExternalDegreesIn = true
	default:
		gr.ExternalDegreesLoop = true
	}
}

/*
encodeRelGroup encodes a relationship group record into a raw record.
*/
func encodeRelGroup(gr *RelGroupRecord, rec *file.Record) {
	var flags byte

	if gr.InUse {
		flags |= FlagInUse
	}
	if gr.ExternalDegreesOut {
		flags |= flagGroupExternalDegreesOut
	}
	if gr.ExternalDegreesIn {
		flags |= flagGroupExternalDegreesIn
	}
	if gr.ExternalDegreesLoop {
		flags |= flagGroupExternalDegreesLoop
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteUInt32(1, gr.RelType)
	rec.WriteUInt64(5, gr.Next)
	rec.WriteUInt64(13, gr.FirstOut)
	rec.WriteUInt64(21, gr.FirstIn)
	rec.WriteUInt64(29, gr.FirstLoop)
	rec.WriteUInt64(37, gr.OwningNode)
}

/*
decodeRelGroup decodes a relationship group record from a raw record.
*/
func decodeRelGroup(rec *file.Record) *RelGroupRecord {
	flags := rec.ReadSingleByte(0)

	return &RelGroupRecord{
		ID:                  rec.ID(),
		InUse:               flags&FlagInUse != 0,
		ExternalDegreesOut:  flags&flagGroupExternalDegreesOut != 0,
		ExternalDegreesIn:   flags&flagGroupExternalDegreesIn != 0,
		ExternalDegreesLoop: flags&flagGroupExternalDegreesLoop != 0,
		RelType:             rec.ReadUInt32(1),
		Next:                rec.ReadUInt64(5),
		FirstOut:            rec.ReadUInt64(13),
		FirstIn:             rec.ReadUInt64(21),
		FirstLoop:           rec.ReadUInt64(29),
		OwningNode:          rec.ReadUInt64(37),
	}
}

// Property records
// ================

/*
ValueType is the type of a property value stored in a property block.
*/
type ValueType byte

/*
Possible property value types. Short strings are inlined into the value
field of the block, long strings and arrays are stored as dynamic record
chains in the string and array stores.
*/
const (
	ValueTypeInt ValueType = iota
	ValueTypeFloat
	ValueTypeBool
	ValueTypeShortString
	ValueTypeString
	ValueTypeArray
)

/*
NilPropertyKey marks an empty property block.
*/
const NilPropertyKey = 0xFFFFFFFF

/*
BlocksPerPropertyRecord is the number of property blocks in a single
property record.
*/
const BlocksPerPropertyRecord = 3

/*
maxShortString is the longest string which can be inlined into a property
block value field.
*/
const maxShortString = 8

/*
PropertyBlock is a single key/value slot of a property record.
*/
type PropertyBlock struct {
	Key    uint32    // Property key token (NilPropertyKey if empty)
	Type   ValueType // Type of the stored value
	Length byte      // Length of an inlined short string
	Value  uint64    // Inline value or dynamic record reference
}

/*
InUse returns if this property block holds a value.
*/
func (pb *PropertyBlock) InUse() bool {
	return pb.Key != NilPropertyKey
}

/*
PropertyRecord is a single record of the property store. Properties of an
entity form a doubly-linked chain of property records.
*/
type PropertyRecord struct {
	ID       uint64                                // Record id
	InUse    bool                                  // In-use flag
	PrevProp uint64                                // Previous property record
	NextProp uint64                                // Next property record
	Blocks   [BlocksPerPropertyRecord]PropertyBlock // Payload blocks
}

/*
NewPropertyRecord creates a new empty property record.
*/
func NewPropertyRecord(id uint64) *PropertyRecord {
	pr := &PropertyRecord{id, false, NilID, NilID,
		[BlocksPerPropertyRecord]PropertyBlock{}}

	for i := range pr.Blocks {
		pr.Blocks[i].Key = NilPropertyKey
	}

	return pr
}

/*
Copy returns a copy of this property record.
*/
func (pr *PropertyRecord) Copy() *PropertyRecord {
	ret := *pr
	return &ret
}

/*
String returns a string representation of this property record.
*/
func (pr *PropertyRecord) String() string {
	return fmt.Sprintf("Property %v (inUse:%v prev:%v next:%v blocks:%v)",
		pr.ID, pr.InUse, refString(pr.PrevProp), refString(pr.NextProp), pr.Blocks)
}

/*
UsedBlocks returns the number of used property blocks of this record.
*/
func (pr *PropertyRecord) UsedBlocks() int {
	var count int

	for i := range pr.Blocks {
		if pr.Blocks[i].InUse() {
			count++
		}
	}

	return count
}

/*
encodeProperty encodes a property record into a raw record.
*/
func encodeProperty(pr *PropertyRecord, rec *file.Record) {
	var flags byte

	if pr.InUse {
		flags |= FlagInUse
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteUInt64(1, pr.PrevProp)
	rec.WriteUInt64(9, pr.NextProp)

	for i := range pr.Blocks {
		off := 17 + i*16

		rec.WriteUInt32(off, pr.Blocks[i].Key)
		rec.WriteSingleByte(off+4, byte(pr.Blocks[i].Type))
		rec.WriteSingleByte(off+5, pr.Blocks[i].Length)
		rec.WriteUInt64(off+8, pr.Blocks[i].Value)
	}
}

/*
decodeProperty decodes a property record from a raw record.
*/
func decodeProperty(rec *file.Record) *PropertyRecord {
	flags := rec.ReadSingleByte(0)

	pr := &PropertyRecord{
		ID:       rec.ID(),
		InUse:    flags&FlagInUse != 0,
		PrevProp: rec.ReadUInt64(1),
		NextProp: rec.ReadUInt64(9),
	}

	for i := range pr.Blocks {
		off := 17 + i*16

		pr.Blocks[i] = PropertyBlock{
			Key:    rec.ReadUInt32(off),
			Type:   ValueType(rec.ReadSingleByte(off + 4)),
			Length: rec.ReadSingleByte(off + 5),
			Value:  rec.ReadUInt64(off + 8),
		}

		// Records which were never written decode as all-zero - their
		// blocks must read as empty

		if !pr.InUse && pr.Blocks[i].Key == 0 && pr.Blocks[i].Value == 0 {
			pr.Blocks[i].Key = NilPropertyKey
		}
	}

	return pr
}

// Dynamic records
// ===============

/*
DynamicPayloadSize is the payload capacity of a single dynamic record.
*/
const DynamicPayloadSize = SizeDynamicRecord - 13

/*
DynamicRecord is a single record of the string or array store. Values
which do not fit into a single record form a singly-linked chain.
*/
type DynamicRecord struct {
	ID    uint64 // Record id
	InUse bool   // In-use flag
	Next  uint64 // Next record of the chain
	Data  []byte // Payload of this record
}

/*
NewDynamicRecord creates a new empty dynamic record.
*/
func NewDynamicRecord(id uint64) *DynamicRecord {
	return &DynamicRecord{id, false, NilID, nil}
}

/*
Copy returns a deep copy of this dynamic record.
*/
func (dr *DynamicRecord) Copy() *DynamicRecord {
	ret := *dr
	ret.Data = append([]byte(nil), dr.Data...)
	return &ret
}

/*
String returns a string representation of this dynamic record.
*/
func (dr *DynamicRecord) String() string {
	return fmt.Sprintf("Dynamic %v (inUse:%v next:%v len:%v)",
		dr.ID, dr.InUse, refString(dr.Next), len(dr.Data))
}

/*
encodeDynamic encodes a dynamic record into a raw record.
*/
func encodeDynamic(dr *DynamicRecord, rec *file.Record) {
	var flags byte

	if dr.InUse {
		flags |= FlagInUse
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteUInt64(1, dr.Next)
	rec.WriteUInt32(9, uint32(len(dr.Data)))
	rec.WriteBytes(13, dr.Data)
}

/*
decodeDynamic decodes a dynamic record from a raw record.
*/
func decodeDynamic(rec *file.Record) *DynamicRecord {
	flags := rec.ReadSingleByte(0)

	length := rec.ReadUInt32(9)
	if length > DynamicPayloadSize {
		length = DynamicPayloadSize
	}

	return &DynamicRecord{
		ID:    rec.ID(),
		InUse: flags&FlagInUse != 0,
		Next:  rec.ReadUInt64(1),
		Data:  rec.ReadBytes(13, int(length)),
	}
}

// Schema records
// ==============

/*
SchemaRecord is a single record of the schema store. The schema rule body
is stored as a dynamic record chain in the string store.
*/
type SchemaRecord struct {
	ID      uint64 // Record id
	InUse   bool   // In-use flag
	RuleRef uint64 // Dynamic record chain holding the rule body
}

/*
NewSchemaRecord creates a new empty schema record.
*/
func NewSchemaRecord(id uint64) *SchemaRecord {
	return &SchemaRecord{id, false, NilID}
}

/*
Copy returns a copy of this schema record.
*/
func (sr *SchemaRecord) Copy() *SchemaRecord {
	ret := *sr
	return &ret
}

/*
encodeSchema encodes a schema record into a raw record.
*/
func encodeSchema(sr *SchemaRecord, rec *file.Record) {
	var flags byte

	if sr.InUse {
		flags |= FlagInUse
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteUInt64(1, sr.RuleRef)
}

/*
decodeSchema decodes a schema record from a raw record.
*/
func decodeSchema(rec *file.Record) *SchemaRecord {
	flags := rec.ReadSingleByte(0)

	return &SchemaRecord{
		ID:      rec.ID(),
		InUse:   flags&FlagInUse != 0,
		RuleRef: rec.ReadUInt64(1),
	}
}

// Token records
// =============

/*
TokenKind is the kind of a token record.
*/
type TokenKind byte

/*
Possible token kinds
*/
const (
	TokenLabel TokenKind = iota
	TokenRelType
	TokenPropertyKey
)

/*
String returns a string representation of a TokenKind.
*/
func (tk TokenKind) String() string {
	switch tk {
	case TokenLabel:
		return "label"
	case TokenRelType:
		return "reltype"
	}
	return "propertykey"
}

/*
TokenRecord is a single record of the token store. The token id is the
record id, the token name is stored in the string store.
*/
type TokenRecord struct {
	ID      uint64    // Record id (the token id)
	InUse   bool      // In-use flag
	Kind    TokenKind // Kind of the token
	NameRef uint64    // Dynamic record chain holding the token name
}

/*
NewTokenRecord creates a new empty token record.
*/
func NewTokenRecord(id uint64) *TokenRecord {
	return &TokenRecord{id, false, TokenLabel, NilID}
}

/*
Copy returns a copy of this token record.
*/
func (tr *TokenRecord) Copy() *TokenRecord {
	ret := *tr
	return &ret
}

/*
encodeToken encodes a token record into a raw record.
*/
func encodeToken(tr *TokenRecord, rec *file.Record) {
	var flags byte

	if tr.InUse {
		flags |= FlagInUse
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteSingleByte(1, byte(tr.Kind))
	rec.WriteUInt64(2, tr.NameRef)
}

/*
decodeToken decodes a token record from a raw record.
*/
func decodeToken(rec *file.Record) *TokenRecord {
	flags := rec.ReadSingleByte(0)

	return &TokenRecord{
		ID:      rec.ID(),
		InUse:   flags&FlagInUse != 0,
		Kind:    TokenKind(rec.ReadSingleByte(1)),
		NameRef: rec.ReadUInt64(2),
	}
}

// Meta data records
// =================

/*
MetaDataRecord is a single record of the meta data store. Each reserved
position of the meta data store holds a single 64-bit value.
*/
type MetaDataRecord struct {
	ID    uint64 // Record id (the meta data position)
	InUse bool   // In-use flag
	Value uint64 // Stored value
}

/*
NewMetaDataRecord creates a new empty meta data record.
*/
func NewMetaDataRecord(id uint64) *MetaDataRecord {
	return &MetaDataRecord{id, false, 0}
}

/*
Copy returns a copy of this meta data record.
*/
func (mr *MetaDataRecord) Copy() *MetaDataRecord {
	ret := *mr
	return &ret
}

/*
String returns a string representation of this meta data record.
*/
func (mr *MetaDataRecord) String() string {
	return fmt.Sprintf("MetaData %v (inUse:%v value:%v)", mr.ID, mr.InUse, mr.Value)
}

/*
encodeMetaData encodes a meta data record into a raw record.
*/
func encodeMetaData(mr *MetaDataRecord, rec *file.Record) {
	var flags byte

	if mr.InUse {
		flags |= FlagInUse
	}

	rec.WriteSingleByte(0, flags)
	rec.WriteUInt64(1, mr.Value)
}

/*
decodeMetaData decodes a meta data record from a raw record.
*/
func decodeMetaData(rec *file.Record) *MetaDataRecord {
	flags := rec.ReadSingleByte(0)

	return &MetaDataRecord{
		ID:    rec.ID(),
		InUse: flags&FlagInUse != 0,
		Value: rec.ReadUInt64(1),
	}
}

/*
refString formats a record reference for display.
*/
func refString(ref uint64) string {
	if ref == NilID {
		return "nil"
	}
	return fmt.Sprint(ref)
}
