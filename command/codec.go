/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package command

import (
	"fmt"
	"io"

	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

/*
Encode writes a single command to a given writer.
*/
func Encode(w io.Writer, c Command) error {
	e := &encoder{w, nil}

	e.writeByte(byte(c.Kind()))
	e.writeByte(byte(c.Version()))
	c.encode(e)

	return e.err
}

/*
Decode reads a single command from a given reader. At a clean end of the
stream io.EOF is returned.
*/
func Decode(r io.Reader) (Command, error) {
	d := &decoder{r, nil}

	kind := d.readByte()
	if d.err == io.EOF {
		return nil, io.EOF
	}

	ver := KernelVersion(d.readByte())

	var c Command

	switch Kind(kind) {

	case KindSchema:
		c = decodeSchemaCommand(d, ver)
	case KindToken:
		c = decodeTokenCommand(d, ver)
	case KindNode:
		c = &NodeCommand{ver, d.readNode(), d.readNode(), d.readDynamicChanges()}
	case KindRelationship:
		c = &RelationshipCommand{ver, d.readRelationship(), d.readRelationship()}
	case KindRelGroup:
		c = &RelGroupCommand{ver, d.readRelGroup(), d.readRelGroup()}
	case KindProperty:
		c = &PropertyCommand{ver, d.readProperty(), d.readProperty(), d.readDynamicChanges()}
	case KindCounts:
		c = &CountsCommand{ver, counts.Key{
			Kind:  d.readByte(),
			Start: int32(d.readUInt32()),
			Type:  int32(d.readUInt32()),
			End:   int32(d.readUInt32()),
		}, int64(d.readUInt64())}
	case KindDegrees:
		c = &DegreesCommand{ver, counts.DegreeKey{
			Group:     d.readUInt64(),
			Direction: d.readByte(),
		}, int64(d.readUInt64())}
	case KindMetaData:
		c = &MetaDataCommand{ver, d.readMetaData(), d.readMetaData()}

	default:
		return nil, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Unknown command kind %v", kind)}
	}

	if d.err != nil {
		return nil, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: d.err.Error()}
	}

	return c, nil
}

// Command encoders
// ================

func (c *NodeCommand) encode(e *encoder) {
	e.writeNode(c.Before)
	e.writeNode(c.After)
	e.writeDynamicChanges(c.Dynamic)
}

func (c *RelationshipCommand) encode(e *encoder) {
	e.writeRelationship(c.Before)
	e.writeRelationship(c.After)
}

func (c *RelGroupCommand) encode(e *encoder) {
	e.writeRelGroup(c.Before)
	e.writeRelGroup(c.After)
}

func (c *PropertyCommand) encode(e *encoder) {
	e.writeProperty(c.Before)
	e.writeProperty(c.After)
	e.writeDynamicChanges(c.Dynamic)
}

func (c *SchemaCommand) encode(e *encoder) {
	e.writeUInt64(c.Before.ID)
	e.writeBool(c.Before.InUse)
	e.writeUInt64(c.Before.RuleRef)
	e.writeUInt64(c.After.ID)
	e.writeBool(c.After.InUse)
	e.writeUInt64(c.After.RuleRef)

	if c.Rule != nil {
		data, err := schema.EncodeRule(c.Rule)
		if err != nil && e.err == nil {
			e.err = err
		}
		e.writeBytes(data)
	} else {
		e.writeBytes(nil)
	}

	e.writeDynamicChanges(c.Dynamic)
}

func decodeSchemaCommand(d *decoder, ver KernelVersion) *SchemaCommand {
	c := &SchemaCommand{Ver: ver}

	c.Before = &storage.SchemaRecord{
		ID: d.readUInt64(), InUse: d.readBool(), RuleRef: d.readUInt64()}
	c.After = &storage.SchemaRecord{
		ID: d.readUInt64(), InUse: d.readBool(), RuleRef: d.readUInt64()}

	if data := d.readBytes(); len(data) > 0 && d.err == nil {
		rule, err := schema.DecodeRule(data)
		if err != nil {
			d.err = err
		}
		c.Rule = rule
	}

	c.Dynamic = d.readDynamicChanges()

	return c
}

func (c *TokenCommand) encode(e *encoder) {
	e.writeToken(c.Before)
	e.writeToken(c.After)
	e.writeBytes([]byte(c.Name))
	e.writeDynamicChanges(c.Dynamic)
}

func decodeTokenCommand(d *decoder, ver KernelVersion) *TokenCommand {
	return &TokenCommand{ver, d.readToken(), d.readToken(),
		string(d.readBytes()), d.readDynamicChanges()}
}

func (c *CountsCommand) encode(e *encoder) {
	e.writeByte(c.Key.Kind)
	e.writeUInt32(uint32(c.Key.Start))
	e.writeUInt32(uint32(c.Key.Type))
	e.writeUInt32(uint32(c.Key.End))
	e.writeUInt64(uint64(c.Delta))
}

func (c *DegreesCommand) encode(e *encoder) {
	e.writeUInt64(c.Key.Group)
	e.writeByte(c.Key.Direction)
	e.writeUInt64(uint64(c.Delta))
}

func (c *MetaDataCommand) encode(e *encoder) {
	e.writeMetaData(c.Before)
	e.writeMetaData(c.After)
}

// Record encoding
// ===============

/*
encoder writes primitive values to a stream and keeps the first error.
*/
type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) write(data []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(data)
	}
}

func (e *encoder) writeByte(v byte) {
	e.write([]byte{v})
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.writeByte(1)
	} else {
		e.writeByte(0)
	}
}

func (e *encoder) writeUInt32(v uint32) {
	e.write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func (e *encoder) writeUInt64(v uint64) {
	e.writeUInt32(uint32(v >> 32))
	e.writeUInt32(uint32(v))
}

func (e *encoder) writeBytes(data []byte) {
	e.writeUInt32(uint32(len(data)))
	e.write(data)
}

func (e *encoder) writeNode(nr *storage.NodeRecord) {
	e.writeUInt64(nr.ID)
	e.writeBool(nr.InUse)
	e.writeBool(nr.Dense)
	e.writeUInt64(nr.NextRel)
	e.writeUInt64(nr.NextProp)
	e.writeUInt64(nr.LabelRef)
	e.writeUInt32(uint32(len(nr.Labels)))
	for _, l := range nr.Labels {
		e.writeUInt32(l)
	}
}

func (e *encoder) writeRelationship(rr *storage.RelationshipRecord) {
	e.writeUInt64(rr.ID)
	e.writeBool(rr.InUse)
	e.writeBool(rr.FirstInStartChain)
	e.writeBool(rr.FirstInEndChain)
	e.writeUInt64(rr.StartNode)
	e.writeUInt64(rr.EndNode)
	e.writeUInt32(rr.RelType)
	e.writeUInt64(rr.StartPrev)
	e.writeUInt64(rr.StartNext)
	e.writeUInt64(rr.EndPrev)
	e.writeUInt64(rr.EndNext)
	e.writeUInt64(rr.NextProp)
}

func (e *encoder) writeRelGroup(gr *storage.RelGroupRecord) {
	e.writeUInt64(gr.ID)
	e.writeBool(gr.InUse)
	e.writeBool(gr.ExternalDegreesOut)
	e.writeBool(gr.ExternalDegreesIn)
	e.writeBool(gr.ExternalDegreesLoop)
	e.writeUInt32(gr.RelType)
	e.writeUInt64(gr.Next)
	e.writeUInt64(gr.FirstOut)
	e.writeUInt64(gr.FirstIn)
	e.writeUInt64(gr.FirstLoop)
	e.writeUInt64(gr.OwningNode)
}

func (e *encoder) writeProperty(pr *storage.PropertyRecord) {
	e.writeUInt64(pr.ID)
	e.writeBool(pr.InUse)
	e.writeUInt64(pr.PrevProp)
	e.writeUInt64(pr.NextProp)
	for i := range pr.Blocks {
		e.writeUInt32(pr.Blocks[i].Key)
		e.writeByte(byte(pr.Blocks[i].Type))
		e.writeByte(pr.Blocks[i].Length)
		e.writeUInt64(pr.Blocks[i].Value)
	}
}

func (e *encoder) writeDynamic(dr *storage.DynamicRecord) {
	e.writeUInt64(dr.ID)
	e.writeBool(dr.InUse)
	e.writeUInt64(dr.Next)
	e.writeBytes(dr.Data)
}

func (e *encoder) writeDynamicChanges(changes []DynamicChange) {
	e.writeUInt32(uint32(len(changes)))
	for _, dc := range changes {
		e.writeBool(dc.Array)
		e.writeDynamic(dc.Before)
		e.writeDynamic(dc.After)
	}
}

func (e *encoder) writeToken(tr *storage.TokenRecord) {
	e.writeUInt64(tr.ID)
	e.writeBool(tr.InUse)
	e.writeByte(byte(tr.Kind))
	e.writeUInt64(tr.NameRef)
}

func (e *encoder) writeMetaData(mr *storage.MetaDataRecord) {
	e.writeUInt64(mr.ID)
	e.writeBool(mr.InUse)
	e.writeUInt64(mr.Value)
}

/*
decoder reads primitive values from a stream and keeps the first error.
*/
type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) read(length int) []byte {
	data := make([]byte, length)

	if d.err == nil {
		_, d.err = io.ReadFull(d.r, data)
	}

	return data
}

func (d *decoder) readByte() byte {
	return d.read(1)[0]
}

func (d *decoder) readBool() bool {
	return d.readByte() != 0
}

func (d *decoder) readUInt32() uint32 {
	data := d.read(4)
	return uint32(data[0])<<24 | uint32(data[1])<<16 |
		uint32(data[2])<<8 | uint32(data[3])
}

func (d *decoder) readUInt64() uint64 {
	return uint64(d.readUInt32())<<32 | uint64(d.readUInt32())
}

func (d *decoder) readBytes() []byte {
	length := d.readUInt32()

	if d.err != nil || length == 0 {
		return nil
	}

	return d.read(int(length))
}

func (d *decoder) readNode() *storage.NodeRecord {
	nr := &storage.NodeRecord{
		ID:       d.readUInt64(),
		InUse:    d.readBool(),
		Dense:    d.readBool(),
		NextRel:  d.readUInt64(),
		NextProp: d.readUInt64(),
		LabelRef: d.readUInt64(),
	}

	count := d.readUInt32()
	if d.err == nil {
		for i := uint32(0); i < count; i++ {
			nr.Labels = append(nr.Labels, d.readUInt32())
		}
	}

	return nr
}

func (d *decoder) readRelationship() *storage.RelationshipRecord {
	return &storage.RelationshipRecord{
		ID:                d.readUInt64(),
		InUse:             d.readBool(),
		FirstInStartChain: d.readBool(),
		FirstInEndChain:   d.readBool(),
		StartNode:         d.readUInt64(),
		EndNode:           d.readUInt64(),
		RelType:           d.readUInt32(),
		StartPrev:         d.readUInt64(),
		StartNext:         d.readUInt64(),
		EndPrev:           d.readUInt64(),
		EndNext:           d.readUInt64(),
		NextProp:          d.readUInt64(),
	}
}

func (d *decoder) readRelGroup() *storage.RelGroupRecord {
	return &storage.RelGroupRecord{
		ID:                  d.readUInt64(),
		InUse:               d.readBool(),
		ExternalDegreesOut:  d.readBool(),
		ExternalDegreesIn:   d.readBool(),
		ExternalDegreesLoop: d.readBool(),
		RelType:             d.readUInt32(),
		Next:                d.readUInt64(),
		FirstOut:            d.readUInt64(),
		FirstIn:             d.readUInt64(),
		FirstLoop:           d.readUInt64(),
		OwningNode:          d.readUInt64(),
	}
}

func (d *decoder) readProperty() *storage.PropertyRecord {
	pr := &storage.PropertyRecord{
		ID:       d.readUInt64(),
		InUse:    d.readBool(),
		PrevProp: d.readUInt64(),
		NextProp: d.readUInt64(),
	}

	for i := range pr.Blocks {
		pr.Blocks[i] = storage.PropertyBlock{
			Key:    d.readUInt32(),
			Type:   storage.ValueType(d.readByte()),
			Length: d.readByte(),
			Value:  d.readUInt64(),
		}
	}

	return pr
}

func (d *decoder) readDynamic() *storage.DynamicRecord {
	return &storage.DynamicRecord{
		ID:    d.readUInt64(),
		InUse: d.readBool(),
		Next:  d.readUInt64(),
		Data:  d.readBytes(),
	}
}

func (d *decoder) readDynamicChanges() []DynamicChange {
	count := d.readUInt32()

	if d.err != nil || count == 0 {
		return nil
	}

	changes := make([]DynamicChange, 0, count)
	for i := uint32(0); i < count; i++ {
		changes = append(changes, DynamicChange{
			Array:  d.readBool(),
			Before: d.readDynamic(),
			After:  d.readDynamic(),
		})
	}

	return changes
}

func (d *decoder) readToken() *storage.TokenRecord {
	return &storage.TokenRecord{
		ID:      d.readUInt64(),
		InUse:   d.readBool(),
		Kind:    storage.TokenKind(d.readByte()),
		NameRef: d.readUInt64(),
	}
}

func (d *decoder) readMetaData() *storage.MetaDataRecord {
	return &storage.MetaDataRecord{
		ID:    d.readUInt64(),
		InUse: d.readBool(),
		Value: d.readUInt64(),
	}
}
