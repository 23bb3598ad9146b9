/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package engine

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

/*
Reader is a read-only handle on the engine. Readers are cheap to create
and do not block writers.
*/
type Reader struct {
	engine *Engine
}

/*
NewReader creates a new read-only handle.
*/
func (e *Engine) NewReader() *Reader {
	return &Reader{e}
}

/*
Node reads a node record. Records which are not in use are returned
with the in-use flag cleared.
*/
func (r *Reader) Node(id uint64) (*storage.NodeRecord, error) {
	return r.engine.stores.Nodes.Get(id, storage.LoadCheck)
}

/*
Relationship reads a relationship record.
*/
func (r *Reader) Relationship(id uint64) (*storage.RelationshipRecord, error) {
	return r.engine.stores.Rels.Get(id, storage.LoadCheck)
}

/*
RelationshipGroup reads a relationship group record.
*/
func (r *Reader) RelationshipGroup(id uint64) (*storage.RelGroupRecord, error) {
	return r.engine.stores.Groups.Get(id, storage.LoadCheck)
}

/*
NodeLabels returns all labels of a node including spilled labels.
*/
func (r *Reader) NodeLabels(id uint64) ([]uint32, error) {
	nr, err := r.engine.stores.Nodes.Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	if nr.LabelRef == storage.NilID {
		return nr.Labels, nil
	}

	data, err := r.engine.stores.Arrays.ReadChain(nr.LabelRef)
	if err != nil {
		return nil, err
	}

	labels := make([]uint32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		labels = append(labels, uint32(data[i])<<24|uint32(data[i+1])<<16|
			uint32(data[i+2])<<8|uint32(data[i+3]))
	}

	return labels, nil
}

/*
NodeProperties returns all properties of a node.
*/
func (r *Reader) NodeProperties(id uint64) (map[uint32]interface{}, error) {
	nr, err := r.engine.stores.Nodes.Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	return r.readPropertyChain(nr.NextProp)
}

/*
RelationshipProperties returns all properties of a relationship.
*/
func (r *Reader) RelationshipProperties(id uint64) (map[uint32]interface{}, error) {
	rr, err := r.engine.stores.Rels.Get(id, storage.LoadNormal)
	if err != nil {
		return nil, err
	}

	return r.readPropertyChain(rr.NextProp)
}

/*
readPropertyChain reads and decodes a full property chain.
*/
func (r *Reader) readPropertyChain(start uint64) (map[uint32]interface{}, error) {
	props := make(map[uint32]interface{})

	for pid := start; pid != storage.NilID; {
		pr, err := r.engine.stores.Props.Get(pid, storage.LoadNormal)
		if err != nil {
			return nil, err
		}

		for i := range pr.Blocks {
			block := &pr.Blocks[i]

			if !block.InUse() {
				continue
			}

			value, err := r.decodeValue(block)
			if err != nil {
				return nil, err
			}

			props[block.Key] = value
		}

		pid = pr.NextProp
	}

	return props, nil
}

/*
decodeValue decodes a single property block value.
*/
func (r *Reader) decodeValue(block *storage.PropertyBlock) (interface{}, error) {
	switch block.Type {

	case storage.ValueTypeInt:
		return int64(block.Value), nil

	case storage.ValueTypeFloat:
		return math.Float64frombits(block.Value), nil

	case storage.ValueTypeBool:
		return block.Value != 0, nil

	case storage.ValueTypeShortString:
		return storage.UnpackShortString(block.Value, block.Length), nil

	case storage.ValueTypeString:
		data, err := r.engine.stores.Strings.ReadChain(block.Value)
		if err != nil {
			return nil, err
		}
		return string(data), nil

	case storage.ValueTypeArray:
		data, err := r.engine.stores.Arrays.ReadChain(block.Value)
		if err != nil {
			return nil, err
		}

		var value interface{}

		if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&value); err != nil {
			return nil, &util.StorageError{Type: util.ErrFormatMismatch,
				Detail: fmt.Sprintf("Cannot decode array value: %v", err)}
		}

		return value, nil
	}

	return nil, &util.StorageError{Type: util.ErrFormatMismatch,
		Detail: fmt.Sprintf("Unknown property value type %v", block.Type)}
}

/*
NodeDegree returns the total number of relationships of a node.
*/
func (r *Reader) NodeDegree(id uint64) (int64, error) {
	nr, err := r.engine.stores.Nodes.Get(id, storage.LoadNormal)
	if err != nil {
		return 0, err
	}

	if !nr.Dense {
		if nr.NextRel == storage.NilID {
			return 0, nil
		}

		head, err := r.engine.stores.Rels.Get(nr.NextRel, storage.LoadNormal)
		if err != nil {
			return 0, err
		}

		return int64(head.PrevForNode(id)), nil
	}

	var degree int64

	for gid := nr.NextRel; gid != storage.NilID; {
		gr, err := r.engine.stores.Groups.Get(gid, storage.LoadNormal)
		if err != nil {
			return 0, err
		}

		for _, dir := range []storage.Direction{storage.DirectionOutgoing,
			storage.DirectionIncoming, storage.DirectionLoop} {

			if gr.HasExternalDegrees(dir) {
				degree += r.engine.degreesStore.Degree(
					counts.DegreeKey{Group: gid, Direction: byte(dir)})

			} else if first := gr.First(dir); first != storage.NilID {
				head, err := r.engine.stores.Rels.Get(first, storage.LoadNormal)
				if err != nil {
					return 0, err
				}

				degree += int64(head.PrevForNode(id))
			}
		}

		gid = gr.Next
	}

	return degree, nil
}

/*
NodeCount returns the number of nodes with a given label. The wildcard
returns the total node count.
*/
func (r *Reader) NodeCount(label int32) int64 {
	return r.engine.countsStore.Count(counts.NodeKey(label))
}

/*
RelationshipCount returns the number of relationships matching a given
start label, type and end label tuple.
*/
func (r *Reader) RelationshipCount(start int32, relType int32, end int32) int64 {
	return r.engine.countsStore.Count(counts.RelationshipKey(start, relType, end))
}

/*
TokenID looks up a token id by kind and name.
*/
func (r *Reader) TokenID(kind storage.TokenKind, name string) (uint64, bool) {
	return r.engine.tokens.IDFor(kind, name)
}

/*
TokenName returns the name of a token.
*/
func (r *Reader) TokenName(id uint64) string {
	return r.engine.tokens.Name(id)
}
