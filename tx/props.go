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
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

func init() {

	// It is possible to store nested structures as array values

	gob.Register([]interface{}{})
	gob.Register([]string{})
	gob.Register([]int64{})
	gob.Register([]float64{})
	gob.Register([]bool{})
	gob.Register(make(map[string]interface{}))
}

/*
propOwner abstracts the owning entity of a property chain.
*/
type propOwner interface {
	id() uint64
	nextProp() uint64
	setNextProp(id uint64)
}

/*
nodeOwner adapts a staged node record as a property chain owner.
*/
type nodeOwner struct {
	nc *NodeChange
}

func (o nodeOwner) id() uint64 {
	return o.nc.After.ID
}

func (o nodeOwner) nextProp() uint64 {
	return o.nc.After.NextProp
}

func (o nodeOwner) setNextProp(id uint64) {
	o.nc.After.NextProp = id
	o.nc.Changed = true
}

/*
relOwner adapts a staged relationship record as a property chain owner.
*/
type relOwner struct {
	rc *RelChange
}

func (o relOwner) id() uint64 {
	return o.rc.After.ID
}

func (o relOwner) nextProp() uint64 {
	return o.rc.After.NextProp
}

func (o relOwner) setNextProp(id uint64) {
	o.rc.After.NextProp = id
	o.rc.Changed = true
}

// Public property operations
// ==========================

/*
SetNodeProperty stages the addition or change of a node property.
*/
func (rs *RecordState) SetNodeProperty(nodeID uint64, key uint32, value interface{}) error {
	if err := rs.locker.AcquireExclusive(ResourceNode, nodeID); err != nil {
		return err
	}

	nc, err := rs.loadNode(nodeID)
	if err != nil {
		return err
	}

	return rs.setProperty(nodeOwner{nc}, key, value)
}

/*
RemoveNodeProperty stages the removal of a node property.
*/
func (rs *RecordState) RemoveNodeProperty(nodeID uint64, key uint32) error {
	if err := rs.locker.AcquireExclusive(ResourceNode, nodeID); err != nil {
		return err
	}

	nc, err := rs.loadNode(nodeID)
	if err != nil {
		return err
	}

	return rs.removeProperty(nodeOwner{nc}, key)
}

/*
SetRelProperty stages the addition or change of a relationship property.
*/
func (rs *RecordState) SetRelProperty(relID uint64, key uint32, value interface{}) error {
	if err := rs.locker.AcquireExclusive(ResourceRelationship, relID); err != nil {
		return err
	}

	rc, err := rs.loadRel(relID)
	if err != nil {
		return err
	}

	return rs.setProperty(relOwner{rc}, key, value)
}

/*
RemoveRelProperty stages the removal of a relationship property.
*/
func (rs *RecordState) RemoveRelProperty(relID uint64, key uint32) error {
	if err := rs.locker.AcquireExclusive(ResourceRelationship, relID); err != nil {
		return err
	}

	rc, err := rs.loadRel(relID)
	if err != nil {
		return err
	}

	return rs.removeProperty(relOwner{rc}, key)
}

/*
NodePropertyKeys returns all property keys of a node considering staged
changes.
*/
func (rs *RecordState) NodePropertyKeys(nodeID uint64) ([]uint32, error) {
	nc, err := rs.loadNode(nodeID)
	if err != nil {
		return nil, err
	}

	var keys []uint32

	for pid := nc.After.NextProp; pid != storage.NilID; {
		pc, err := rs.loadProp(pid)
		if err != nil {
			return nil, err
		}

		for i := range pc.After.Blocks {
			if pc.After.Blocks[i].InUse() {
				keys = append(keys, pc.After.Blocks[i].Key)
			}
		}

		pid = pc.After.NextProp
	}

	return keys, nil
}

// Chain manipulation
// ==================

/*
setProperty stages a property value on an entity. An existing block with
the same key is rewritten, otherwise the value goes into the first free
block of the chain or into a fresh record at the chain head.
*/
func (rs *RecordState) setProperty(owner propOwner, key uint32, value interface{}) error {
	var free *PropChange

	for pid := owner.nextProp(); pid != storage.NilID; {
		pc, err := rs.loadProp(pid)
		if err != nil {
			return err
		}

		for i := range pc.After.Blocks {
			block := &pc.After.Blocks[i]

			if block.InUse() && block.Key == key {

				// Rewrite the existing block

				if err := rs.freeBlockValue(pc, block); err != nil {
					return err
				}

				if err := rs.fillBlock(pc, block, key, value); err != nil {
					return err
				}

				pc.Changed = true

				return nil
			}

			if !block.InUse() && free == nil {
				free = pc
			}
		}

		pid = pc.After.NextProp
	}

	if free != nil {
		for i := range free.After.Blocks {
			block := &free.After.Blocks[i]

			if !block.InUse() {
				if err := rs.fillBlock(free, block, key, value); err != nil {
					return err
				}

				free.Changed = true

				return nil
			}
		}
	}

	// All records of the chain are full - add a fresh record at the head

	id, err := rs.stores.Props.NextID()
	if err != nil {
		return err
	}

	pc := rs.createProp(id)

	if err := rs.fillBlock(pc, &pc.After.Blocks[0], key, value); err != nil {
		return err
	}

	head := owner.nextProp()
	pc.After.NextProp = head

	if head != storage.NilID {
		hc, err := rs.loadProp(head)
		if err != nil {
			return err
		}

		hc.After.PrevProp = id
		hc.Changed = true
	}

	owner.setNextProp(id)

	return nil
}

/*
removeProperty stages the removal of a property from an entity. A record
whose last block is removed is unlinked from the chain and released.
*/
func (rs *RecordState) removeProperty(owner propOwner, key uint32) error {
	for pid := owner.nextProp(); pid != storage.NilID; {
		pc, err := rs.loadProp(pid)
		if err != nil {
			return err
		}

		for i := range pc.After.Blocks {
			block := &pc.After.Blocks[i]

			if block.InUse() && block.Key == key {
				if err := rs.freeBlockValue(pc, block); err != nil {
					return err
				}

				*block = storage.PropertyBlock{Key: storage.NilPropertyKey}
				pc.Changed = true

				if pc.After.UsedBlocks() == 0 {
					return rs.unlinkProp(owner, pc)
				}

				return nil
			}
		}

		pid = pc.After.NextProp
	}

	return nil
}

/*
unlinkProp removes an empty property record from its chain and releases
it.
*/
func (rs *RecordState) unlinkProp(owner propOwner, pc *PropChange) error {
	prev := pc.After.PrevProp
	next := pc.After.NextProp

	if prev == storage.NilID {
		owner.setNextProp(next)

	} else {
		prevc, err := rs.loadProp(prev)
		if err != nil {
			return err
		}

		prevc.After.NextProp = next
		prevc.Changed = true
	}

	if next != storage.NilID {
		nextc, err := rs.loadProp(next)
		if err != nil {
			return err
		}

		nextc.After.PrevProp = prev
		nextc.Changed = true
	}

	dynamic := pc.Dynamic

	pc.After = storage.NewPropertyRecord(pc.After.ID)
	pc.Dynamic = dynamic
	pc.Changed = true

	return nil
}

/*
deletePropertyChain stages the deletion of a whole property chain
including all dynamic values.
*/
func (rs *RecordState) deletePropertyChain(start uint64) error {
	for pid := start; pid != storage.NilID; {
		pc, err := rs.loadProp(pid)
		if err != nil {
			return err
		}

		pid = pc.After.NextProp

		for i := range pc.After.Blocks {
			block := &pc.After.Blocks[i]

			if block.InUse() {
				if err := rs.freeBlockValue(pc, block); err != nil {
					return err
				}
			}
		}

		dynamic := pc.Dynamic

		pc.After = storage.NewPropertyRecord(pc.After.ID)
		pc.Dynamic = dynamic
		pc.Changed = true
	}

	return nil
}

// Value encoding
// ==============

/*
fillBlock encodes a property value into a block of a staged property
record. Long values are staged as dynamic record chains.
*/
func (rs *RecordState) fillBlock(pc *PropChange, block *storage.PropertyBlock,
	key uint32, value interface{}) error {

	block.Key = key
	block.Length = 0

	switch v := value.(type) {

	case int:
		block.Type = storage.ValueTypeInt
		block.Value = uint64(int64(v))

	case int32:
		block.Type = storage.ValueTypeInt
		block.Value = uint64(int64(v))

	case int64:
		block.Type = storage.ValueTypeInt
		block.Value = uint64(v)

	case float64:
		block.Type = storage.ValueTypeFloat
		block.Value = math.Float64bits(v)

	case bool:
		block.Type = storage.ValueTypeBool
		block.Value = 0
		if v {
			block.Value = 1
		}

	case string:
		if packed, length, ok := storage.PackShortString(v); ok {
			block.Type = storage.ValueTypeShortString
			block.Length = length
			block.Value = packed

		} else {
			ref, ids, err := rs.stageDynamicData(false, []byte(v))
			if err != nil {
				return err
			}

			block.Type = storage.ValueTypeString
			block.Value = ref

			for _, id := range ids {
				pc.Dynamic = append(pc.Dynamic, dynRef{false, id})
			}
		}

	default:
		var buf bytes.Buffer

		if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
			return &util.StorageError{Type: util.ErrValidation,
				Detail: fmt.Sprintf("Cannot encode property value: %v", err)}
		}

		ref, ids, err := rs.stageDynamicData(true, buf.Bytes())
		if err != nil {
			return err
		}

		block.Type = storage.ValueTypeArray
		block.Value = ref

		for _, id := range ids {
			pc.Dynamic = append(pc.Dynamic, dynRef{true, id})
		}
	}

	return nil
}

/*
freeBlockValue releases the dynamic records of a block value.
*/
func (rs *RecordState) freeBlockValue(pc *PropChange, block *storage.PropertyBlock) error {
	if !block.InUse() {
		return nil
	}

	switch block.Type {

	case storage.ValueTypeString:
		ids, err := rs.freeDynamicChain(false, block.Value)
		if err != nil {
			return err
		}
		for _, id := range ids {
			pc.Dynamic = append(pc.Dynamic, dynRef{false, id})
		}

	case storage.ValueTypeArray:
		ids, err := rs.freeDynamicChain(true, block.Value)
		if err != nil {
			return err
		}
		for _, id := range ids {
			pc.Dynamic = append(pc.Dynamic, dynRef{true, id})
		}
	}

	return nil
}
