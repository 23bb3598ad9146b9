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
)

/*
ExtractCommands walks the staged record mutations in a fixed order and
appends one command per changed record to the given list. The order is
schema, tokens, nodes, relationships, relationship groups and properties
- within each kind commands are ordered by ascending record id. This
order is the durable log order. Counter and external degree deltas are
not appended here - see CountsState.ExtractCommands and
ExtractDegreeCommands.
*/
func (rs *RecordState) ExtractCommands(out *[]command.Command, ver command.KernelVersion) error {

	for _, id := range sortedKeysSchema(rs.schemaRecs) {
		sc := rs.schemaRecs[id]
		if !sc.Changed {
			continue
		}

		dyn, err := rs.dynChanges(false, sc.Dynamic)
		if err != nil {
			return err
		}

		*out = append(*out, &command.SchemaCommand{
			Ver: ver, Before: sc.Before, After: sc.After,
			Rule: sc.Rule, Dynamic: dyn})
	}

	for _, id := range sortedKeysToken(rs.tokens) {
		tc := rs.tokens[id]
		if !tc.Changed {
			continue
		}

		dyn, err := rs.dynChanges(false, tc.Dynamic)
		if err != nil {
			return err
		}

		*out = append(*out, &command.TokenCommand{
			Ver: ver, Before: tc.Before, After: tc.After,
			Name: tc.Name, Dynamic: dyn})
	}

	for _, id := range sortedKeysNode(rs.nodes) {
		nc := rs.nodes[id]
		if !nc.Changed {
			continue
		}

		dyn, err := rs.dynChanges(true, nc.Dynamic)
		if err != nil {
			return err
		}

		*out = append(*out, &command.NodeCommand{
			Ver: ver, Before: nc.Before, After: nc.After, Dynamic: dyn})
	}

	for _, id := range sortedKeysRel(rs.rels) {
		rc := rs.rels[id]
		if !rc.Changed {
			continue
		}

		*out = append(*out, &command.RelationshipCommand{
			Ver: ver, Before: rc.Before, After: rc.After})
	}

	for _, id := range sortedKeysGroup(rs.groups) {
		gc := rs.groups[id]
		if !gc.Changed {
			continue
		}

		*out = append(*out, &command.RelGroupCommand{
			Ver: ver, Before: gc.Before, After: gc.After})
	}

	for _, id := range sortedKeysProp(rs.props) {
		pc := rs.props[id]
		if !pc.Changed {
			continue
		}

		dyn, err := rs.mixedDynChanges(pc.Dynamic)
		if err != nil {
			return err
		}

		*out = append(*out, &command.PropertyCommand{
			Ver: ver, Before: pc.Before, After: pc.After, Dynamic: dyn})
	}

	return nil
}

/*
ExtractDegreeCommands appends one command per accumulated external degree
delta to the given list, ordered by group id and direction.
*/
func (rs *RecordState) ExtractDegreeCommands(out *[]command.Command, ver command.KernelVersion) {
	keys := make([]counts.DegreeKey, 0, len(rs.degrees))

	for key := range rs.degrees {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Group != keys[j].Group {
			return keys[i].Group < keys[j].Group
		}
		return keys[i].Direction < keys[j].Direction
	})

	for _, key := range keys {
		if delta := rs.degrees[key]; delta != 0 {
			*out = append(*out, &command.DegreesCommand{Ver: ver, Key: key, Delta: delta})
		}
	}
}

/*
dynChanges builds the command representation of staged dynamic records of
a single store.
*/
func (rs *RecordState) dynChanges(array bool, ids []uint64) ([]command.DynamicChange, error) {
	var changes []command.DynamicChange

	m := rs.dynMap(array)

	for _, id := range ids {
		dc, ok := m[id]
		if !ok || !dc.Changed {
			continue
		}

		changes = append(changes, command.DynamicChange{
			Array: array, Before: dc.Before, After: dc.After})
	}

	return changes, nil
}

/*
mixedDynChanges builds the command representation of staged dynamic
records referenced by a property record.
*/
func (rs *RecordState) mixedDynChanges(refs []dynRef) ([]command.DynamicChange, error) {
	var changes []command.DynamicChange

	for _, ref := range refs {
		dc, ok := rs.dynMap(ref.array)[ref.id]
		if !ok || !dc.Changed {
			continue
		}

		changes = append(changes, command.DynamicChange{
			Array: ref.array, Before: dc.Before, After: dc.After})
	}

	return changes, nil
}

// Key ordering helpers
// ====================

func sortedIDs(ids []uint64) []uint64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedKeysNode(m map[uint64]*NodeChange) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}

func sortedKeysRel(m map[uint64]*RelChange) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}

func sortedKeysGroup(m map[uint64]*GroupChange) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}

func sortedKeysProp(m map[uint64]*PropChange) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}

func sortedKeysSchema(m map[uint64]*SchemaChange) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}

func sortedKeysToken(m map[uint64]*TokenChange) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return sortedIDs(ids)
}
