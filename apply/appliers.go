/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package apply

import (
	"fmt"

	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

// Consistency checking applier
// ============================

/*
consistencyApplier verifies record invariants before anything is
written. It is only part of the chain when the consistency check on
apply is configured.
*/
type consistencyApplier struct {
	stores *storage.Stores
}

func (a *consistencyApplier) apply(cmd command.Command) error {
	switch c := cmd.(type) {

	case *command.RelationshipCommand:
		if !c.After.InUse {
			return nil
		}

		for _, nodeID := range []uint64{c.After.StartNode, c.After.EndNode} {
			if err := a.checkNodeInUse(nodeID); err != nil {
				return err
			}
		}

	case *command.RelGroupCommand:
		if c.After.InUse {
			return a.checkNodeInUse(c.After.OwningNode)
		}
	}

	return nil
}

/*
checkNodeInUse verifies that a node record is or becomes in use.
*/
func (a *consistencyApplier) checkNodeInUse(id uint64) error {
	nr, err := a.stores.Nodes.Get(id, storage.LoadAlways)
	if err != nil {
		return err
	}

	if !nr.InUse {
		return &util.StorageError{Type: util.ErrApplyFailure,
			Detail: fmt.Sprintf("Relationship references node %v which is not in use", id)}
	}

	return nil
}

func (a *consistencyApplier) close() error {
	return nil
}

// Record store applier
// ====================

/*
neoStoreApplier writes the record mutations of the commands to the
record stores. Affected records are locked through the lock service for
the duration of the transaction.
*/
type neoStoreApplier struct {
	stores    *storage.Stores
	locks     LockService
	ctx       *BatchContext
	unlockers []func()
}

func (a *neoStoreApplier) apply(cmd command.Command) error {
	listener := a.ctx.idListener

	switch c := cmd.(type) {

	case *command.NodeCommand:
		a.unlockers = append(a.unlockers, a.locks.LockNode(c.After.ID))

		if err := a.stores.Nodes.Update(c.After, listener); err != nil {
			return err
		}

		return a.applyDynamic(c.Dynamic, listener)

	case *command.RelationshipCommand:
		a.unlockers = append(a.unlockers, a.locks.LockRelationship(c.After.ID))

		return a.stores.Rels.Update(c.After, listener)

	case *command.RelGroupCommand:
		return a.stores.Groups.Update(c.After, listener)

	case *command.PropertyCommand:
		if err := a.stores.Props.Update(c.After, listener); err != nil {
			return err
		}

		return a.applyDynamic(c.Dynamic, listener)

	case *command.SchemaCommand:
		if err := a.stores.Schema.Update(c.After, listener); err != nil {
			return err
		}

		return a.applyDynamic(c.Dynamic, listener)

	case *command.TokenCommand:
		if err := a.stores.Tokens.Update(c.After, listener); err != nil {
			return err
		}

		return a.applyDynamic(c.Dynamic, listener)

	case *command.MetaDataCommand:
		return a.stores.Meta.Update(c.After, nil)
	}

	return nil
}

/*
applyDynamic writes the dynamic records carried by a command.
*/
func (a *neoStoreApplier) applyDynamic(changes []command.DynamicChange,
	listener storage.IDUpdateListener) error {

	for _, dc := range changes {
		store := a.stores.Strings
		if dc.Array {
			store = a.stores.Arrays
		}

		if err := store.Update(dc.After, listener); err != nil {
			return err
		}
	}

	return nil
}

func (a *neoStoreApplier) close() error {
	for _, unlock := range a.unlockers {
		unlock()
	}

	a.unlockers = nil

	return nil
}

// High id applier
// ===============

/*
highIDApplier propagates observed record ids into the record files and
id generators. It is part of the chain for externally created
transactions and during recovery where ids were allocated elsewhere.
*/
type highIDApplier struct {
	stores *storage.Stores
	highs  map[string]uint64
}

func (a *highIDApplier) observe(store string, id uint64) {
	if id+1 > a.highs[store] {
		a.highs[store] = id + 1
	}
}

func (a *highIDApplier) observeDynamic(changes []command.DynamicChange) {
	for _, dc := range changes {
		if dc.Array {
			a.observe(storage.FileArrayStore, dc.After.ID)
		} else {
			a.observe(storage.FileStringStore, dc.After.ID)
		}
	}
}

func (a *highIDApplier) apply(cmd command.Command) error {
	switch c := cmd.(type) {

	case *command.NodeCommand:
		a.observe(storage.FileNodeStore, c.After.ID)
		a.observeDynamic(c.Dynamic)

	case *command.RelationshipCommand:
		a.observe(storage.FileRelationshipStore, c.After.ID)

	case *command.RelGroupCommand:
		a.observe(storage.FileRelGroupStore, c.After.ID)

	case *command.PropertyCommand:
		a.observe(storage.FilePropertyStore, c.After.ID)
		a.observeDynamic(c.Dynamic)

	case *command.SchemaCommand:
		a.observe(storage.FileSchemaStore, c.After.ID)
		a.observeDynamic(c.Dynamic)

	case *command.TokenCommand:
		a.observe(storage.FileTokenStore, c.After.ID)
		a.observeDynamic(c.Dynamic)
	}

	return nil
}

func (a *highIDApplier) close() error {
	setters := map[string]func(uint64){
		storage.FileNodeStore:         a.stores.Nodes.SetHighID,
		storage.FileRelationshipStore: a.stores.Rels.SetHighID,
		storage.FileRelGroupStore:     a.stores.Groups.SetHighID,
		storage.FilePropertyStore:     a.stores.Props.SetHighID,
		storage.FileStringStore:       a.stores.Strings.SetHighID,
		storage.FileArrayStore:        a.stores.Arrays.SetHighID,
		storage.FileSchemaStore:       a.stores.Schema.SetHighID,
		storage.FileTokenStore:        a.stores.Tokens.SetHighID,
	}

	for store, high := range a.highs {
		if setter, ok := setters[store]; ok {
			setter(high)
		}
	}

	return nil
}

// Cache invalidation applier
// ==========================

/*
cacheInvalidationApplier keeps the schema cache and the token registry
in sync with applied schema and token commands.
*/
type cacheInvalidationApplier struct {
	cache  *schema.Cache
	tokens *schema.TokenRegistry
}

func (a *cacheInvalidationApplier) apply(cmd command.Command) error {
	switch c := cmd.(type) {

	case *command.SchemaCommand:
		if c.After.InUse && c.Rule != nil {
			a.cache.AddRule(c.Rule)
		} else if !c.After.InUse {
			a.cache.RemoveRule(c.Before.ID)
		}

	case *command.TokenCommand:
		if c.After.InUse {
			a.tokens.Add(&schema.Token{
				ID:   c.After.ID,
				Kind: c.After.Kind,
				Name: c.Name,
			})
		}
	}

	return nil
}

func (a *cacheInvalidationApplier) close() error {
	return nil
}

// Counts applier
// ==============

/*
countsApplier applies counter and degree deltas to the counts store and
the group degrees store. All deltas of one transaction are applied
atomically when the transaction ends.
*/
type countsApplier struct {
	batch          *command.Batch
	counts         *counts.Store
	degrees        *counts.DegreesStore
	countsUpdater  *counts.Updater
	degreesUpdater *counts.DegreesUpdater
}

func (a *countsApplier) apply(cmd command.Command) error {
	switch c := cmd.(type) {

	case *command.CountsCommand:
		if a.countsUpdater == nil {
			a.countsUpdater = a.counts.Updater(a.batch.TxID)
		}
		a.countsUpdater.Increment(c.Key, c.Delta)

	case *command.DegreesCommand:
		if a.degreesUpdater == nil {
			a.degreesUpdater = a.degrees.Updater(a.batch.TxID)
		}
		a.degreesUpdater.Increment(c.Key, c.Delta)
	}

	return nil
}

func (a *countsApplier) close() error {
	if a.countsUpdater != nil {
		a.countsUpdater.Close()
		a.countsUpdater = nil
	}

	if a.degreesUpdater != nil {
		a.degreesUpdater.Close()
		a.degreesUpdater = nil
	}

	return nil
}

// Index applier
// =============

/*
indexApplier collects the index and token scan affecting commands of a
transaction. The collected notifications are handed to the registered
listeners through their work syncs when the whole batch was applied.
*/
type indexApplier struct {
	batch  *command.Batch
	stores *storage.Stores
	ctx    *BatchContext
}

func (a *indexApplier) apply(cmd command.Command) error {
	a.ctx.lastTxID = a.batch.TxID

	switch c := cmd.(type) {

	case *command.NodeCommand:
		a.ctx.indexCmds = append(a.ctx.indexCmds, cmd)

		update, ok, err := a.labelUpdate(c)
		if err != nil {
			return err
		}
		if ok {
			a.ctx.labelUpd = append(a.ctx.labelUpd, update)
		}

	case *command.PropertyCommand:
		a.ctx.indexCmds = append(a.ctx.indexCmds, cmd)

	case *command.RelationshipCommand:
		if update, ok := relTypeUpdate(c); ok {
			a.ctx.relTypeUpd = append(a.ctx.relTypeUpd, update)
		}
	}

	return nil
}

func (a *indexApplier) close() error {
	return nil
}

/*
labelUpdate derives the label changes of a node command. Labels which
spilled to the array store are decoded from the dynamic records carried
by the command.
*/
func (a *indexApplier) labelUpdate(c *command.NodeCommand) (TokenUpdate, bool, error) {

	// Equal spill references mean the label set was not touched - label
	// changes of a spilled node always allocate a fresh chain

	if c.Before.LabelRef != storage.NilID && c.Before.LabelRef == c.After.LabelRef {
		return TokenUpdate{}, false, nil
	}

	beforeLabels, err := a.nodeLabels(c.Before, c.Dynamic, false)
	if err != nil {
		return TokenUpdate{}, false, err
	}

	afterLabels, err := a.nodeLabels(c.After, c.Dynamic, true)
	if err != nil {
		return TokenUpdate{}, false, err
	}

	before := make(map[uint32]bool)
	for _, l := range beforeLabels {
		before[l] = true
	}

	after := make(map[uint32]bool)
	for _, l := range afterLabels {
		after[l] = true
	}

	update := TokenUpdate{Entity: c.After.ID}

	for _, l := range afterLabels {
		if !before[l] {
			update.Added = append(update.Added, l)
		}
	}

	for _, l := range beforeLabels {
		if !after[l] {
			update.Removed = append(update.Removed, l)
		}
	}

	return update, len(update.Added) > 0 || len(update.Removed) > 0, nil
}

/*
nodeLabels returns all labels of a node record image including spilled
labels. The spill chain is resolved from the dynamic records of the
command - the after image additionally falls back to the array store
which already holds the applied chain.
*/
func (a *indexApplier) nodeLabels(nr *storage.NodeRecord,
	changes []command.DynamicChange, after bool) ([]uint32, error) {

	if nr.LabelRef == storage.NilID {
		return nr.Labels, nil
	}

	if data, ok := spillData(nr.LabelRef, changes, after); ok {
		return decodeLabelSpill(data), nil
	}

	if !after {
		return nil, &util.StorageError{Type: util.ErrApplyFailure,
			Detail: fmt.Sprintf("Cannot resolve spilled labels %v of node %v",
				nr.LabelRef, nr.ID)}
	}

	data, err := a.stores.Arrays.ReadChain(nr.LabelRef)
	if err != nil {
		return nil, err
	}

	return decodeLabelSpill(data), nil
}

/*
spillData reads a dynamic record chain from the dynamic records carried
by a command.
*/
func spillData(ref uint64, changes []command.DynamicChange, after bool) ([]byte, bool) {
	var data []byte

	for id := ref; id != storage.NilID; {
		var rec *storage.DynamicRecord

		for _, dc := range changes {
			if !dc.Array {
				continue
			}

			img := dc.Before
			if after {
				img = dc.After
			}

			if img.ID == id {
				rec = img
				break
			}
		}

		if rec == nil {
			return nil, false
		}

		data = append(data, rec.Data...)
		id = rec.Next
	}

	return data, true
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

/*
relTypeUpdate derives the type change of a relationship command.
*/
func relTypeUpdate(c *command.RelationshipCommand) (TokenUpdate, bool) {
	update := TokenUpdate{Entity: c.After.ID}

	if c.After.InUse && !c.Before.InUse {
		update.Added = append(update.Added, c.After.RelType)
	} else if !c.After.InUse && c.Before.InUse {
		update.Removed = append(update.Removed, c.Before.RelType)
	}

	return update, len(update.Added) > 0 || len(update.Removed) > 0
}
