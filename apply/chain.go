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
	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/worksync"
)

/*
Dependencies are the collaborators of an applier chain.
*/
type Dependencies struct {
	Stores           *storage.Stores            // Record stores
	SchemaCache      *schema.Cache              // Schema cache mirror
	Tokens           *schema.TokenRegistry      // Token registry mirror
	Counts           *counts.Store              // Counts store
	Degrees          *counts.DegreesStore       // Group degrees store
	Locks            LockService                // Record lock service
	ConsistencyCheck bool                       // Flag for the checking applier
	IndexListener    IndexUpdateListener        // Optional index listener
	LabelListener    EntityTokenUpdateListener  // Optional node label listener
	RelTypeListener  EntityTokenUpdateListener  // Optional relationship type listener
	IndexSync        *worksync.WorkSync         // Work sync of the index listener
	LabelSync        *worksync.WorkSync         // Work sync of the label listener
	RelTypeSync      *worksync.WorkSync         // Work sync of the type listener
	IDSyncs          map[*storage.IDGenerator]*worksync.WorkSync // Work syncs of the id generators
}

/*
applier is a single member of an applier chain. An applier instance
lives for one transaction of a batch.
*/
type applier interface {

	/*
		apply consumes a single command.
	*/
	apply(cmd command.Command) error

	/*
		close ends the transaction of this applier.
	*/
	close() error
}

/*
Chain is the applier chain of one application mode. The chain is built
once at engine construction and reused for all batches of its mode.
*/
type Chain struct {
	mode Mode         // Application mode of this chain
	deps Dependencies // Engine collaborators
}

/*
NewChain creates the applier chain of a given application mode.
*/
func NewChain(mode Mode, deps Dependencies) *Chain {
	if !mode.NeedsLocks() {
		deps.Locks = NoLockService
	}

	return &Chain{mode, deps}
}

/*
Mode returns the application mode of this chain.
*/
func (c *Chain) Mode() Mode {
	return c.mode
}

/*
newIDListener returns the id update listener for one batch of this
chain. Reverse recovery ignores all id updates.
*/
func (c *Chain) newIDListener() storage.IDUpdateListener {
	if c.mode == ModeReverseRecovery {
		return storage.IgnoreIDUpdates
	}

	return newEnqueuingIDUpdates(c.deps.IDSyncs)
}

/*
newAppliers builds the applier instances for a single transaction.
*/
func (c *Chain) newAppliers(b *command.Batch, ctx *BatchContext) []applier {
	var appliers []applier

	if c.deps.ConsistencyCheck && c.mode.NeedsAuxiliaryStores() {
		appliers = append(appliers, &consistencyApplier{c.deps.Stores})
	}

	appliers = append(appliers, &neoStoreApplier{
		stores: c.deps.Stores,
		locks:  c.deps.Locks,
		ctx:    ctx,
	})

	if c.mode.NeedsHighIDTracking() {
		appliers = append(appliers, &highIDApplier{
			stores: c.deps.Stores,
			highs:  make(map[string]uint64),
		})
	}

	if c.mode.NeedsCacheInvalidation() {
		appliers = append(appliers, &cacheInvalidationApplier{
			cache:  c.deps.SchemaCache,
			tokens: c.deps.Tokens,
		})
	}

	if c.mode.NeedsAuxiliaryStores() {
		appliers = append(appliers, &countsApplier{
			batch:   b,
			counts:  c.deps.Counts,
			degrees: c.deps.Degrees,
		})

		appliers = append(appliers, &indexApplier{
			batch:  b,
			stores: c.deps.Stores,
			ctx:    ctx,
		})
	}

	return appliers
}

/*
ApplyBatch applies a linked command batch through this chain. The linked
transactions apply in link order, each with its own applier instances.
*/
func (c *Chain) ApplyBatch(batch *command.Batch) error {
	ctx := newBatchContext(c)
	defer ctx.close()

	for b := batch; b != nil; b = b.Next {
		appliers := c.newAppliers(b, ctx)

		for _, cmd := range b.Commands {
			for _, a := range appliers {
				if err := a.apply(cmd); err != nil {
					return err
				}
			}
		}

		for _, a := range appliers {
			if err := a.close(); err != nil {
				return err
			}
		}

		// Track the last committed transaction id

		if b.TxID != 0 {
			if err := c.deps.Stores.SetLastTxID(b.TxID); err != nil {
				return err
			}
		}
	}

	return ctx.flush()
}

// Batch context
// =============

/*
BatchContext carries the state shared by all transactions of a single
batch application - the id update listener and the collected listener
notifications which are flushed through the work syncs when the batch
ends.
*/
type BatchContext struct {
	chain      *Chain                    // Chain which owns this context
	idListener storage.IDUpdateListener  // Id update listener of the batch
	indexCmds  []command.Command         // Collected index affecting commands
	labelUpd   []TokenUpdate             // Collected node label updates
	relTypeUpd []TokenUpdate             // Collected relationship type updates
	lastTxID   uint64                    // Transaction id of the last batch entry
}

/*
newBatchContext creates the context for one batch application.
*/
func newBatchContext(c *Chain) *BatchContext {
	return &BatchContext{chain: c, idListener: c.newIDListener()}
}

/*
flush hands all collected notifications to their sinks. Work for
different sinks runs through separate work syncs.
*/
func (ctx *BatchContext) flush() error {
	deps := ctx.chain.deps

	if listener := deps.IndexListener; listener != nil && len(ctx.indexCmds) > 0 {
		cmds := ctx.indexCmds
		txID := ctx.lastTxID

		if err := deps.IndexSync.Apply(func() error {
			return listener.ApplyUpdates(txID, cmds)
		}); err != nil {
			return err
		}
	}

	if listener := deps.LabelListener; listener != nil && len(ctx.labelUpd) > 0 {
		updates := ctx.labelUpd
		txID := ctx.lastTxID

		if err := deps.LabelSync.Apply(func() error {
			return listener.ApplyTokenUpdates(txID, updates)
		}); err != nil {
			return err
		}
	}

	if listener := deps.RelTypeListener; listener != nil && len(ctx.relTypeUpd) > 0 {
		updates := ctx.relTypeUpd
		txID := ctx.lastTxID

		if err := deps.RelTypeSync.Apply(func() error {
			return listener.ApplyTokenUpdates(txID, updates)
		}); err != nil {
			return err
		}
	}

	return nil
}

/*
close flushes the id updates of the batch into the id generators.
*/
func (ctx *BatchContext) close() {
	if enq, ok := ctx.idListener.(*enqueuingIDUpdates); ok {
		enq.flush()
	}
}

// Id update batching
// ==================

/*
enqueuingIDUpdates collects id state transitions of a batch and hands
them to the id generators through their work syncs when the batch ends.
*/
type enqueuingIDUpdates struct {
	syncs map[*storage.IDGenerator]*worksync.WorkSync
	used  map[*storage.IDGenerator][]uint64
	freed map[*storage.IDGenerator][]uint64
}

/*
newEnqueuingIDUpdates creates a new id update batch.
*/
func newEnqueuingIDUpdates(syncs map[*storage.IDGenerator]*worksync.WorkSync) *enqueuingIDUpdates {
	return &enqueuingIDUpdates{syncs,
		make(map[*storage.IDGenerator][]uint64),
		make(map[*storage.IDGenerator][]uint64)}
}

/*
MarkUsed reports that a record id is now in use.
*/
func (e *enqueuingIDUpdates) MarkUsed(gen *storage.IDGenerator, id uint64) {
	e.used[gen] = append(e.used[gen], id)
}

/*
MarkDeleted reports that a record id is no longer in use.
*/
func (e *enqueuingIDUpdates) MarkDeleted(gen *storage.IDGenerator, id uint64) {
	e.freed[gen] = append(e.freed[gen], id)
}

/*
flush applies the collected transitions to the id generators. Updates
for the same generator are serialized through its work sync, updates
for different generators may run in parallel.
*/
func (e *enqueuingIDUpdates) flush() {
	apply := func(gen *storage.IDGenerator, work worksync.Work) {
		if ws, ok := e.syncs[gen]; ok {
			ws.Apply(work)
		} else {
			work()
		}
	}

	for gen, ids := range e.used {
		g, list := gen, ids

		apply(g, func() error {
			for _, id := range list {
				g.Mark(id)
			}
			return nil
		})
	}

	for gen, ids := range e.freed {
		g, list := gen, ids

		apply(g, func() error {
			for _, id := range list {
				g.Free(id)
			}
			return nil
		})
	}
}
