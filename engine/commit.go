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
	"devt.de/krotik/recorddb/apply"
	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/tx"
)

/*
BeginCommit enters the commit critical section of a write transaction.
The shared upgrade lock is held until EndCommit.
*/
func (e *Engine) BeginCommit() {
	e.upgrade.AcquireShared()
}

/*
EndCommit leaves the commit critical section of a write transaction.
*/
func (e *Engine) EndCommit() {
	e.upgrade.ReleaseShared()
}

/*
Commit translates a logical transaction state into commands, appends
them to the transaction log and applies them. If the runtime version is
ahead of the store version, the kernel upgrade is attempted first as its
own transaction. Before the log append has begun the transaction can
abort cleanly - a failed apply marks the database unhealthy.
*/
func (e *Engine) Commit(ts *tx.State, locker tx.ResourceLocker) error {
	if err := e.health.AssertHealthy(); err != nil {
		return err
	}

	// Attempt the kernel version upgrade on write-commit entry

	if err := e.maybeUpgrade(); err != nil {
		return err
	}

	e.BeginCommit()
	defer e.EndCommit()

	var cmds []command.Command

	ctx := e.NewCommandContext()

	if err := e.CreateCommands(&cmds, ts, ctx, locker, nil); err != nil {
		return err
	}

	if len(cmds) == 0 {
		return nil
	}

	version, err := e.kernelVersion()
	if err != nil {
		return err
	}

	batch := &command.Batch{
		TxID:     e.nextTxID(),
		Ver:      version,
		Commands: cmds,
	}

	if err := e.log.Append(batch); err != nil {
		return err
	}

	return e.Apply(batch, apply.ModeInternal)
}

/*
Recover replays all transactions of the transaction log against the
stores. Replay uses the same appliers as normal application - applying a
log segment twice produces the same final state as applying it once.
*/
func (e *Engine) Recover() error {
	cursor, err := e.log.Cursor()
	if err != nil {
		return err
	}

	for {
		batch, err := cursor.Next()
		if err != nil {
			return err
		}

		if batch == nil {
			break
		}

		if err := e.Apply(batch, apply.ModeRecovery); err != nil {
			return err
		}

		if batch.TxID > e.txCounter {
			e.txCounter = batch.TxID
		}
	}

	return e.LoadSchemaCache()
}

// Counts rebuild
// ==============

/*
countsRebuilder returns the rebuild function for a missing counts
store. The counters are recomputed by scanning the node and the
relationship stores.
*/
func (e *Engine) countsRebuilder() func(*counts.Updater) error {
	stores := e.stores

	return func(u *counts.Updater) error {

		nodeLabels := func(nr *storage.NodeRecord) ([]uint32, error) {
			if nr.LabelRef == storage.NilID {
				return nr.Labels, nil
			}

			data, err := stores.Arrays.ReadChain(nr.LabelRef)
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

		for id := stores.Nodes.ReservedLowIDs(); id < stores.Nodes.HighID(); id++ {
			nr, err := stores.Nodes.Get(id, storage.LoadCheck)
			if err != nil {
				return err
			}

			if !nr.InUse {
				continue
			}

			u.Increment(counts.NodeKey(counts.Wildcard), 1)

			labels, err := nodeLabels(nr)
			if err != nil {
				return err
			}

			for _, l := range labels {
				u.Increment(counts.NodeKey(int32(l)), 1)
			}
		}

		for id := stores.Rels.ReservedLowIDs(); id < stores.Rels.HighID(); id++ {
			rr, err := stores.Rels.Get(id, storage.LoadCheck)
			if err != nil {
				return err
			}

			if !rr.InUse {
				continue
			}

			u.Increment(counts.RelationshipKey(counts.Wildcard, counts.Wildcard, counts.Wildcard), 1)
			u.Increment(counts.RelationshipKey(counts.Wildcard, int32(rr.RelType), counts.Wildcard), 1)

			start, err := stores.Nodes.Get(rr.StartNode, storage.LoadCheck)
			if err != nil {
				return err
			}

			startLabels, err := nodeLabels(start)
			if err != nil {
				return err
			}

			for _, l := range startLabels {
				u.Increment(counts.RelationshipKey(int32(l), counts.Wildcard, counts.Wildcard), 1)
				u.Increment(counts.RelationshipKey(int32(l), int32(rr.RelType), counts.Wildcard), 1)
			}

			end, err := stores.Nodes.Get(rr.EndNode, storage.LoadCheck)
			if err != nil {
				return err
			}

			endLabels, err := nodeLabels(end)
			if err != nil {
				return err
			}

			for _, l := range endLabels {
				u.Increment(counts.RelationshipKey(counts.Wildcard, counts.Wildcard, int32(l)), 1)
				u.Increment(counts.RelationshipKey(counts.Wildcard, int32(rr.RelType), int32(l)), 1)
			}
		}

		return nil
	}
}

// Degree externalization
// ======================

/*
UnsafeConvertAllDenseChainsToExternalDegrees migrates the chain degrees
of all relationship group records into the group degrees store. The
sweep is re-runnable - chains whose degrees are already externalized are
skipped. It must not run concurrently with the normal apply path.
*/
func (e *Engine) UnsafeConvertAllDenseChainsToExternalDegrees() (int, error) {
	converted := 0

	updater := e.degreesStore.Updater(0)
	defer updater.Close()

	for id := e.stores.Groups.ReservedLowIDs(); id < e.stores.Groups.HighID(); id++ {
		gr, err := e.stores.Groups.Get(id, storage.LoadCheck)
		if err != nil {
			return converted, err
		}

		if !gr.InUse {
			continue
		}

		changed := false

		for _, dir := range []storage.Direction{storage.DirectionOutgoing,
			storage.DirectionIncoming, storage.DirectionLoop} {

			if gr.HasExternalDegrees(dir) {
				continue
			}

			first := gr.First(dir)

			if first != storage.NilID {
				head, err := e.stores.Rels.Get(first, storage.LoadNormal)
				if err != nil {
					return converted, err
				}

				// The prev reference of the chain head holds the degree

				degree := head.PrevForNode(gr.OwningNode)

				updater.Increment(counts.DegreeKey{Group: id, Direction: byte(dir)},
					int64(degree))
			}

			gr.SetExternalDegrees(dir)
			changed = true
		}

		if changed {
			if err := e.stores.Groups.Update(gr, storage.IgnoreIDUpdates); err != nil {
				return converted, err
			}

			converted++
		}
	}

	return converted, nil
}
