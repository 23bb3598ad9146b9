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
	"testing"

	"devt.de/krotik/recorddb/config"
	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/tx"
)

func TestCheckpointAndIDReuseBarrier(t *testing.T) {
	e, err := New(testDir(), nil, nil)
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	ctx := e.NewCommandContext()

	n1, _ := ctx.ReserveNode()
	n2, _ := ctx.ReserveNode()

	ts := tx.NewState()
	ts.CreateNode(n1)
	ts.CreateNode(n2)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	ts = tx.NewState()
	ts.DeleteNode(n1)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	// The freed id is not handed out before the next checkpoint

	n3, _ := ctx.ReserveNode()
	if n3 == n1 {
		t.Error("Freed id should not be reusable before a checkpoint")
		return
	}

	if err := e.FlushAndForce(); err != nil {
		t.Error(err)
		return
	}

	// After the checkpoint the freed id becomes available again

	n4, _ := ctx.ReserveNode()
	if n4 != n1 {
		t.Error("Freed id should be reused after a checkpoint:", n4)
		return
	}
}

func TestListStorageFiles(t *testing.T) {
	e, err := New(testDir(), nil, nil)
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	atomicFiles, replayableFiles := e.ListStorageFiles()

	// The counts store is atomic, all record stores are replayable

	if len(atomicFiles) != 1 {
		t.Error("Unexpected atomic files:", atomicFiles)
		return
	}

	if len(replayableFiles) != 9 {
		t.Error("Unexpected replayable files:", replayableFiles)
		return
	}

	for _, f := range replayableFiles {
		if f.RecordSize == 0 {
			t.Error("Record stores should report their record size:", f)
			return
		}
	}

	// With relaxed dense node locking the degrees store is atomic too

	cnf := map[string]interface{}{
		config.RelaxedLockingForDenseNodes: true,
	}

	e2, err := New(testDir(), cnf, nil)
	if err != nil {
		t.Error(err)
		return
	}
	defer e2.Shutdown()

	atomicFiles, _ = e2.ListStorageFiles()

	if len(atomicFiles) != 2 {
		t.Error("Degrees store should be reported as atomic:", atomicFiles)
		return
	}
}

func TestExternalDegrees(t *testing.T) {
	cnf := map[string]interface{}{
		config.DenseNodeThreshold:          5,
		config.RelaxedLockingForDenseNodes: true,
	}

	e, err := New(testDir(), cnf, nil)
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	ctx := e.NewCommandContext()

	n1, _ := ctx.ReserveNode()

	ts := tx.NewState()
	ts.CreateNode(n1)

	for i := 0; i < 6; i++ {
		other, _ := ctx.ReserveNode()
		rel, _ := ctx.ReserveRelationship()

		ts.CreateNode(other)
		ts.CreateRelationship(rel, 2, n1, other)
	}

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	reader := e.NewReader()

	nr, err := reader.Node(n1)
	if err != nil || !nr.Dense {
		t.Error("Node should be dense:", nr, err)
		return
	}

	// The group chain degree lives in the degrees store

	gr, err := reader.RelationshipGroup(nr.NextRel)
	if err != nil {
		t.Error(err)
		return
	}

	if !gr.ExternalDegreesOut {
		t.Error("Group should use external degrees:", gr)
		return
	}

	degree := e.DegreesAccessor().Degree(
		counts.DegreeKey{Group: gr.ID, Direction: byte(storage.DirectionOutgoing)})

	if degree != 6 {
		t.Error("Unexpected external degree:", degree)
		return
	}

	if total, err := reader.NodeDegree(n1); err != nil || total != 6 {
		t.Error("Unexpected node degree:", total, err)
		return
	}
}

func TestConvertDenseChainsToExternalDegrees(t *testing.T) {
	cnf := map[string]interface{}{
		config.DenseNodeThreshold: 5,
	}

	e, err := New(testDir(), cnf, nil)
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	ctx := e.NewCommandContext()

	n1, _ := ctx.ReserveNode()

	ts := tx.NewState()
	ts.CreateNode(n1)

	for i := 0; i < 5; i++ {
		other, _ := ctx.ReserveNode()
		rel, _ := ctx.ReserveRelationship()

		ts.CreateNode(other)
		ts.CreateRelationship(rel, 1, n1, other)
	}

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	// The sweep externalizes the chain degrees

	converted, err := e.UnsafeConvertAllDenseChainsToExternalDegrees()
	if err != nil {
		t.Error(err)
		return
	}

	if converted != 1 {
		t.Error("Unexpected number of converted groups:", converted)
		return
	}

	reader := e.NewReader()

	nr, _ := reader.Node(n1)
	gr, _ := reader.RelationshipGroup(nr.NextRel)

	if !gr.ExternalDegreesOut || !gr.ExternalDegreesIn || !gr.ExternalDegreesLoop {
		t.Error("All directions should be externalized:", gr)
		return
	}

	degree := e.DegreesAccessor().Degree(
		counts.DegreeKey{Group: gr.ID, Direction: byte(storage.DirectionOutgoing)})

	if degree != 5 {
		t.Error("Unexpected migrated degree:", degree)
		return
	}

	// The sweep is re-runnable - a second run converts nothing

	converted, err = e.UnsafeConvertAllDenseChainsToExternalDegrees()
	if err != nil {
		t.Error(err)
		return
	}

	if converted != 0 {
		t.Error("Second sweep should convert nothing:", converted)
		return
	}
}
