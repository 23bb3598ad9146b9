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
	"strings"
	"testing"
	"time"

	"devt.de/krotik/common/logutil"
	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/config"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/tx"
	"devt.de/krotik/recorddb/util"
)

func TestUpgradeOnFirstWrite(t *testing.T) {
	dir := testDir()
	log := command.NewMemoryLog()

	// Create a store at version 1

	e, err := New(dir, nil, &Options{Log: log, RuntimeVersion: command.Version1})
	if err != nil {
		t.Error(err)
		return
	}

	ctx := e.NewCommandContext()
	n1, _ := ctx.ReserveNode()

	ts := tx.NewState()
	ts.CreateNode(n1)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	if v, _ := e.KernelVersion(); v != command.Version1 {
		t.Error("Unexpected kernel version:", v)
		return
	}

	e.Shutdown()

	entriesBeforeBump := log.Entries()

	// Reopen with a newer runtime version

	e, err = New(dir, nil, &Options{Log: log, RuntimeVersion: command.Version2})
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	// Read-only work does not upgrade

	reader := e.NewReader()

	if _, err := reader.Node(n1); err != nil {
		t.Error(err)
		return
	}

	if v, _ := e.KernelVersion(); v != command.Version1 {
		t.Error("Reads should not advance the kernel version:", v)
		return
	}

	// The first write upgrades - the log contains the upgrade
	// transaction immediately followed by the user transaction

	ctx = e.NewCommandContext()
	n2, _ := ctx.ReserveNode()

	ts = tx.NewState()
	ts.CreateNode(n2)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	if v, _ := e.KernelVersion(); v != command.Version2 {
		t.Error("Write should have advanced the kernel version:", v)
		return
	}

	if log.Entries() != entriesBeforeBump+2 {
		t.Error("Unexpected number of log entries:", log.Entries())
		return
	}

	cursor, _ := log.Cursor()

	var batches []*command.Batch

	for {
		b, err := cursor.Next()
		if err != nil {
			t.Error(err)
			return
		}
		if b == nil {
			break
		}
		batches = append(batches, b)
	}

	upgradeBatch := batches[entriesBeforeBump]

	if len(upgradeBatch.Commands) != 1 || upgradeBatch.Ver != command.Version2 {
		t.Error("Upgrade transaction should contain a single command:", upgradeBatch)
		return
	}

	mc, ok := upgradeBatch.Commands[0].(*command.MetaDataCommand)
	if !ok {
		t.Error("Upgrade command should be a meta data command")
		return
	}

	if mc.Before.Value != uint64(command.Version1) || mc.After.Value != uint64(command.Version2) ||
		mc.Before.ID != storage.MetaPosKernelVersion {
		t.Error("Unexpected upgrade command:", mc)
		return
	}

	userBatch := batches[entriesBeforeBump+1]

	if userBatch.Ver != command.Version2 {
		t.Error("User transaction should be tagged at the new version:", userBatch)
		return
	}

	// Ordering property: versions in the log never decrease and no user
	// transaction at the new version precedes the upgrade transaction

	last := command.KernelVersion(0)

	for _, b := range batches {
		if b.Ver < last {
			t.Error("Log versions should be non-decreasing")
			return
		}
		last = b.Ver
	}
}

func TestUpgradeConflictRetry(t *testing.T) {
	dir := testDir()
	log := command.NewMemoryLog()

	e, err := New(dir, nil, &Options{Log: log, RuntimeVersion: command.Version1})
	if err != nil {
		t.Error(err)
		return
	}
	e.Shutdown()

	cnf := map[string]interface{}{
		config.UpgradeLockTimeout: 50,
	}

	e, err = New(dir, cnf, &Options{Log: log, RuntimeVersion: command.Version2})
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	// Capture the engine log output

	var logBuf bytes.Buffer

	logger := logutil.GetLogger("recorddb.engine")
	logger.AddLogSink(logutil.Warning, logutil.SimpleFormatter(), &logBuf)
	defer logutil.ClearLogSinks()

	// A concurrent transaction holds the shared upgrade lock

	e.BeginCommit()

	// The upgrade cannot be injected - the user transaction commits at
	// the old version and the upgrade is retried on the next write

	ctx := e.NewCommandContext()
	n1, _ := ctx.ReserveNode()

	ts := tx.NewState()
	ts.CreateNode(n1)

	start := time.Now()

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	if time.Since(start) < 50*time.Millisecond {
		t.Error("Upgrade attempt should have waited for the lock timeout")
		return
	}

	if !strings.Contains(logBuf.String(), "not possible right now due to conflicting transaction, will retry on next write") {
		t.Error("Unexpected log output:", logBuf.String())
		return
	}

	if v, _ := e.KernelVersion(); v != command.Version1 {
		t.Error("Conflicting upgrade should leave the old version:", v)
		return
	}

	// The conflicting transaction finishes - the next write upgrades

	e.EndCommit()

	ctx = e.NewCommandContext()
	n2, _ := ctx.ReserveNode()

	ts = tx.NewState()
	ts.CreateNode(n2)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	if v, _ := e.KernelVersion(); v != command.Version2 {
		t.Error("Next write should have performed the upgrade:", v)
		return
	}

	// Both user transactions committed

	reader := e.NewReader()

	if nr, _ := reader.Node(n1); !nr.InUse {
		t.Error("First transaction should have committed")
		return
	}
	if nr, _ := reader.Node(n2); !nr.InUse {
		t.Error("Second transaction should have committed")
		return
	}
}

func TestCreateUpgradeCommandChecks(t *testing.T) {
	e, err := New(testDir(), nil, &Options{RuntimeVersion: command.Version2})
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	// The store is already at the latest version - a downgrade is
	// rejected and so is an unknown target version

	if _, err := e.CreateUpgradeCommands(command.Version1); err == nil {
		t.Error("Downgrade should cause an error")
		return
	} else if se, ok := err.(*util.StorageError); !ok || se.Type != util.ErrValidation {
		t.Error("Unexpected error:", err)
		return
	}

	if _, err := e.CreateUpgradeCommands(command.KernelVersion(99)); err == nil {
		t.Error("Unknown target version should cause an error")
		return
	} else if se, ok := err.(*util.StorageError); !ok || se.Type != util.ErrFormatMismatch {
		t.Error("Unexpected error:", err)
		return
	}
}
