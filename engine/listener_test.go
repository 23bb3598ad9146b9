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
	"sync"
	"testing"

	"devt.de/krotik/recorddb/apply"
	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/tx"
)

/*
recordingTokenListener records all received token updates.
*/
type recordingTokenListener struct {
	updates []apply.TokenUpdate
	mutex   sync.Mutex
}

func (l *recordingTokenListener) ApplyTokenUpdates(txID uint64, updates []apply.TokenUpdate) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.updates = append(l.updates, updates...)

	return nil
}

func (l *recordingTokenListener) labelsFor(entity uint64) (added []uint32, removed []uint32) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for _, u := range l.updates {
		if u.Entity == entity {
			added = append(added, u.Added...)
			removed = append(removed, u.Removed...)
		}
	}

	return added, removed
}

/*
recordingIndexListener records all received index commands.
*/
type recordingIndexListener struct {
	cmds  []command.Command
	mutex sync.Mutex
}

func (l *recordingIndexListener) ApplyUpdates(txID uint64, cmds []command.Command) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.cmds = append(l.cmds, cmds...)

	return nil
}

func (l *recordingIndexListener) size() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return len(l.cmds)
}

func TestListenerNotifications(t *testing.T) {
	labelListener := &recordingTokenListener{}
	relTypeListener := &recordingTokenListener{}
	indexListener := &recordingIndexListener{}

	e, err := New(testDir(), nil, &Options{
		IndexListener:     indexListener,
		NodeLabelListener: labelListener,
		RelTypeListener:   relTypeListener,
	})
	if err != nil {
		t.Error(err)
		return
	}
	defer e.Shutdown()

	ctx := e.NewCommandContext()

	// A node whose label set spills beyond the inline capacity - the
	// scan listener must still see every label

	n1, _ := ctx.ReserveNode()

	ts := tx.NewState()
	ts.CreateNode(n1)

	for i := 1; i <= 6; i++ {
		ts.AddLabel(n1, uint32(i))
	}

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	reader := e.NewReader()

	if nr, _ := reader.Node(n1); nr.Labels != nil {
		t.Error("Labels should have spilled to the array store")
		return
	}

	added, removed := labelListener.labelsFor(n1)

	if len(added) != 6 || len(removed) != 0 {
		t.Error("Unexpected label updates for spilled node:", added, removed)
		return
	}

	seen := make(map[uint32]bool)
	for _, l := range added {
		seen[l] = true
	}

	for i := 1; i <= 6; i++ {
		if !seen[uint32(i)] {
			t.Error("Label update missing spilled label:", i)
			return
		}
	}

	if indexListener.size() == 0 {
		t.Error("Index listener should have received the node command")
		return
	}

	// Removing a label from the spilled set reports just that label

	labelListener.updates = nil

	ts = tx.NewState()
	ts.RemoveLabel(n1, 4)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	added, removed = labelListener.labelsFor(n1)

	if len(added) != 0 || len(removed) != 1 || removed[0] != 4 {
		t.Error("Unexpected label updates after removal:", added, removed)
		return
	}

	// Shrinking back to the inline representation reports no phantom
	// changes

	labelListener.updates = nil

	ts = tx.NewState()
	ts.RemoveLabel(n1, 5)
	ts.RemoveLabel(n1, 6)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	if nr, _ := reader.Node(n1); len(nr.Labels) != 3 {
		t.Error("Labels should be inline again")
		return
	}

	added, removed = labelListener.labelsFor(n1)

	if len(added) != 0 || len(removed) != 2 {
		t.Error("Unexpected label updates after shrink:", added, removed)
		return
	}

	// Relationship creation notifies the type scan listener

	n2, _ := ctx.ReserveNode()
	r1, _ := ctx.ReserveRelationship()

	ts = tx.NewState()
	ts.CreateNode(n2)
	ts.CreateRelationship(r1, 7, n1, n2)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	relAdded, relRemoved := relTypeListener.labelsFor(r1)

	if len(relAdded) != 1 || relAdded[0] != 7 || len(relRemoved) != 0 {
		t.Error("Unexpected relationship type updates:", relAdded, relRemoved)
		return
	}

	// Deleting the relationship reports the type as removed

	ts = tx.NewState()
	ts.DeleteRelationship(r1)

	if err := e.Commit(ts, nil); err != nil {
		t.Error(err)
		return
	}

	_, relRemoved = relTypeListener.labelsFor(r1)

	if len(relRemoved) != 1 || relRemoved[0] != 7 {
		t.Error("Unexpected relationship type removal:", relRemoved)
		return
	}
}
