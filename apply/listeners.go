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
	"sync"

	"devt.de/krotik/recorddb/command"
)

/*
IndexUpdateListener is notified about entity changes which may affect
secondary indexes. The listener receives the raw commands of the
affected entities - updates for the same listener are serialized through
a work sync.
*/
type IndexUpdateListener interface {

	/*
		ApplyUpdates hands the index affecting commands of one applied
		batch to the listener.
	*/
	ApplyUpdates(txID uint64, cmds []command.Command) error
}

/*
TokenUpdate describes the token changes of a single entity.
*/
type TokenUpdate struct {
	Entity  uint64   // Entity which changed
	Added   []uint32 // Tokens added to the entity
	Removed []uint32 // Tokens removed from the entity
}

/*
EntityTokenUpdateListener is notified about label changes of nodes or
type changes of relationships. It feeds the token scan stores.
*/
type EntityTokenUpdateListener interface {

	/*
		ApplyTokenUpdates hands the token changes of one applied batch to
		the listener.
	*/
	ApplyTokenUpdates(txID uint64, updates []TokenUpdate) error
}

/*
LockService provides record level locks during command application. It
synchronizes appliers with concurrent readers of the same records.
*/
type LockService interface {

	/*
		LockNode locks a node record and returns the release function.
	*/
	LockNode(id uint64) func()

	/*
		LockRelationship locks a relationship record and returns the
		release function.
	*/
	LockRelationship(id uint64) func()
}

/*
noLockService performs no locking.
*/
type noLockService struct {
}

func (noLockService) LockNode(id uint64) func() {
	return func() {}
}

func (noLockService) LockRelationship(id uint64) func() {
	return func() {}
}

/*
NoLockService is a LockService which performs no locking. It is used
during recovery.
*/
var NoLockService LockService = noLockService{}

/*
lockStripes is the number of lock stripes of the record lock service
*/
const lockStripes = 64

/*
recordLockService is a striped record lock service.
*/
type recordLockService struct {
	nodes [lockStripes]sync.Mutex
	rels  [lockStripes]sync.Mutex
}

/*
NewRecordLockService creates a new striped record lock service.
*/
func NewRecordLockService() LockService {
	return &recordLockService{}
}

func (ls *recordLockService) LockNode(id uint64) func() {
	m := &ls.nodes[id%lockStripes]
	m.Lock()
	return m.Unlock
}

func (ls *recordLockService) LockRelationship(id uint64) func() {
	m := &ls.rels[id%lockStripes]
	m.Lock()
	return m.Unlock
}
