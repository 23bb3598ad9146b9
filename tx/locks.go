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

/*
ResourceType is the type of a lockable resource.
*/
type ResourceType byte

/*
Possible resource types
*/
const (
	ResourceNode ResourceType = iota
	ResourceRelationship
)

/*
String returns a string representation of a ResourceType.
*/
func (rt ResourceType) String() string {
	if rt == ResourceNode {
		return "node"
	}
	return "relationship"
}

/*
ResourceLocker is the lock acquiring service of the lock manager. The
engine states what must be locked - how locks are implemented is up to
the lock manager above. Lock errors surface as lock timeout or deadlock
errors of the failing transaction.
*/
type ResourceLocker interface {

	/*
		AcquireExclusive acquires exclusive locks on the given resources
		for the rest of the transaction.
	*/
	AcquireExclusive(rt ResourceType, ids ...uint64) error

	/*
		HoldsExclusive returns if an exclusive lock is held on a given
		resource. This is used by the optional lock verification.
	*/
	HoldsExclusive(rt ResourceType, id uint64) bool
}

/*
ignoreLocks is a no-op lock service.
*/
type ignoreLocks struct {
}

func (ignoreLocks) AcquireExclusive(rt ResourceType, ids ...uint64) error {
	return nil
}

func (ignoreLocks) HoldsExclusive(rt ResourceType, id uint64) bool {
	return true
}

/*
IgnoreLocks is a ResourceLocker which acquires nothing. It is used during
recovery where all locks were acquired before the crash.
*/
var IgnoreLocks ResourceLocker = ignoreLocks{}
