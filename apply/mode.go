/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package apply contains the command applier chain of the storage engine.

An applier chain consumes the command batches of committed transactions
and mutates the record stores and the auxiliary stores. One chain exists
per application mode - the modes differ only in which appliers are part
of the chain and in how locks and id updates are handled:

	ModeInternal        - normal local commit
	ModeExternal        - application of replicated transactions
	ModeRecovery        - replay from the transaction log after a crash
	ModeReverseRecovery - undo of a partial application

The appliers run per command in declaration order. An error from any
applier aborts the batch and must mark the database unhealthy.
*/
package apply

/*
Mode is the application mode of a command batch.
*/
type Mode int

/*
Possible application modes
*/
const (
	ModeInternal Mode = iota
	ModeExternal
	ModeRecovery
	ModeReverseRecovery
)

/*
String returns a string representation of a Mode.
*/
func (m Mode) String() string {
	switch m {
	case ModeInternal:
		return "internal"
	case ModeExternal:
		return "external"
	case ModeRecovery:
		return "recovery"
	}
	return "reverse-recovery"
}

/*
NeedsHighIDTracking returns if observed record ids must be propagated
into the id generators. Local commits allocated their ids themselves.
*/
func (m Mode) NeedsHighIDTracking() bool {
	return m == ModeExternal || m == ModeRecovery
}

/*
NeedsCacheInvalidation returns if the schema cache and token registry
must be updated during application.
*/
func (m Mode) NeedsCacheInvalidation() bool {
	return m != ModeReverseRecovery
}

/*
NeedsAuxiliaryStores returns if the counts stores and the index listeners
participate in the application.
*/
func (m Mode) NeedsAuxiliaryStores() bool {
	return m != ModeReverseRecovery
}

/*
NeedsLocks returns if record level locks are taken during application.
Recovery modes run single-threaded - all locks were acquired before the
crash.
*/
func (m Mode) NeedsLocks() bool {
	return m == ModeInternal || m == ModeExternal
}
