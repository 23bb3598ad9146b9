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
	"fmt"

	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/tx"
	"devt.de/krotik/recorddb/util"
)

/*
IntegrityValidator performs cross-store semantic validation before
commands reach the log. Node deletion and schema rule preconditions are
validated while the record state is accumulated - this validator covers
the upgrade preconditions and the optional lock verification.
*/
type IntegrityValidator struct {
}

/*
NewIntegrityValidator creates a new integrity validator.
*/
func NewIntegrityValidator() *IntegrityValidator {
	return &IntegrityValidator{}
}

/*
ValidateUpgrade checks the preconditions of a kernel version upgrade.
*/
func (iv *IntegrityValidator) ValidateUpgrade(current command.KernelVersion,
	target command.KernelVersion) error {

	if !current.IsKnown() || !target.IsKnown() {
		return &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Unrecognised kernel version in upgrade %v to %v", current, target)}
	}

	if target <= current {
		return &util.StorageError{Type: util.ErrValidation,
			Detail: fmt.Sprintf("Can not downgrade from %v to %v", current, target)}
	}

	return nil
}

/*
VerifySufficientLocks cross-checks that every mutated node and
relationship record is covered by an exclusive lock held by the
committing transaction.
*/
func (iv *IntegrityValidator) VerifySufficientLocks(cmds []command.Command,
	locker tx.ResourceLocker) error {

	for _, cmd := range cmds {
		switch c := cmd.(type) {

		case *command.NodeCommand:
			if !locker.HoldsExclusive(tx.ResourceNode, c.After.ID) {
				return &util.StorageError{Type: util.ErrValidation,
					Detail: fmt.Sprintf("Node %v is not covered by an exclusive lock", c.After.ID)}
			}

		case *command.RelationshipCommand:
			if !locker.HoldsExclusive(tx.ResourceRelationship, c.After.ID) {
				return &util.StorageError{Type: util.ErrValidation,
					Detail: fmt.Sprintf("Relationship %v is not covered by an exclusive lock", c.After.ID)}
			}
		}
	}

	return nil
}
