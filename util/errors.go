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
Package util contains utility classes for the record storage engine.

StorageError

Models an engine related error. Low-level errors should be wrapped in a
StorageError before they are returned to a client. The Type field can be
used for equal checks to distinguish recoverable transaction errors from
errors which require a database restart.
*/
package util

import (
	"errors"
	"fmt"
)

/*
StorageError is a record storage engine related error
*/
type StorageError struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
}

/*
Error returns a human-readable string representation of this error.
*/
func (se *StorageError) Error() string {
	if se.Detail != "" {
		return fmt.Sprintf("StorageError: %v (%v)", se.Type, se.Detail)
	}

	return fmt.Sprintf("StorageError: %v", se.Type)
}

/*
Recoverable transaction error types - the transaction aborts cleanly and
the database stays healthy.
*/
var (
	ErrValidation      = errors.New("Integrity validation failed")
	ErrConstraint      = errors.New("Schema constraint violated")
	ErrLockTimeout     = errors.New("Lock acquisition timed out")
	ErrDeadlock        = errors.New("Deadlock detected")
	ErrUpgradeConflict = errors.New("Upgrade not possible due to conflicting transaction")
)

/*
Fatal error types - the database health monitor panics and all further
write operations are rejected until restart.
*/
var (
	ErrStorageIO      = errors.New("Underlying storage I/O failure")
	ErrFormatMismatch = errors.New("Encountered record with unknown format version")
	ErrApplyFailure   = errors.New("Failed to apply transaction")
	ErrConfiguration  = errors.New("Invalid engine configuration")
)

/*
Other error types
*/
var (
	ErrOutOfIDs       = errors.New("Id space exhausted")
	ErrReadOnly       = errors.New("Failed write to readonly storage")
	ErrClosed         = errors.New("Storage engine is closed")
	ErrRecordNotInUse = errors.New("Record not in use")
)

/*
IsFatal returns if a given error should panic the database health monitor.
*/
func IsFatal(err error) bool {
	se, ok := err.(*StorageError)
	if !ok {
		return false
	}

	return se.Type == ErrStorageIO || se.Type == ErrFormatMismatch ||
		se.Type == ErrApplyFailure || se.Type == ErrConfiguration
}
