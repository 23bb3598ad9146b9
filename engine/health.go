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

	"devt.de/krotik/common/logutil"
	"devt.de/krotik/recorddb/util"
)

/*
Health is the health monitor of a database instance. A fatal error
panics the monitor - all further write operations are rejected until the
database is restarted. The monitor is owned by the database and passed
into the engine as a collaborator.
*/
type Health struct {
	healthy bool
	cause   error
	logger  logutil.Logger
	mutex   *sync.RWMutex
}

/*
NewHealth creates a new healthy monitor.
*/
func NewHealth() *Health {
	return &Health{true, nil, logutil.GetLogger("recorddb.health"), &sync.RWMutex{}}
}

/*
Healthy returns if the database is healthy.
*/
func (h *Health) Healthy() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return h.healthy
}

/*
Cause returns the error which caused the panic.
*/
func (h *Health) Cause() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return h.cause
}

/*
Panic marks the database as unhealthy. The first cause is kept.
*/
func (h *Health) Panic(cause error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.healthy {
		h.healthy = false
		h.cause = cause

		h.logger.Error("Database panic: ", cause)
	}
}

/*
AssertHealthy returns an error if the database is unhealthy.
*/
func (h *Health) AssertHealthy() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.healthy {
		return nil
	}

	return &util.StorageError{Type: util.ErrApplyFailure,
		Detail: "Database is unhealthy: " + h.cause.Error()}
}
