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
Package worksync contains the work synchronization coordinators of the
storage engine.

Every sink which is not safe under concurrent mutation - id generators,
the index update listener, the token scan listeners - is wrapped in a
WorkSync. Callers submit work functions and block until their own work
has been executed. Work for the same sink is executed strictly serially
by whichever caller arrives first, work for different sinks runs in
parallel.
*/
package worksync

import "sync"

/*
Work is a single unit of work for a synchronized sink.
*/
type Work func() error

/*
workUnit is a queued work function together with its completion channel.
*/
type workUnit struct {
	work Work       // Work to execute
	done chan error // Channel signalling completion
}

/*
WorkSync serializes work for a single mutation-unsafe sink. The first
caller which finds the queue idle becomes the drainer and executes all
queued work - including work which arrives while it is draining - until
the queue is empty. All other callers block until their own work unit
has been executed.
*/
type WorkSync struct {
	name     string      // Name of the guarded sink
	queue    []*workUnit // Queued work units
	draining bool        // Flag if a drainer is active
	mutex    *sync.Mutex // Mutex for queue operations
}

/*
NewWorkSync creates a new work synchronization coordinator.
*/
func NewWorkSync(name string) *WorkSync {
	return &WorkSync{name, nil, false, &sync.Mutex{}}
}

/*
Name returns the name of the guarded sink.
*/
func (ws *WorkSync) Name() string {
	return ws.name
}

/*
Apply submits a unit of work and blocks until it was executed. The error
returned is the error of the submitted work unit.
*/
func (ws *WorkSync) Apply(work Work) error {
	unit := &workUnit{work, make(chan error, 1)}

	ws.mutex.Lock()

	ws.queue = append(ws.queue, unit)

	if ws.draining {

		// Somebody else is draining the queue - wait for our work

		ws.mutex.Unlock()
		return <-unit.done
	}

	// Become the drainer and execute queued work until the queue is empty

	ws.draining = true

	for len(ws.queue) > 0 {
		batch := ws.queue
		ws.queue = nil

		ws.mutex.Unlock()

		for _, u := range batch {
			u.done <- u.work()
		}

		ws.mutex.Lock()
	}

	ws.draining = false
	ws.mutex.Unlock()

	return <-unit.done
}
