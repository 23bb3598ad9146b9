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
	"sync"
	"time"

	"devt.de/krotik/recorddb/apply"
	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

/*
upgradeLock is the shared/exclusive lock pair which serializes the
kernel version upgrade transaction with all other writers. Every write
commit holds the shared side for its duration, the upgrade injector
acquires the exclusive side with a bounded wait.
*/
type upgradeLock struct {
	readers int           // Number of shared holders
	writer  bool          // Flag if the exclusive side is held
	changed chan struct{} // Closed and replaced on every state change
	mutex   *sync.Mutex   // Mutex for lock state
}

/*
newUpgradeLock creates a new upgrade lock.
*/
func newUpgradeLock() *upgradeLock {
	return &upgradeLock{0, false, make(chan struct{}), &sync.Mutex{}}
}

/*
notify wakes up all waiters after a state change.
*/
func (ul *upgradeLock) notify() {
	close(ul.changed)
	ul.changed = make(chan struct{})
}

/*
AcquireShared acquires the shared side of the lock.
*/
func (ul *upgradeLock) AcquireShared() {
	ul.mutex.Lock()

	for ul.writer {
		wait := ul.changed
		ul.mutex.Unlock()
		<-wait
		ul.mutex.Lock()
	}

	ul.readers++
	ul.mutex.Unlock()
}

/*
ReleaseShared releases the shared side of the lock.
*/
func (ul *upgradeLock) ReleaseShared() {
	ul.mutex.Lock()
	ul.readers--
	ul.notify()
	ul.mutex.Unlock()
}

/*
TryAcquireExclusive tries to acquire the exclusive side of the lock
within a bounded wait window.
*/
func (ul *upgradeLock) TryAcquireExclusive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	ul.mutex.Lock()

	for ul.readers > 0 || ul.writer {
		wait := ul.changed
		ul.mutex.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		select {
		case <-wait:
		case <-time.After(remaining):
			return false
		}

		ul.mutex.Lock()
	}

	ul.writer = true
	ul.mutex.Unlock()

	return true
}

/*
ReleaseExclusive releases the exclusive side of the lock.
*/
func (ul *upgradeLock) ReleaseExclusive() {
	ul.mutex.Lock()
	ul.writer = false
	ul.notify()
	ul.mutex.Unlock()
}

// Upgrade protocol
// ================

/*
CreateUpgradeCommands returns the single-element command prefix which
advances the kernel version of the store to a given target version. The
command is tagged at the target version - it is the first command of the
new version in the log.
*/
func (e *Engine) CreateUpgradeCommands(target command.KernelVersion) ([]command.Command, error) {
	current, err := e.kernelVersion()
	if err != nil {
		return nil, err
	}

	if err := e.validator.ValidateUpgrade(current, target); err != nil {
		return nil, err
	}

	before := &storage.MetaDataRecord{
		ID: storage.MetaPosKernelVersion, InUse: true, Value: uint64(current)}
	after := &storage.MetaDataRecord{
		ID: storage.MetaPosKernelVersion, InUse: true, Value: uint64(target)}

	return []command.Command{
		&command.MetaDataCommand{Ver: target, Before: before, After: after},
	}, nil
}

/*
maybeUpgrade attempts the kernel version upgrade on write-commit entry.
The upgrade runs as its own transaction under the exclusive upgrade
lock. If the exclusive lock cannot be acquired within the bounded wait
window the upgrade is skipped and retried on the next write - the user
transaction proceeds at the old version.
*/
func (e *Engine) maybeUpgrade() error {
	if !e.autoUpgrade {
		return nil
	}

	current, err := e.kernelVersion()
	if err != nil {
		return err
	}

	if current >= e.runtimeVersion {
		return nil
	}

	if !e.upgrade.TryAcquireExclusive(e.upgradeTimeout) {
		e.logger.Warning(fmt.Sprintf(
			"Upgrade from %v to %v not possible right now due to conflicting transaction, will retry on next write",
			current, e.runtimeVersion))
		return nil
	}

	defer e.upgrade.ReleaseExclusive()

	// Re-read the version stamp with the exclusive lock held

	if current, err = e.kernelVersion(); err != nil || current >= e.runtimeVersion {
		return err
	}

	cmds, err := e.CreateUpgradeCommands(e.runtimeVersion)
	if err != nil {
		return err
	}

	batch := &command.Batch{
		TxID:     e.nextTxID(),
		Ver:      e.runtimeVersion,
		Commands: cmds,
	}

	if err := e.log.Append(batch); err != nil {
		return err
	}

	if err := e.Apply(batch, apply.ModeInternal); err != nil {
		return err
	}

	if err := e.stores.Meta.SetValue(storage.MetaPosUpgradeTime,
		uint64(time.Now().UnixNano())); err != nil {
		return err
	}

	e.logger.Info(fmt.Sprintf("Upgraded kernel version from %v to %v",
		current, e.runtimeVersion))

	return nil
}

/*
kernelVersion reads the current kernel version stamp of the store. A
store which was never stamped is reported as a format mismatch - for new
stores the engine stamps the runtime version at startup.
*/
func (e *Engine) kernelVersion() (command.KernelVersion, error) {
	value, set, err := e.stores.KernelVersion()
	if err != nil {
		return 0, err
	}

	if !set {
		return 0, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: "Store has no kernel version stamp"}
	}

	version := command.KernelVersion(value)

	if !version.IsKnown() {
		return 0, &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Unknown kernel version %v", value)}
	}

	return version, nil
}
