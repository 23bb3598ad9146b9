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
Package engine contains the record storage engine.

The engine translates the logical state of committing transactions into
ordered command streams, appends them to the transaction log and applies
them through per-mode applier chains against the record stores, the
counts stores and the registered listeners. The first write transaction
after a runtime version bump atomically promotes the on-disk format
through a synthetic upgrade transaction.

The engine owns its record stores, id generators, counts stores and
caches for its lifetime - they are created at construction and released
at Shutdown in reverse order. Listeners are registered at construction
through the Options - the engine is immutable afterwards.
*/
package engine

import (
	"fmt"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"devt.de/krotik/common/logutil"
	"devt.de/krotik/common/stringutil"
	"devt.de/krotik/recorddb/apply"
	"devt.de/krotik/recorddb/command"
	"devt.de/krotik/recorddb/config"
	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/tx"
	"devt.de/krotik/recorddb/util"
	"devt.de/krotik/recorddb/worksync"
)

/*
File names of the counts and degrees checkpoint files
*/
const (
	FileCountsStore  = "counts.db"
	FileDegreesStore = "degrees.db"
)

/*
Options are the construction time collaborators of an engine. Listener
registration is a builder phase concern - a nil listener disables the
corresponding notifications.
*/
type Options struct {
	IndexListener     apply.IndexUpdateListener       // Optional index update listener
	NodeLabelListener apply.EntityTokenUpdateListener // Optional node label scan listener
	RelTypeListener   apply.EntityTokenUpdateListener // Optional relationship type scan listener
	Locks             apply.LockService               // Record lock service for command application
	Log               command.TransactionLog          // Transaction log sink
	Health            *Health                         // Database health monitor
	RuntimeVersion    command.KernelVersion           // Kernel version of the runtime
	VerifyLocks       bool                            // Flag for commit time lock verification
}

/*
Engine is the transactional record storage engine of a database
instance.
*/
type Engine struct {
	dir          string                // Directory of the store files
	stores       *storage.Stores       // Record stores
	schemaCache  *schema.Cache         // Schema cache mirror
	tokens       *schema.TokenRegistry // Token registry mirror
	countsStore  *counts.Store         // Counts store
	degreesStore *counts.DegreesStore  // Group degrees store
	validator    *IntegrityValidator   // Integrity validator
	health       *Health               // Health monitor
	log          command.TransactionLog // Transaction log
	logger       logutil.Logger        // Engine logger
	upgrade      *upgradeLock          // Shared/exclusive upgrade lock

	chains      map[apply.Mode]*apply.Chain // Applier chains per mode
	indexSync   *worksync.WorkSync          // Work sync of the index listener
	labelSync   *worksync.WorkSync          // Work sync of the label scan listener
	relTypeSync *worksync.WorkSync          // Work sync of the type scan listener
	idSyncs     map[*storage.IDGenerator]*worksync.WorkSync // Work syncs per id generator

	readonly         bool                  // Flag for read-only mode
	consistencyCheck bool                  // Flag for the checking applier
	relaxedLocking   bool                  // Flag for external group degrees
	autoUpgrade      bool                  // Flag for the automatic upgrade protocol
	verifyLocks      bool                  // Flag for commit time lock verification
	denseThreshold   uint64                // Degree at which nodes become dense
	upgradeTimeout   time.Duration         // Bounded wait for the exclusive upgrade lock
	runtimeVersion   command.KernelVersion // Kernel version of the runtime

	txCounter uint64      // Transaction id counter
	mutex     *sync.Mutex // Mutex for lifecycle operations
	closed    bool        // Flag if the engine was shut down
}

/*
New creates a new storage engine over a given store directory. The
configuration uses the keys of the config package - a nil map selects
the default configuration.
*/
func New(dir string, cnf map[string]interface{}, opts *Options) (*Engine, error) {
	if cnf == nil {
		cnf = config.DefaultConfig
	}
	if opts == nil {
		opts = &Options{}
	}

	e := &Engine{
		dir:       dir,
		validator: NewIntegrityValidator(),
		logger:    logutil.GetLogger("recorddb.engine"),
		upgrade:   newUpgradeLock(),
		mutex:     &sync.Mutex{},

		readonly:         confBool(cnf, config.EnableReadOnly),
		consistencyCheck: confBool(cnf, config.ConsistencyCheckOnApply),
		relaxedLocking:   confBool(cnf, config.RelaxedLockingForDenseNodes),
		autoUpgrade:      confBool(cnf, config.EnableAutomaticUpgrade),
		denseThreshold:   uint64(confInt(cnf, config.DenseNodeThreshold)),
		upgradeTimeout:   time.Duration(confInt(cnf, config.UpgradeLockTimeout)) * time.Millisecond,
	}

	e.health = opts.Health
	if e.health == nil {
		e.health = NewHealth()
	}

	e.log = opts.Log
	if e.log == nil {
		e.log = command.NewMemoryLog()
	}

	e.runtimeVersion = opts.RuntimeVersion
	if e.runtimeVersion == 0 {
		e.runtimeVersion = command.LatestVersion
	}

	e.verifyLocks = opts.VerifyLocks

	locks := opts.Locks
	if locks == nil {
		locks = apply.NewRecordLockService()
	}

	// Open the record stores

	stores, err := storage.OpenStores(dir, e.readonly)
	if err != nil {
		return nil, err
	}

	e.stores = stores

	// A fresh store is stamped at the runtime version

	_, stamped, err := stores.KernelVersion()

	if err == nil && !stamped && !e.readonly {
		err = stores.Meta.SetValue(storage.MetaPosKernelVersion, uint64(e.runtimeVersion))
	}

	if err != nil {
		stores.Close()
		return nil, err
	}

	e.schemaCache = schema.NewCache()
	e.tokens = schema.NewTokenRegistry()

	// Open the counts stores - a missing counts store is rebuilt by
	// scanning the record stores

	e.countsStore, err = counts.OpenStore(path.Join(dir, FileCountsStore),
		e.countsRebuilder())
	if err != nil {
		stores.Close()
		return nil, err
	}

	e.degreesStore, err = counts.OpenDegreesStore(path.Join(dir, FileDegreesStore))
	if err != nil {
		e.countsStore.Close()
		stores.Close()
		return nil, err
	}

	// Wire the work syncs - one per mutation-unsafe sink

	e.indexSync = worksync.NewWorkSync("index")
	e.labelSync = worksync.NewWorkSync("labelscan")
	e.relTypeSync = worksync.NewWorkSync("reltypescan")

	e.idSyncs = make(map[*storage.IDGenerator]*worksync.WorkSync)
	for _, gen := range e.allGenerators() {
		e.idSyncs[gen] = worksync.NewWorkSync("idgen")
	}

	// Build the applier chains - one per application mode

	deps := apply.Dependencies{
		Stores:           stores,
		SchemaCache:      e.schemaCache,
		Tokens:           e.tokens,
		Counts:           e.countsStore,
		Degrees:          e.degreesStore,
		Locks:            locks,
		ConsistencyCheck: e.consistencyCheck,
		IndexListener:    opts.IndexListener,
		LabelListener:    opts.NodeLabelListener,
		RelTypeListener:  opts.RelTypeListener,
		IndexSync:        e.indexSync,
		LabelSync:        e.labelSync,
		RelTypeSync:      e.relTypeSync,
		IDSyncs:          e.idSyncs,
	}

	e.chains = map[apply.Mode]*apply.Chain{
		apply.ModeInternal:        apply.NewChain(apply.ModeInternal, deps),
		apply.ModeExternal:        apply.NewChain(apply.ModeExternal, deps),
		apply.ModeRecovery:        apply.NewChain(apply.ModeRecovery, deps),
		apply.ModeReverseRecovery: apply.NewChain(apply.ModeReverseRecovery, deps),
	}

	lastTxID, err := stores.LastTxID()
	if err != nil {
		e.degreesStore.Close()
		e.countsStore.Close()
		stores.Close()
		return nil, err
	}

	e.txCounter = lastTxID

	return e, nil
}

/*
allGenerators returns the id generators of all record stores.
*/
func (e *Engine) allGenerators() []*storage.IDGenerator {
	return []*storage.IDGenerator{
		e.stores.Nodes.IDGenerator(), e.stores.Rels.IDGenerator(),
		e.stores.Groups.IDGenerator(), e.stores.Props.IDGenerator(),
		e.stores.Strings.IDGenerator(), e.stores.Arrays.IDGenerator(),
		e.stores.Schema.IDGenerator(), e.stores.Tokens.IDGenerator(),
	}
}

/*
Start loads the schema cache and the token registry from the stores.
*/
func (e *Engine) Start() error {
	return e.LoadSchemaCache()
}

/*
Shutdown releases all resources of the engine in reverse construction
order.
*/
func (e *Engine) Shutdown() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return nil
	}

	e.closed = true

	var ret error

	if e.readonly {
		return e.stores.Close()
	}

	if err := e.degreesStore.Close(); err != nil {
		ret = err
	}
	if err := e.countsStore.Close(); err != nil && ret == nil {
		ret = err
	}
	if err := e.stores.Close(); err != nil && ret == nil {
		ret = err
	}

	return ret
}

/*
LoadSchemaCache replaces the schema cache and token registry contents
with the durable store contents.
*/
func (e *Engine) LoadSchemaCache() error {
	var rules []*schema.Rule
	var tokens []*schema.Token

	for id := e.stores.Schema.ReservedLowIDs(); id < e.stores.Schema.HighID(); id++ {
		sr, err := e.stores.Schema.Get(id, storage.LoadCheck)
		if err != nil {
			return err
		}

		if !sr.InUse || sr.RuleRef == storage.NilID {
			continue
		}

		data, err := e.stores.Strings.ReadChain(sr.RuleRef)
		if err != nil {
			return err
		}

		rule, err := schema.DecodeRule(data)
		if err != nil {
			return &util.StorageError{Type: util.ErrFormatMismatch,
				Detail: fmt.Sprintf("Cannot decode schema rule %v: %v", id, err)}
		}

		rules = append(rules, rule)
	}

	for id := e.stores.Tokens.ReservedLowIDs(); id < e.stores.Tokens.HighID(); id++ {
		tr, err := e.stores.Tokens.Get(id, storage.LoadCheck)
		if err != nil {
			return err
		}

		if !tr.InUse {
			continue
		}

		name, err := e.stores.Strings.ReadChain(tr.NameRef)
		if err != nil {
			return err
		}

		tokens = append(tokens, &schema.Token{ID: id, Kind: tr.Kind, Name: string(name)})
	}

	e.schemaCache.Load(rules)
	e.tokens.Load(tokens)

	e.logger.Info(fmt.Sprintf("Loaded %v schema rule%v and %v token%v",
		len(rules), stringutil.Plural(len(rules)),
		len(tokens), stringutil.Plural(len(tokens))))

	return nil
}

// Accessors
// =========

/*
Stores returns the record stores of this engine.
*/
func (e *Engine) Stores() *storage.Stores {
	return e.stores
}

/*
SchemaCache returns the schema cache of this engine.
*/
func (e *Engine) SchemaCache() *schema.Cache {
	return e.schemaCache
}

/*
Tokens returns the token registry of this engine.
*/
func (e *Engine) Tokens() *schema.TokenRegistry {
	return e.tokens
}

/*
CountsAccessor returns the counts store of this engine.
*/
func (e *Engine) CountsAccessor() *counts.Store {
	return e.countsStore
}

/*
DegreesAccessor returns the group degrees store of this engine.
*/
func (e *Engine) DegreesAccessor() *counts.DegreesStore {
	return e.degreesStore
}

/*
MetadataProvider returns the meta data store of this engine.
*/
func (e *Engine) MetadataProvider() *storage.MetaDataStore {
	return e.stores.Meta
}

/*
StoreID returns the identity of the physical store.
*/
func (e *Engine) StoreID() (storage.StoreID, error) {
	return e.stores.StoreID()
}

/*
Health returns the health monitor of this engine.
*/
func (e *Engine) Health() *Health {
	return e.health
}

/*
Log returns the transaction log of this engine.
*/
func (e *Engine) Log() command.TransactionLog {
	return e.log
}

/*
KernelVersion returns the current kernel version stamp of the store.
*/
func (e *Engine) KernelVersion() (command.KernelVersion, error) {
	return e.kernelVersion()
}

/*
RuntimeVersion returns the kernel version of the runtime.
*/
func (e *Engine) RuntimeVersion() command.KernelVersion {
	return e.runtimeVersion
}

/*
nextTxID returns the next transaction id.
*/
func (e *Engine) nextTxID() uint64 {
	return atomic.AddUint64(&e.txCounter, 1)
}

// Command creation
// ================

/*
CommandContext is the per-transaction scratch space for command
creation. It reserves record ids for entities created by the
transaction.
*/
type CommandContext struct {
	engine *Engine
}

/*
NewCommandContext creates a new command creation context.
*/
func (e *Engine) NewCommandContext() *CommandContext {
	return &CommandContext{e}
}

/*
ReserveNode reserves a fresh node id.
*/
func (ctx *CommandContext) ReserveNode() (uint64, error) {
	return ctx.engine.stores.Nodes.NextID()
}

/*
ReserveRelationship reserves a fresh relationship id.
*/
func (ctx *CommandContext) ReserveRelationship() (uint64, error) {
	return ctx.engine.stores.Rels.NextID()
}

/*
CreateCommands translates the logical state of a transaction into the
ordered command list of the transaction. Integrity violations abort the
translation with a typed error and no commands are produced.
*/
func (e *Engine) CreateCommands(out *[]command.Command, ts *tx.State,
	ctx *CommandContext, locker tx.ResourceLocker, decorator tx.Decorator) error {

	if err := e.health.AssertHealthy(); err != nil {
		return err
	}

	if e.readonly {
		return &util.StorageError{Type: util.ErrReadOnly,
			Detail: "Cannot create commands on a read-only store"}
	}

	version, err := e.kernelVersion()
	if err != nil {
		return err
	}

	if version > e.runtimeVersion {
		return &util.StorageError{Type: util.ErrFormatMismatch,
			Detail: fmt.Sprintf("Store version %v is newer than runtime version %v - refusing to write",
				version, e.runtimeVersion)}
	}

	rs := tx.NewRecordState(e.stores, e.schemaCache, e.denseThreshold,
		e.relaxedLocking, locker)

	var visitor tx.Visitor = tx.NewRecordStateVisitor(rs)

	if decorator != nil {
		visitor = decorator(visitor)
	}

	counting := tx.NewCountingVisitor(visitor, rs)

	if err := ts.Accept(counting); err != nil {
		return err
	}

	// Constraint validation runs after record state accumulation and
	// before command extraction

	if err := rs.ValidateConstraints(); err != nil {
		return err
	}

	cs := tx.NewCountsState()

	if err := counting.Finalize(cs); err != nil {
		return err
	}

	if err := rs.ExtractCommands(out, version); err != nil {
		return err
	}

	cs.ExtractCommands(out, version)
	rs.ExtractDegreeCommands(out, version)

	if e.verifyLocks && locker != nil {
		if err := e.validator.VerifySufficientLocks(*out, locker); err != nil {
			return err
		}
	}

	return nil
}

// Command application
// ===================

/*
Apply applies a linked command batch in a given application mode. An
apply error marks the database unhealthy and is returned.
*/
func (e *Engine) Apply(batch *command.Batch, mode apply.Mode) error {
	if err := e.health.AssertHealthy(); err != nil {
		return err
	}

	chain, ok := e.chains[mode]
	if !ok {
		return &util.StorageError{Type: util.ErrConfiguration,
			Detail: fmt.Sprintf("Unknown application mode %v", mode)}
	}

	if err := chain.ApplyBatch(batch); err != nil {
		applyErr := &util.StorageError{Type: util.ErrApplyFailure,
			Detail: fmt.Sprintf("Failed to apply transaction %v: %v", batch.TxID, err)}

		e.health.Panic(applyErr)

		return applyErr
	}

	return nil
}

// Checkpointing
// =============

/*
FlushAndForce checkpoints the engine - the counts store, the degrees
store and the record stores are flushed in that order. Freed record ids
become reusable after this call.
*/
func (e *Engine) FlushAndForce() error {
	if err := e.countsStore.Checkpoint(); err != nil {
		return err
	}

	if err := e.degreesStore.Checkpoint(); err != nil {
		return err
	}

	return e.stores.Checkpoint()
}

/*
StoreFileMetadata describes a single storage file of the engine.
*/
type StoreFileMetadata struct {
	Path       string // File path of the store
	RecordSize uint32 // Record size (0 for non-record files)
}

/*
ListStorageFiles reports the storage files of the engine. The counts file
is atomic - it cannot be rebuilt from the log alone - and so is the
degrees file, which is listed only when relaxed locking for dense nodes
is enabled. The record stores are replayable.
*/
func (e *Engine) ListStorageFiles() ([]StoreFileMetadata, []StoreFileMetadata) {
	var atomicFiles, replayableFiles []StoreFileMetadata

	atomicFiles = append(atomicFiles, StoreFileMetadata{path.Join(e.dir, FileCountsStore), 0})

	if e.relaxedLocking {
		atomicFiles = append(atomicFiles, StoreFileMetadata{path.Join(e.dir, FileDegreesStore), 0})
	}

	for _, info := range e.stores.StoreInfos() {
		replayableFiles = append(replayableFiles, StoreFileMetadata{info.Path, info.RecordSize})
	}

	return atomicFiles, replayableFiles
}

// Configuration helpers
// =====================

/*
confBool reads a configuration value as a boolean.
*/
func confBool(cnf map[string]interface{}, key string) bool {
	value, ok := cnf[key]
	if !ok {
		value = config.DefaultConfig[key]
	}

	ret, _ := strconv.ParseBool(fmt.Sprint(value))

	return ret
}

/*
confInt reads a configuration value as an integer.
*/
func confInt(cnf map[string]interface{}, key string) int64 {
	value, ok := cnf[key]
	if !ok {
		value = config.DefaultConfig[key]
	}

	ret, _ := strconv.ParseInt(fmt.Sprint(value), 10, 64)

	return ret
}
