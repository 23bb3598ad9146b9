/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package storage

import (
	"math/rand"
	"os"
	"path"
	"time"

	"devt.de/krotik/common/errorutil"
	"devt.de/krotik/common/fileutil"
	"devt.de/krotik/common/lockutil"
	"devt.de/krotik/recorddb/util"
)

/*
Meta data store positions
*/
const (
	MetaPosCreationTime  = 0 // Store creation timestamp
	MetaPosRandomID      = 1 // Random store identifier
	MetaPosStoreVersion  = 2 // Store format version
	MetaPosLastTxID      = 3 // Last committed transaction id
	MetaPosKernelVersion = 4 // Kernel version of the store
	MetaPosUpgradeTime   = 5 // Timestamp of the last kernel upgrade
	MetaPositions        = 6 // Number of reserved meta data positions
)

/*
StoreID identifies a particular physical store.
*/
type StoreID struct {
	CreationTime uint64 // Store creation timestamp
	RandomID     uint64 // Random store identifier
}

/*
StoreInfo describes a single store file for backup and replay enumeration.
*/
type StoreInfo struct {
	Name       string // Name of the store
	Path       string // File path of the store
	RecordSize uint32 // Record size (0 for non-record files)
}

/*
Stores is the collection of all record stores of a database instance.
Stores are created together at open and released together at close in
reverse open order.
*/
type Stores struct {
	dir      string             // Directory of the store files
	readonly bool               // Flag for read-only mode
	lockfile *lockutil.LockFile // Lock file guarding the directory
	Nodes    *NodeStore         // Node store
	Rels     *RelationshipStore // Relationship store
	Groups   *RelGroupStore     // Relationship group store
	Props    *PropertyStore     // Property store
	Strings  *DynamicStore      // String store
	Arrays   *DynamicStore      // Array store
	Schema   *SchemaStore       // Schema store
	Tokens   *TokenStore        // Token store
	Meta     *MetaDataStore     // Meta data store
}

/*
OpenStores opens or creates all record stores in a given directory.
*/
func OpenStores(dir string, readonly bool) (*Stores, error) {
	created := false

	if res, _ := fileutil.PathExists(dir); !res {
		if readonly {
			return nil, &util.StorageError{Type: util.ErrStorageIO,
				Detail: "Store directory does not exist: " + dir}
		}

		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, &util.StorageError{Type: util.ErrStorageIO, Detail: err.Error()}
		}

		created = true
	}

	ss := &Stores{dir: dir, readonly: readonly}

	if !readonly {
		ss.lockfile = lockutil.NewLockFile(path.Join(dir, FileStoreDirectoryLock),
			time.Duration(50)*time.Millisecond)

		if err := ss.lockfile.Start(); err != nil {
			return nil, &util.StorageError{Type: util.ErrStorageIO,
				Detail: "Could not lock store directory: " + err.Error()}
		}
	}

	var opened []*baseStore
	var openErr error

	open := func(fname string, recordSize uint32, reserved uint64) *baseStore {
		if openErr != nil {
			return nil
		}

		bs, err := openBaseStore(dir, fname, recordSize, reserved, readonly)
		if err != nil {
			openErr = err
			return nil
		}

		opened = append(opened, bs)
		return bs
	}

	ss.Nodes = &NodeStore{open(FileNodeStore, SizeNodeRecord, 1)}
	ss.Rels = &RelationshipStore{open(FileRelationshipStore, SizeRelationshipRecord, 1)}
	ss.Groups = &RelGroupStore{open(FileRelGroupStore, SizeRelGroupRecord, 1)}
	ss.Props = &PropertyStore{open(FilePropertyStore, SizePropertyRecord, 1)}
	ss.Strings = &DynamicStore{open(FileStringStore, SizeDynamicRecord, 1)}
	ss.Arrays = &DynamicStore{open(FileArrayStore, SizeDynamicRecord, 1)}
	ss.Schema = &SchemaStore{open(FileSchemaStore, SizeSchemaRecord, 1)}
	ss.Tokens = &TokenStore{open(FileTokenStore, SizeTokenRecord, 1)}
	ss.Meta = &MetaDataStore{open(FileMetaDataStore, SizeMetaDataRecord, MetaPositions)}

	if openErr != nil {

		// Close everything which was opened so far in reverse order

		for i := len(opened) - 1; i >= 0; i-- {
			opened[i].Close()
		}

		if ss.lockfile != nil {
			ss.lockfile.Finish()
		}

		return nil, openErr
	}

	if created {
		if err := ss.initMetaData(); err != nil {
			ss.Close()
			return nil, err
		}
	}

	return ss, nil
}

/*
initMetaData writes the initial meta data of a newly created store.
*/
func (ss *Stores) initMetaData() error {
	now := uint64(time.Now().UnixNano())

	if err := ss.Meta.SetValue(MetaPosCreationTime, now); err != nil {
		return err
	}
	if err := ss.Meta.SetValue(MetaPosRandomID, rand.New(rand.NewSource(int64(now))).Uint64()); err != nil {
		return err
	}
	if err := ss.Meta.SetValue(MetaPosStoreVersion, StoreFormatVersion); err != nil {
		return err
	}
	if err := ss.Meta.SetValue(MetaPosLastTxID, 0); err != nil {
		return err
	}

	return nil
}

/*
Dir returns the directory of the store files.
*/
func (ss *Stores) Dir() string {
	return ss.dir
}

/*
ReadOnly returns if the stores were opened in read-only mode.
*/
func (ss *Stores) ReadOnly() bool {
	return ss.readonly
}

/*
StoreID returns the identity of this physical store.
*/
func (ss *Stores) StoreID() (StoreID, error) {
	ctime, _, err := ss.Meta.Value(MetaPosCreationTime)
	if err != nil {
		return StoreID{}, err
	}

	rid, _, err := ss.Meta.Value(MetaPosRandomID)
	if err != nil {
		return StoreID{}, err
	}

	return StoreID{ctime, rid}, nil
}

/*
KernelVersion returns the kernel version stamp of this store. The second
return value is false if no kernel version was ever written.
*/
func (ss *Stores) KernelVersion() (uint64, bool, error) {
	return ss.Meta.Value(MetaPosKernelVersion)
}

/*
LastTxID returns the last committed transaction id.
*/
func (ss *Stores) LastTxID() (uint64, error) {
	v, _, err := ss.Meta.Value(MetaPosLastTxID)
	return v, err
}

/*
SetLastTxID records the last committed transaction id.
*/
func (ss *Stores) SetLastTxID(txID uint64) error {
	return ss.Meta.SetValue(MetaPosLastTxID, txID)
}

/*
allStores returns all record stores in open order.
*/
func (ss *Stores) allStores() []*baseStore {
	return []*baseStore{
		ss.Nodes.baseStore, ss.Rels.baseStore, ss.Groups.baseStore,
		ss.Props.baseStore, ss.Strings.baseStore, ss.Arrays.baseStore,
		ss.Schema.baseStore, ss.Tokens.baseStore, ss.Meta.baseStore,
	}
}

/*
StoreInfos describes all record store files of this instance.
*/
func (ss *Stores) StoreInfos() []StoreInfo {
	var infos []StoreInfo

	for _, bs := range ss.allStores() {
		infos = append(infos, StoreInfo{bs.Name(), bs.StorageFile(), bs.RecordSize()})
	}

	return infos
}

/*
Flush syncs all record files to disk.
*/
func (ss *Stores) Flush() error {
	ce := errorutil.NewCompositeError()

	for _, bs := range ss.allStores() {
		if err := bs.Flush(); err != nil {
			ce.Add(err)
		}
	}

	if ce.HasErrors() {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: ce.Error()}
	}

	return nil
}

/*
Checkpoint flushes all record files and checkpoints all id generators.
Freed record ids become available for reuse after this call.
*/
func (ss *Stores) Checkpoint() error {
	ce := errorutil.NewCompositeError()

	for _, bs := range ss.allStores() {
		if err := bs.Checkpoint(); err != nil {
			ce.Add(err)
		}
	}

	if ce.HasErrors() {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: ce.Error()}
	}

	return nil
}

/*
Close closes all record stores in reverse open order.
*/
func (ss *Stores) Close() error {
	ce := errorutil.NewCompositeError()

	all := ss.allStores()
	for i := len(all) - 1; i >= 0; i-- {
		if err := all[i].Close(); err != nil {
			ce.Add(err)
		}
	}

	if ss.lockfile != nil {
		if err := ss.lockfile.Finish(); err != nil {
			ce.Add(err)
		}
	}

	if ce.HasErrors() {
		return &util.StorageError{Type: util.ErrStorageIO, Detail: ce.Error()}
	}

	return nil
}
