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
Package command contains the durable command types of the storage engine.

A command is the atomic unit of durable change. It carries a before and an
after image of a single record plus a kernel version tag. Commands are
totally ordered within a transaction - the order they are extracted in is
the order they are written to the transaction log and the order they are
replayed in during recovery.

The package also contains the binary command serialization and the
transaction log access objects. Serialization is deterministic - encoding
the same commands always produces the same bytes.
*/
package command

import (
	"fmt"

	"devt.de/krotik/recorddb/counts"
	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
)

/*
KernelVersion is the version generation of the on-disk format. It is
stored in the meta data store and advances only through upgrade
transactions.
*/
type KernelVersion byte

/*
Known kernel versions
*/
const (
	Version1 KernelVersion = iota + 1
	Version2

	// LatestVersion is the newest kernel version known to this build

	LatestVersion = Version2
)

/*
String returns a string representation of a kernel version.
*/
func (v KernelVersion) String() string {
	return fmt.Sprintf("V%d", byte(v))
}

/*
IsKnown returns if this kernel version is part of the recognised version
set of this build.
*/
func (v KernelVersion) IsKnown() bool {
	return v >= Version1 && v <= LatestVersion
}

/*
Kind is the kind of a command. The declaration order of the kinds is the
extraction and replay order of commands within a transaction.
*/
type Kind byte

/*
Possible command kinds
*/
const (
	KindSchema Kind = iota
	KindToken
	KindNode
	KindRelationship
	KindRelGroup
	KindProperty
	KindCounts
	KindDegrees
	KindMetaData
)

/*
String returns a string representation of a command kind.
*/
func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindToken:
		return "token"
	case KindNode:
		return "node"
	case KindRelationship:
		return "relationship"
	case KindRelGroup:
		return "relgroup"
	case KindProperty:
		return "property"
	case KindCounts:
		return "counts"
	case KindDegrees:
		return "degrees"
	}
	return "metadata"
}

/*
Command is a single durable change of one record or counter.
*/
type Command interface {

	/*
		Kind returns the kind of this command.
	*/
	Kind() Kind

	/*
		Version returns the kernel version tag of this command.
	*/
	Version() KernelVersion

	/*
		String returns a string representation of this command.
	*/
	String() string

	/*
		encode writes this command to an encoder.
	*/
	encode(e *encoder)
}

/*
DynamicChange is a before/after pair of a single dynamic record which is
carried inside a node, property, token or schema command.
*/
type DynamicChange struct {
	Array  bool                   // Flag if the record lives in the array store
	Before *storage.DynamicRecord // Record image before the change
	After  *storage.DynamicRecord // Record image after the change
}

/*
NodeCommand changes a single node record together with the dynamic
records of spilled labels.
*/
type NodeCommand struct {
	Ver     KernelVersion       // Kernel version tag
	Before  *storage.NodeRecord // Record image before the change
	After   *storage.NodeRecord // Record image after the change
	Dynamic []DynamicChange     // Dynamic records changed with this node
}

/*
Kind returns the kind of this command.
*/
func (c *NodeCommand) Kind() Kind {
	return KindNode
}

/*
Version returns the kernel version tag of this command.
*/
func (c *NodeCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *NodeCommand) String() string {
	return fmt.Sprintf("NodeCmd[%v -> %v]", c.Before, c.After)
}

/*
RelationshipCommand changes a single relationship record.
*/
type RelationshipCommand struct {
	Ver    KernelVersion               // Kernel version tag
	Before *storage.RelationshipRecord // Record image before the change
	After  *storage.RelationshipRecord // Record image after the change
}

/*
Kind returns the kind of this command.
*/
func (c *RelationshipCommand) Kind() Kind {
	return KindRelationship
}

/*
Version returns the kernel version tag of this command.
*/
func (c *RelationshipCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *RelationshipCommand) String() string {
	return fmt.Sprintf("RelationshipCmd[%v -> %v]", c.Before, c.After)
}

/*
RelGroupCommand changes a single relationship group record.
*/
type RelGroupCommand struct {
	Ver    KernelVersion           // Kernel version tag
	Before *storage.RelGroupRecord // Record image before the change
	After  *storage.RelGroupRecord // Record image after the change
}

/*
Kind returns the kind of this command.
*/
func (c *RelGroupCommand) Kind() Kind {
	return KindRelGroup
}

/*
Version returns the kernel version tag of this command.
*/
func (c *RelGroupCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *RelGroupCommand) String() string {
	return fmt.Sprintf("RelGroupCmd[%v -> %v]", c.Before, c.After)
}

/*
PropertyCommand changes a single property record together with the
dynamic records of its long values.
*/
type PropertyCommand struct {
	Ver     KernelVersion           // Kernel version tag
	Before  *storage.PropertyRecord // Record image before the change
	After   *storage.PropertyRecord // Record image after the change
	Dynamic []DynamicChange         // Dynamic records changed with this property
}

/*
Kind returns the kind of this command.
*/
func (c *PropertyCommand) Kind() Kind {
	return KindProperty
}

/*
Version returns the kernel version tag of this command.
*/
func (c *PropertyCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *PropertyCommand) String() string {
	return fmt.Sprintf("PropertyCmd[%v -> %v dynamic:%v]", c.Before, c.After, len(c.Dynamic))
}

/*
SchemaCommand creates or drops a single schema rule.
*/
type SchemaCommand struct {
	Ver     KernelVersion         // Kernel version tag
	Before  *storage.SchemaRecord // Record image before the change
	After   *storage.SchemaRecord // Record image after the change
	Rule    *schema.Rule          // Rule body (nil when dropping)
	Dynamic []DynamicChange       // String store records of the rule body
}

/*
Kind returns the kind of this command.
*/
func (c *SchemaCommand) Kind() Kind {
	return KindSchema
}

/*
Version returns the kernel version tag of this command.
*/
func (c *SchemaCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *SchemaCommand) String() string {
	return fmt.Sprintf("SchemaCmd[%v rule:%v]", c.After.ID, c.Rule)
}

/*
TokenCommand creates a single token.
*/
type TokenCommand struct {
	Ver     KernelVersion        // Kernel version tag
	Before  *storage.TokenRecord // Record image before the change
	After   *storage.TokenRecord // Record image after the change
	Name    string               // Name of the token
	Dynamic []DynamicChange      // String store records of the token name
}

/*
Kind returns the kind of this command.
*/
func (c *TokenCommand) Kind() Kind {
	return KindToken
}

/*
Version returns the kernel version tag of this command.
*/
func (c *TokenCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *TokenCommand) String() string {
	return fmt.Sprintf("TokenCmd[%v %v %v]", c.After.ID, c.After.Kind, c.Name)
}

/*
CountsCommand applies a delta to a single counter of the counts store.
*/
type CountsCommand struct {
	Ver   KernelVersion // Kernel version tag
	Key   counts.Key    // Counter key
	Delta int64         // Delta to apply
}

/*
Kind returns the kind of this command.
*/
func (c *CountsCommand) Kind() Kind {
	return KindCounts
}

/*
Version returns the kernel version tag of this command.
*/
func (c *CountsCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *CountsCommand) String() string {
	return fmt.Sprintf("CountsCmd[%v %+d]", c.Key, c.Delta)
}

/*
DegreesCommand applies a delta to a single counter of the degrees store.
*/
type DegreesCommand struct {
	Ver   KernelVersion    // Kernel version tag
	Key   counts.DegreeKey // Degree counter key
	Delta int64            // Delta to apply
}

/*
Kind returns the kind of this command.
*/
func (c *DegreesCommand) Kind() Kind {
	return KindDegrees
}

/*
Version returns the kernel version tag of this command.
*/
func (c *DegreesCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *DegreesCommand) String() string {
	return fmt.Sprintf("DegreesCmd[%v %+d]", c.Key, c.Delta)
}

/*
MetaDataCommand changes a single meta data record. The kernel version
upgrade transaction consists of exactly one meta data command targeting
the kernel version position.
*/
type MetaDataCommand struct {
	Ver    KernelVersion           // Kernel version tag
	Before *storage.MetaDataRecord // Record image before the change
	After  *storage.MetaDataRecord // Record image after the change
}

/*
Kind returns the kind of this command.
*/
func (c *MetaDataCommand) Kind() Kind {
	return KindMetaData
}

/*
Version returns the kernel version tag of this command.
*/
func (c *MetaDataCommand) Version() KernelVersion {
	return c.Ver
}

/*
String returns a string representation of this command.
*/
func (c *MetaDataCommand) String() string {
	return fmt.Sprintf("MetaDataCmd[%v -> %v]", c.Before, c.After)
}
