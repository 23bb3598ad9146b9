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
Package schema contains the schema rules, the schema cache and the token
registry of the storage engine.

Schema rules describe indexes and constraints. The durable home of a rule
is a schema store record whose body lives in the string store - the schema
cache is an in-memory mirror of the schema store which is kept up to date
transactionally by the applier chain. Between transactions the cache is
always equal to the schema store contents.

Tokens map label, relationship type and property key names to numeric
ids. The token registry mirrors the token store in the same way.
*/
package schema

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

/*
RuleKind is the kind of a schema rule.
*/
type RuleKind byte

/*
Possible schema rule kinds
*/
const (
	KindIndex RuleKind = iota
	KindUniqueConstraint
	KindExistenceConstraint
	KindNodeKeyConstraint
)

/*
String returns a string representation of a RuleKind.
*/
func (rk RuleKind) String() string {
	switch rk {
	case KindIndex:
		return "index"
	case KindUniqueConstraint:
		return "unique"
	case KindExistenceConstraint:
		return "existence"
	}
	return "nodekey"
}

/*
NoToken marks an unset label or relationship type of a schema rule.
*/
const NoToken int32 = -1

/*
Rule is a single schema rule. A rule targets either a label or a
relationship type together with one or more property keys.
*/
type Rule struct {
	ID           uint64   // Schema record id of this rule
	Kind         RuleKind // Kind of this rule
	Name         string   // Given name of this rule
	Label        int32    // Label token (NoToken for relationship rules)
	RelType      int32    // Relationship type token (NoToken for node rules)
	PropertyKeys []int32  // Property key tokens of this rule
}

/*
IsConstraint returns if this rule describes a constraint.
*/
func (r *Rule) IsConstraint() bool {
	return r.Kind != KindIndex
}

/*
String returns a string representation of this rule.
*/
func (r *Rule) String() string {
	return fmt.Sprintf("Rule %v (%v name:%v label:%v reltype:%v keys:%v)",
		r.ID, r.Kind, r.Name, r.Label, r.RelType, r.PropertyKeys)
}

/*
EncodeRule encodes a schema rule for storage in the string store.
*/
func EncodeRule(r *Rule) ([]byte, error) {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

/*
DecodeRule decodes a schema rule from its stored form.
*/
func DecodeRule(data []byte) (*Rule, error) {
	var r Rule

	if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&r); err != nil {
		return nil, err
	}

	return &r, nil
}
