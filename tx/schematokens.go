/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package tx

import (
	"fmt"

	"devt.de/krotik/recorddb/schema"
	"devt.de/krotik/recorddb/storage"
	"devt.de/krotik/recorddb/util"
)

// Schema rule operations
// ======================

/*
SchemaRuleCreate stages the creation of a schema rule. The schema record
id of the rule is allocated here and set on the given rule.
*/
func (rs *RecordState) SchemaRuleCreate(rule *schema.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	id, err := rs.stores.Schema.NextID()
	if err != nil {
		return err
	}

	rule.ID = id

	data, err := schema.EncodeRule(rule)
	if err != nil {
		return &util.StorageError{Type: util.ErrValidation,
			Detail: fmt.Sprintf("Cannot encode schema rule: %v", err)}
	}

	ref, ids, err := rs.stageDynamicData(false, data)
	if err != nil {
		return err
	}

	after := storage.NewSchemaRecord(id)
	after.InUse = true
	after.RuleRef = ref

	rs.schemaRecs[id] = &SchemaChange{
		Before:  storage.NewSchemaRecord(id),
		After:   after,
		Rule:    rule,
		Created: true,
		Changed: true,
		Dynamic: ids,
	}

	return nil
}

/*
SchemaRuleDrop stages the removal of a schema rule.
*/
func (rs *RecordState) SchemaRuleDrop(id uint64) error {
	sc, ok := rs.schemaRecs[id]

	if !ok {
		before, err := rs.stores.Schema.Get(id, storage.LoadNormal)
		if err != nil {
			return err
		}

		sc = &SchemaChange{Before: before, After: before.Copy()}
		rs.schemaRecs[id] = sc
	}

	if sc.After.RuleRef != storage.NilID {
		ids, err := rs.freeDynamicChain(false, sc.After.RuleRef)
		if err != nil {
			return err
		}

		sc.Dynamic = append(sc.Dynamic, ids...)
	}

	sc.After = storage.NewSchemaRecord(id)
	sc.Rule = nil
	sc.Changed = true

	return nil
}

/*
validateRule checks the structural preconditions of a schema rule.
*/
func validateRule(rule *schema.Rule) error {
	if len(rule.PropertyKeys) == 0 {
		return &util.StorageError{Type: util.ErrValidation,
			Detail: fmt.Sprintf("Schema rule %v has no property keys", rule.Name)}
	}

	if (rule.Label == schema.NoToken) == (rule.RelType == schema.NoToken) {
		return &util.StorageError{Type: util.ErrValidation,
			Detail: fmt.Sprintf("Schema rule %v must target either a label or a relationship type", rule.Name)}
	}

	return nil
}

// Token operations
// ================

/*
TokenCreate stages the creation of a token. The token id is allocated
here and returned.
*/
func (rs *RecordState) TokenCreate(kind storage.TokenKind, name string) (uint64, error) {
	id, err := rs.stores.Tokens.NextID()
	if err != nil {
		return 0, err
	}

	ref, ids, err := rs.stageDynamicData(false, []byte(name))
	if err != nil {
		return 0, err
	}

	after := storage.NewTokenRecord(id)
	after.InUse = true
	after.Kind = kind
	after.NameRef = ref

	rs.tokens[id] = &TokenChange{
		Before:  storage.NewTokenRecord(id),
		After:   after,
		Name:    name,
		Created: true,
		Changed: true,
		Dynamic: ids,
	}

	return id, nil
}

// Constraint validation
// =====================

/*
ValidateConstraints checks all staged node changes against the existence
constraints of the schema cache. This runs after record state
accumulation and before command extraction.
*/
func (rs *RecordState) ValidateConstraints() error {
	if rs.schemaCache == nil {
		return nil
	}

	for id, nc := range rs.nodes {
		if !nc.Changed || !nc.After.InUse {
			continue
		}

		labels, err := rs.nodeLabels(nc)
		if err != nil {
			return err
		}

		var keys []uint32

		for _, label := range labels {
			for _, rule := range rs.schemaCache.RulesForLabel(int32(label)) {
				if rule.Kind != schema.KindExistenceConstraint {
					continue
				}

				if keys == nil {
					if keys, err = rs.NodePropertyKeys(id); err != nil {
						return err
					}
				}

				for _, required := range rule.PropertyKeys {
					found := false
					for _, k := range keys {
						if int32(k) == required {
							found = true
							break
						}
					}

					if !found {
						return &util.StorageError{Type: util.ErrConstraint,
							Detail: fmt.Sprintf("Node %v with label %v misses required property %v (constraint %v)",
								id, label, required, rule.Name)}
					}
				}
			}
		}
	}

	return nil
}
