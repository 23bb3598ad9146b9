/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package schema

import (
	"testing"

	"devt.de/krotik/recorddb/storage"
)

func TestSchemaCacheIndexes(t *testing.T) {
	c := NewCache()

	c.Load([]*Rule{
		{ID: 1, Kind: KindIndex, Name: "idx1", Label: 5, RelType: NoToken, PropertyKeys: []int32{10}},
		{ID: 2, Kind: KindUniqueConstraint, Name: "uniq1", Label: 5, RelType: NoToken, PropertyKeys: []int32{11}},
		{ID: 3, Kind: KindExistenceConstraint, Name: "exists1", Label: NoToken, RelType: 7, PropertyKeys: []int32{10, 12}},
	})

	if c.Size() != 3 {
		t.Error("Unexpected cache size:", c.Size())
		return
	}

	if r := c.Rule(2); r == nil || r.Name != "uniq1" {
		t.Error("Unexpected rule lookup:", r)
		return
	}

	if r := c.RuleByName("exists1"); r == nil || r.ID != 3 {
		t.Error("Unexpected rule lookup by name:", r)
		return
	}

	if rules := c.RulesForLabel(5); len(rules) != 2 || rules[0].ID != 1 || rules[1].ID != 2 {
		t.Error("Unexpected rules for label:", rules)
		return
	}

	if rules := c.RulesForRelType(7); len(rules) != 1 || rules[0].ID != 3 {
		t.Error("Unexpected rules for reltype:", rules)
		return
	}

	if rules := c.RulesForPropertyKey(10); len(rules) != 2 {
		t.Error("Unexpected rules for property key:", rules)
		return
	}

	if rules := c.RulesForKind(KindUniqueConstraint); len(rules) != 1 || !rules[0].IsConstraint() {
		t.Error("Unexpected rules for kind:", rules)
		return
	}

	c.RemoveRule(2)

	if c.Size() != 2 || c.Rule(2) != nil {
		t.Error("Rule should have been removed")
		return
	}

	if rules := c.RulesForLabel(5); len(rules) != 1 {
		t.Error("Secondary index should have been updated:", rules)
		return
	}

	c.AddRule(&Rule{ID: 4, Kind: KindIndex, Name: "idx2", Label: 6, RelType: NoToken,
		PropertyKeys: []int32{11}})

	if rules := c.RulesForLabel(6); len(rules) != 1 {
		t.Error("Added rule should be indexed:", rules)
		return
	}
}

func TestRuleEncoding(t *testing.T) {
	rule := &Rule{ID: 9, Kind: KindNodeKeyConstraint, Name: "nk", Label: 2,
		RelType: NoToken, PropertyKeys: []int32{1, 2, 3}}

	data, err := EncodeRule(rule)
	if err != nil {
		t.Error(err)
		return
	}

	rule2, err := DecodeRule(data)
	if err != nil {
		t.Error(err)
		return
	}

	if rule2.ID != 9 || rule2.Kind != KindNodeKeyConstraint || rule2.Name != "nk" ||
		rule2.Label != 2 || len(rule2.PropertyKeys) != 3 {
		t.Error("Unexpected decoded rule:", rule2)
		return
	}
}

func TestTokenRegistry(t *testing.T) {
	tr := NewTokenRegistry()

	tr.Load([]*Token{
		{ID: 1, Kind: storage.TokenLabel, Name: "Person"},
		{ID: 2, Kind: storage.TokenRelType, Name: "KNOWS"},
		{ID: 3, Kind: storage.TokenPropertyKey, Name: "name"},
	})

	if tr.Size() != 3 {
		t.Error("Unexpected registry size:", tr.Size())
		return
	}

	if id, ok := tr.IDFor(storage.TokenLabel, "Person"); !ok || id != 1 {
		t.Error("Unexpected token lookup:", id, ok)
		return
	}

	// The same name may exist with different kinds

	if _, ok := tr.IDFor(storage.TokenLabel, "KNOWS"); ok {
		t.Error("Token lookup should respect the token kind")
		return
	}

	if tr.Name(2) != "KNOWS" {
		t.Error("Unexpected token name:", tr.Name(2))
		return
	}

	tr.Add(&Token{ID: 4, Kind: storage.TokenLabel, Name: "Animal"})

	if id, ok := tr.IDFor(storage.TokenLabel, "Animal"); !ok || id != 4 {
		t.Error("Added token should be found")
		return
	}
}
