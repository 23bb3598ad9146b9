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
	"sort"
	"sync"
)

/*
Cache is the in-memory mirror of the schema store. Lookups by label,
relationship type, property key and rule kind are served from secondary
indexes without touching disk. Reads between transactions are lock-free
apart from a reader lock, writes happen only during schema command
application.
*/
type Cache struct {
	rules    map[uint64]*Rule            // All rules by schema record id
	byLabel  map[int32]map[uint64]*Rule  // Rules by label token
	byType   map[int32]map[uint64]*Rule  // Rules by relationship type token
	byKey    map[int32]map[uint64]*Rule  // Rules by property key token
	byKind   map[RuleKind]map[uint64]*Rule // Rules by rule kind
	mutex    *sync.RWMutex               // Mutex for cache operations
}

/*
NewCache creates a new empty schema cache.
*/
func NewCache() *Cache {
	return &Cache{
		make(map[uint64]*Rule),
		make(map[int32]map[uint64]*Rule),
		make(map[int32]map[uint64]*Rule),
		make(map[int32]map[uint64]*Rule),
		make(map[RuleKind]map[uint64]*Rule),
		&sync.RWMutex{},
	}
}

/*
Load replaces the cache contents with a given set of rules.
*/
func (c *Cache) Load(rules []*Rule) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.rules = make(map[uint64]*Rule)
	c.byLabel = make(map[int32]map[uint64]*Rule)
	c.byType = make(map[int32]map[uint64]*Rule)
	c.byKey = make(map[int32]map[uint64]*Rule)
	c.byKind = make(map[RuleKind]map[uint64]*Rule)

	for _, r := range rules {
		c.add(r)
	}
}

/*
AddRule adds a single rule to the cache.
*/
func (c *Cache) AddRule(r *Rule) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.add(r)
}

/*
add inserts a rule into all indexes.
*/
func (c *Cache) add(r *Rule) {
	c.rules[r.ID] = r

	insert := func(m map[int32]map[uint64]*Rule, k int32) {
		rules, ok := m[k]
		if !ok {
			rules = make(map[uint64]*Rule)
			m[k] = rules
		}
		rules[r.ID] = r
	}

	if r.Label != NoToken {
		insert(c.byLabel, r.Label)
	}
	if r.RelType != NoToken {
		insert(c.byType, r.RelType)
	}
	for _, k := range r.PropertyKeys {
		insert(c.byKey, k)
	}

	kindRules, ok := c.byKind[r.Kind]
	if !ok {
		kindRules = make(map[uint64]*Rule)
		c.byKind[r.Kind] = kindRules
	}
	kindRules[r.ID] = r
}

/*
RemoveRule removes a rule from the cache.
*/
func (c *Cache) RemoveRule(id uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	r, ok := c.rules[id]
	if !ok {
		return
	}

	delete(c.rules, id)

	if r.Label != NoToken {
		delete(c.byLabel[r.Label], id)
	}
	if r.RelType != NoToken {
		delete(c.byType[r.RelType], id)
	}
	for _, k := range r.PropertyKeys {
		delete(c.byKey[k], id)
	}

	delete(c.byKind[r.Kind], id)
}

/*
Rule looks up a rule by its schema record id.
*/
func (c *Cache) Rule(id uint64) *Rule {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.rules[id]
}

/*
RuleByName looks up a rule by its given name.
*/
func (c *Cache) RuleByName(name string) *Rule {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, r := range c.rules {
		if r.Name == name {
			return r
		}
	}

	return nil
}

/*
All returns all rules ordered by schema record id.
*/
func (c *Cache) All() []*Rule {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return sortRules(c.rules)
}

/*
RulesForLabel returns all rules targeting a given label.
*/
func (c *Cache) RulesForLabel(label int32) []*Rule {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return sortRules(c.byLabel[label])
}

/*
RulesForRelType returns all rules targeting a given relationship type.
*/
func (c *Cache) RulesForRelType(relType int32) []*Rule {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return sortRules(c.byType[relType])
}

/*
RulesForPropertyKey returns all rules targeting a given property key.
*/
func (c *Cache) RulesForPropertyKey(key int32) []*Rule {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return sortRules(c.byKey[key])
}

/*
RulesForKind returns all rules of a given kind.
*/
func (c *Cache) RulesForKind(kind RuleKind) []*Rule {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return sortRules(c.byKind[kind])
}

/*
Size returns the number of cached rules.
*/
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.rules)
}

/*
sortRules returns the rules of a map ordered by schema record id.
*/
func sortRules(m map[uint64]*Rule) []*Rule {
	ret := make([]*Rule, 0, len(m))

	for _, r := range m {
		ret = append(ret, r)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})

	return ret
}
