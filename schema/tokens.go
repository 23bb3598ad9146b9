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
	"fmt"
	"sync"

	"devt.de/krotik/recorddb/storage"
)

/*
Token is a single name to id mapping.
*/
type Token struct {
	ID   uint64            // Token id (the token store record id)
	Kind storage.TokenKind // Kind of the token
	Name string            // Name of the token
}

/*
String returns a string representation of this token.
*/
func (t *Token) String() string {
	return fmt.Sprintf("Token %v (%v %v)", t.ID, t.Kind, t.Name)
}

/*
TokenRegistry is the in-memory mirror of the token store. Names can be
looked up by id and ids by kind and name.
*/
type TokenRegistry struct {
	byID   map[uint64]*Token            // All tokens by token id
	byName map[storage.TokenKind]map[string]*Token // Tokens by kind and name
	mutex  *sync.RWMutex                // Mutex for registry operations
}

/*
NewTokenRegistry creates a new empty token registry.
*/
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		make(map[uint64]*Token),
		make(map[storage.TokenKind]map[string]*Token),
		&sync.RWMutex{},
	}
}

/*
Load replaces the registry contents with a given set of tokens.
*/
func (tr *TokenRegistry) Load(tokens []*Token) {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()

	tr.byID = make(map[uint64]*Token)
	tr.byName = make(map[storage.TokenKind]map[string]*Token)

	for _, t := range tokens {
		tr.add(t)
	}
}

/*
Add adds a single token to the registry.
*/
func (tr *TokenRegistry) Add(t *Token) {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()

	tr.add(t)
}

/*
add inserts a token into all indexes.
*/
func (tr *TokenRegistry) add(t *Token) {
	tr.byID[t.ID] = t

	names, ok := tr.byName[t.Kind]
	if !ok {
		names = make(map[string]*Token)
		tr.byName[t.Kind] = names
	}
	names[t.Name] = t
}

/*
Token looks up a token by its id.
*/
func (tr *TokenRegistry) Token(id uint64) *Token {
	tr.mutex.RLock()
	defer tr.mutex.RUnlock()

	return tr.byID[id]
}

/*
Name returns the name of a token. Unknown ids produce an empty string.
*/
func (tr *TokenRegistry) Name(id uint64) string {
	if t := tr.Token(id); t != nil {
		return t.Name
	}
	return ""
}

/*
IDFor looks up a token id by kind and name.
*/
func (tr *TokenRegistry) IDFor(kind storage.TokenKind, name string) (uint64, bool) {
	tr.mutex.RLock()
	defer tr.mutex.RUnlock()

	if names, ok := tr.byName[kind]; ok {
		if t, ok := names[name]; ok {
			return t.ID, true
		}
	}

	return 0, false
}

/*
Size returns the number of registered tokens.
*/
func (tr *TokenRegistry) Size() int {
	tr.mutex.RLock()
	defer tr.mutex.RUnlock()

	return len(tr.byID)
}
