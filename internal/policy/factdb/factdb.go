// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package factdb is the in-memory, transactional fact store consulted and
// mutated by the policy virtual machine. Facts are addressed by
// (name, key-tuple) and carry an ordered value tuple (§4.D/§4.E).
package factdb

import (
	"sync"

	"github.com/aranya-project/aranya/internal/policy/types"
)

// factKey is the comparable identity of a stored fact: its declared name
// plus a canonical encoding of its key tuple.
type factKey struct {
	name string
	key  string
}

func encodeKey(key *types.FieldMap) string {
	if key == nil {
		return ""
	}
	var b []byte
	for pair := key.Oldest(); pair != nil; pair = pair.Next() {
		b = append(b, pair.Key...)
		b = append(b, 0)
		b = append(b, encodeValue(pair.Value)...)
		b = append(b, 0)
	}
	return string(b)
}

func encodeValue(v types.Value) []byte {
	// A stable, order-sensitive encoding good enough for map-keying; not a
	// wire format.
	switch v.Kind {
	case types.KindInt:
		return []byte{byte(v.Int), byte(v.Int >> 8), byte(v.Int >> 16), byte(v.Int >> 24),
			byte(v.Int >> 32), byte(v.Int >> 40), byte(v.Int >> 48), byte(v.Int >> 56)}
	case types.KindString:
		return []byte(v.Str)
	case types.KindBool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case types.KindBytes:
		return v.Bytes
	case types.KindID:
		return v.ID[:]
	default:
		return nil
	}
}

// Store is the committed fact state for one policy instance. All mutation
// outside of a Transaction's Commit is disallowed by construction: callers
// only ever see Store through Snapshot (read) or Transaction (read+write).
type Store struct {
	mu    sync.RWMutex
	facts map[factKey]*types.FactValue
}

// New returns an empty Store.
func New() *Store {
	return &Store{facts: make(map[factKey]*types.FactValue)}
}

// Snapshot is a read-only, point-in-time view used for query/exists lookups
// and passed to FFI modules via CommandContext (§4.F).
type Snapshot struct {
	facts map[factKey]*types.FactValue
}

// Snapshot copies the current committed fact set.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[factKey]*types.FactValue, len(s.facts))
	for k, v := range s.facts {
		cp[k] = v
	}
	return &Snapshot{facts: cp}
}

// AllFacts returns every committed fact in the snapshot regardless of name,
// used by internal/runtime to seed a session's ephemeral overlay store from
// a graph's persistent state.
func (snap *Snapshot) AllFacts() []*types.FactValue {
	out := make([]*types.FactValue, 0, len(snap.facts))
	for _, v := range snap.facts {
		out = append(out, v)
	}
	return out
}

// Query returns the single fact matching name and a (possibly Bind-wildcard)
// key tuple, or false if none matches.
func (snap *Snapshot) Query(name string, key *types.FieldMap) (*types.FactValue, bool) {
	if exact, ok := snap.facts[factKey{name, encodeKey(key)}]; ok {
		return exact, true
	}
	if !hasBind(key) {
		return nil, false
	}
	for k, v := range snap.facts {
		if k.name != name {
			continue
		}
		if v != nil && keyMatchesWildcard(v.Key, key) {
			return v, true
		}
	}
	return nil, false
}

// Exists reports whether any fact matches name and key.
func (snap *Snapshot) Exists(name string, key *types.FieldMap) bool {
	_, ok := snap.Query(name, key)
	return ok
}

// All returns every committed fact matching name and key (wildcard-aware),
// used by the `map` statement's QueryStart/QueryNext iteration.
func (snap *Snapshot) All(name string, key *types.FieldMap) []*types.FactValue {
	var out []*types.FactValue
	for k, v := range snap.facts {
		if k.name != name {
			continue
		}
		if keyMatchesWildcard(v.Key, key) {
			out = append(out, v)
		}
	}
	return out
}

func hasBind(key *types.FieldMap) bool {
	if key == nil {
		return false
	}
	for pair := key.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind == types.KindBind {
			return true
		}
	}
	return false
}

// keyMatchesWildcard reports whether stored matches pattern, where a Bind
// field in pattern matches any value in stored.
func keyMatchesWildcard(stored, pattern *types.FieldMap) bool {
	if stored == nil || pattern == nil {
		return stored == pattern
	}
	for pair := pattern.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind == types.KindBind {
			continue
		}
		sv, ok := stored.Get(pair.Key)
		if !ok || !sv.Equal(pair.Value) {
			return false
		}
	}
	return true
}

// opKind names the kind of one staged write in a Transaction's write-set
// (§4.E Transactions).
type opKind uint8

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

type write struct {
	kind opKind
	key  factKey
	fact *types.FactValue
}

// Transaction stages Create/Update/Delete calls for a single command's
// execution; nothing is visible to other readers until Commit, and
// Rollback (or simply never calling Commit) discards the write-set
// entirely, matching §4.E's all-or-nothing semantics.
type Transaction struct {
	store   *Store
	snap    *Snapshot
	writes  []write
	applied map[factKey]*types.FactValue // writes layered onto snap, for read-your-writes
}

// Begin starts a transaction reading from a fresh snapshot of store.
func (s *Store) Begin() *Transaction {
	snap := s.Snapshot()
	return &Transaction{
		store:   s,
		snap:    snap,
		applied: make(map[factKey]*types.FactValue, len(snap.facts)),
	}
}

// lookup reads through staged writes first, then the base snapshot —
// read-your-writes within one command's transaction.
func (tx *Transaction) lookup(name string, key *types.FieldMap) (*types.FactValue, bool) {
	if hasBind(key) {
		if all := tx.All(name, key); len(all) > 0 {
			return all[0], true
		}
		return nil, false
	}
	k := factKey{name, encodeKey(key)}
	if v, ok := tx.applied[k]; ok {
		if v == nil {
			return nil, false // staged delete
		}
		return v, true
	}
	return tx.snap.Query(name, key)
}

// Create stages a new fact. Returns FactAlreadyExists if a fact with the
// same key is already committed or already staged in this transaction.
func (tx *Transaction) Create(name string, key, value *types.FieldMap) error {
	if _, ok := tx.lookup(name, key); ok {
		return ErrFactAlreadyExists
	}
	fv := &types.FactValue{Name: name, Key: key, Val: value}
	k := factKey{name, encodeKey(key)}
	tx.writes = append(tx.writes, write{kind: opCreate, key: k, fact: fv})
	tx.applied[k] = fv
	return nil
}

// Update stages a value-field overwrite on a fact matching the selector
// key. Returns FactNotFound if no fact matches.
func (tx *Transaction) Update(name string, key, newValue *types.FieldMap) error {
	existing, ok := tx.lookup(name, key)
	if !ok {
		return ErrFactNotFound
	}
	fv := &types.FactValue{Name: name, Key: existing.Key, Val: newValue}
	k := factKey{name, encodeKey(existing.Key)}
	tx.writes = append(tx.writes, write{kind: opUpdate, key: k, fact: fv})
	tx.applied[k] = fv
	return nil
}

// Delete stages removal of the fact matching key. Returns FactNotFound if
// no fact matches.
func (tx *Transaction) Delete(name string, key *types.FieldMap) error {
	existing, ok := tx.lookup(name, key)
	if !ok {
		return ErrFactNotFound
	}
	k := factKey{name, encodeKey(existing.Key)}
	tx.writes = append(tx.writes, write{kind: opDelete, key: k})
	tx.applied[k] = nil
	return nil
}

// Query resolves `query` against the transaction's read-your-writes view.
func (tx *Transaction) Query(name string, key *types.FieldMap) (*types.FactValue, bool) {
	return tx.lookup(name, key)
}

// Exists resolves `exists` against the transaction's read-your-writes view.
func (tx *Transaction) Exists(name string, key *types.FieldMap) bool {
	_, ok := tx.lookup(name, key)
	return ok
}

// All resolves `map`'s iteration against the transaction's view: the base
// snapshot filtered through staged writes.
func (tx *Transaction) All(name string, key *types.FieldMap) []*types.FactValue {
	seen := make(map[factKey]bool)
	var out []*types.FactValue
	for _, fv := range tx.snap.All(name, key) {
		k := factKey{name, encodeKey(fv.Key)}
		seen[k] = true
		if applied, ok := tx.applied[k]; ok {
			if applied != nil {
				out = append(out, applied)
			}
			continue
		}
		out = append(out, fv)
	}
	for k, v := range tx.applied {
		if k.name != name || seen[k] || v == nil {
			continue
		}
		if keyMatchesWildcard(v.Key, key) {
			out = append(out, v)
		}
	}
	return out
}

// Commit atomically applies the write-set to the backing Store.
func (tx *Transaction) Commit() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, w := range tx.writes {
		switch w.kind {
		case opCreate, opUpdate:
			tx.store.facts[w.key] = w.fact
		case opDelete:
			delete(tx.store.facts, w.key)
		}
	}
}

// Rollback discards the write-set. Provided for symmetry with Commit; a
// Transaction that is simply dropped without calling Commit has the same
// effect.
func (tx *Transaction) Rollback() {
	tx.writes = nil
	tx.applied = make(map[factKey]*types.FactValue)
}
