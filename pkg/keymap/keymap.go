// Package keymap assigns stable string keys to payload objects for as long as
// they are visible to a viewer.
//
// Keys are decimal counters ("1", "2", ...) and are never reused within one
// KeyMapper, so a key a viewer still holds after its payload was released can
// only miss, never alias a different payload.
package keymap

import "strconv"

// KeyMapper is a bijection cache between payloads and keys.
// It is not safe for concurrent use; callers serialize access.
type KeyMapper[T comparable] struct {
	keyOf     map[T]string
	payloadOf map[string]T
	last      uint64
}

// New creates an empty KeyMapper.
func New[T comparable]() *KeyMapper[T] {
	return &KeyMapper[T]{
		keyOf:     make(map[T]string),
		payloadOf: make(map[string]T),
	}
}

// Key returns the key for payload, assigning a fresh one if payload has none.
func (m *KeyMapper[T]) Key(payload T) string {
	if key, ok := m.keyOf[payload]; ok {
		return key
	}
	m.last++
	key := strconv.FormatUint(m.last, 10)
	m.keyOf[payload] = key
	m.payloadOf[key] = payload
	return key
}

// Lookup returns the key already assigned to payload, if any.
func (m *KeyMapper[T]) Lookup(payload T) (string, bool) {
	key, ok := m.keyOf[payload]
	return key, ok
}

// Get returns the payload registered under key.
func (m *KeyMapper[T]) Get(key string) (T, bool) {
	payload, ok := m.payloadOf[key]
	return payload, ok
}

// Has reports whether key is currently registered.
func (m *KeyMapper[T]) Has(key string) bool {
	_, ok := m.payloadOf[key]
	return ok
}

// Remove releases payload and its key. Removing an unknown payload is a no-op.
func (m *KeyMapper[T]) Remove(payload T) {
	key, ok := m.keyOf[payload]
	if !ok {
		return
	}
	delete(m.keyOf, payload)
	delete(m.payloadOf, key)
}

// RemoveKey releases the payload registered under key.
func (m *KeyMapper[T]) RemoveKey(key string) {
	payload, ok := m.payloadOf[key]
	if !ok {
		return
	}
	delete(m.payloadOf, key)
	delete(m.keyOf, payload)
}

// Len returns the number of registered payloads.
func (m *KeyMapper[T]) Len() int {
	return len(m.payloadOf)
}
