// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package linked provides insertion-ordered containers.
package linked

import "container/list"

type hashmapEntry[K comparable, V any] struct {
	key   K
	value V
}

// Hashmap is a hashmap that iterates in insertion order.
type Hashmap[K comparable, V any] struct {
	entries map[K]*list.Element
	order   *list.List
}

// NewHashmap returns an empty insertion-ordered hashmap.
func NewHashmap[K comparable, V any]() *Hashmap[K, V] {
	return &Hashmap[K, V]{
		entries: make(map[K]*list.Element),
		order:   list.New(),
	}
}

// Put inserts or updates the value for key. Updating does not change the
// key's position in the iteration order.
func (h *Hashmap[K, V]) Put(key K, value V) {
	if elem, ok := h.entries[key]; ok {
		elem.Value.(*hashmapEntry[K, V]).value = value
		return
	}
	h.entries[key] = h.order.PushBack(&hashmapEntry[K, V]{key: key, value: value})
}

// Get returns the value for key.
func (h *Hashmap[K, V]) Get(key K) (V, bool) {
	if elem, ok := h.entries[key]; ok {
		return elem.Value.(*hashmapEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Delete removes key from the map.
func (h *Hashmap[K, V]) Delete(key K) {
	if elem, ok := h.entries[key]; ok {
		h.order.Remove(elem)
		delete(h.entries, key)
	}
}

// Len returns the number of entries.
func (h *Hashmap[K, V]) Len() int {
	return len(h.entries)
}

// Oldest returns the least recently inserted entry.
func (h *Hashmap[K, V]) Oldest() (K, V, bool) {
	if front := h.order.Front(); front != nil {
		entry := front.Value.(*hashmapEntry[K, V])
		return entry.key, entry.value, true
	}
	var (
		zeroK K
		zeroV V
	)
	return zeroK, zeroV, false
}

// Iterate calls f on each entry in insertion order until f returns false.
func (h *Hashmap[K, V]) Iterate(f func(K, V) bool) {
	for elem := h.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*hashmapEntry[K, V])
		if !f(entry.key, entry.value) {
			return
		}
	}
}

// Clear removes all entries.
func (h *Hashmap[K, V]) Clear() {
	h.entries = make(map[K]*list.Element)
	h.order.Init()
}
