// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing Praxis agents and flows:
// an in-memory vector store, an event recorder, catalog builders and
// assertion helpers.
package testing

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/praxishq/praxis/pkg/core"
	"github.com/praxishq/praxis/pkg/index"
)

// FakeVectorStore is an in-memory index.Store with substring search and
// fault injection, for tests that exercise sync and retrieval without a
// running vector database.
type FakeVectorStore struct {
	mu   sync.Mutex
	data map[string]map[string]index.Entry

	// FailGet, FailUpsert, FailDelete, and FailSearch make the matching
	// operation return an error.
	FailGet    bool
	FailUpsert bool
	FailDelete bool
	FailSearch bool

	// Calls counts operations by name ("get", "upsert", "delete",
	// "search").
	Calls map[string]int
}

// NewFakeVectorStore creates an empty fake store.
func NewFakeVectorStore() *FakeVectorStore {
	return &FakeVectorStore{
		data:  make(map[string]map[string]index.Entry),
		Calls: make(map[string]int),
	}
}

// Get returns all entries in a namespace.
func (f *FakeVectorStore) Get(_ context.Context, namespace string) ([]index.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["get"]++
	if f.FailGet {
		return nil, errors.New("fake store: get unavailable")
	}
	var out []index.Entry
	for _, e := range f.data[namespace] {
		out = append(out, e)
	}
	return out, nil
}

// Upsert stores entries under their composite keys.
func (f *FakeVectorStore) Upsert(_ context.Context, namespace string, entries []index.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["upsert"]++
	if f.FailUpsert {
		return errors.New("fake store: upsert unavailable")
	}
	if f.data[namespace] == nil {
		f.data[namespace] = make(map[string]index.Entry)
	}
	for _, e := range entries {
		f.data[namespace][e.Key] = e
	}
	return nil
}

// Delete removes entries by composite key.
func (f *FakeVectorStore) Delete(_ context.Context, namespace string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["delete"]++
	if f.FailDelete {
		return errors.New("fake store: delete unavailable")
	}
	for _, k := range keys {
		delete(f.data[namespace], k)
	}
	return nil
}

// Search matches the query as a case-insensitive substring of entry
// descriptions, a stand-in for semantic similarity.
func (f *FakeVectorStore) Search(_ context.Context, query, namespace string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["search"]++
	if f.FailSearch {
		return nil, errors.New("fake store: search unavailable")
	}
	var out []string
	for key, e := range f.data[namespace] {
		if strings.Contains(strings.ToLower(e.Description), strings.ToLower(query)) {
			out = append(out, key)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Keys returns the stored composite keys for a namespace.
func (f *FakeVectorStore) Keys(namespace string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.data[namespace]))
	for k := range f.data[namespace] {
		out = append(out, k)
	}
	return out
}

// EventRecorder collects emitted runtime events for assertions.
type EventRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Emit implements core.EventEmitter.
func (r *EventRecorder) Emit(_ context.Context, event core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a snapshot of everything recorded so far.
func (r *EventRecorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *EventRecorder) OfType(t core.EventType) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
