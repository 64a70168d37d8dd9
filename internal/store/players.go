// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store holds the per-player statistics table shared by event handlers.
package store

import (
	"slices"
	"sync"
	"time"

	"github.com/holomush/plugbus/pkg/plugin"
)

// Record is the mutable statistics entry kept for one connected player.
type Record struct {
	JoinTime     time.Time        `json:"join_time"`
	LastPosition *plugin.Position `json:"last_position,omitempty"`
	MessageCount uint32           `json:"message_count"`
	JumpCount    uint32           `json:"jump_count"`
}

// NewRecord returns a fresh record with zero counters joined at t.
func NewRecord(t time.Time) Record {
	return Record{JoinTime: t}
}

// TimeOnline returns how long the player has been connected at now.
// Clock skew never yields a negative duration.
func (r Record) TimeOnline(now time.Time) time.Duration {
	d := now.Sub(r.JoinTime)
	if d < 0 {
		return 0
	}
	return d
}

// clone returns a copy that shares no memory with r.
func (r Record) clone() Record {
	if r.LastPosition != nil {
		pos := *r.LastPosition
		r.LastPosition = &pos
	}
	return r
}

// Entry pairs a player with a copy of their record.
type Entry struct {
	PlayerID plugin.PlayerID
	Record   Record
}

// Totals aggregates counters across every tracked player.
type Totals struct {
	Players  int
	Messages uint64
	Jumps    uint64
}

// Players maps player IDs to records.
//
// Every method holds a single exclusive lock for its whole duration and
// releases it before returning, so callers may publish events or call other
// components freely between store calls. Records handed out are copies.
type Players struct {
	mu      sync.Mutex
	records map[plugin.PlayerID]Record
}

// NewPlayers creates an empty player store.
func NewPlayers() *Players {
	return &Players{
		records: make(map[plugin.PlayerID]Record),
	}
}

// Upsert stores init() for id, replacing any existing record, and returns a
// copy of the stored record. replaced reports whether an entry existed.
// init runs under the store lock and must not call back into the store.
func (s *Players) Upsert(id plugin.PlayerID, init func() Record) (rec Record, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, replaced = s.records[id]
	rec = init().clone()
	s.records[id] = rec
	return rec.clone(), replaced
}

// Mutate applies fn to the record for id and reports whether a record existed.
// It is a no-op for unknown players. fn runs under the store lock and must
// not call back into the store: doing so deadlocks.
func (s *Players) Mutate(id plugin.PlayerID, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	fn(&rec)
	s.records[id] = rec.clone()
	return true
}

// Remove deletes the record for id and returns it.
func (s *Players) Remove(id plugin.PlayerID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	delete(s.records, id)
	return rec, true
}

// Get returns a copy of the record for id.
func (s *Players) Get(id plugin.PlayerID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Len returns the number of tracked players.
func (s *Players) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns copies of every record ordered by player ID.
func (s *Players) Snapshot() []Entry {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.records))
	for id, rec := range s.records {
		entries = append(entries, Entry{PlayerID: id, Record: rec.clone()})
	}
	s.mu.Unlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		return a.PlayerID.Compare(b.PlayerID)
	})
	return entries
}

// Totals sums the counters of every tracked player.
func (s *Players) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Totals{Players: len(s.records)}
	for _, rec := range s.records {
		t.Messages += uint64(rec.MessageCount)
		t.Jumps += uint64(rec.JumpCount)
	}
	return t
}
