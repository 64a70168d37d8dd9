// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plugbus/pkg/plugin"
)

var joined = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func fresh() Record { return NewRecord(joined) }

func TestPlayers_UpsertThenGet(t *testing.T) {
	s := NewPlayers()
	id := plugin.NewID()

	rec, replaced := s.Upsert(id, fresh)
	assert.False(t, replaced)
	assert.Equal(t, joined, rec.JoinTime)

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Zero(t, got.MessageCount)
	assert.Zero(t, got.JumpCount)
	assert.Nil(t, got.LastPosition)
}

func TestPlayers_UpsertReplacesExisting(t *testing.T) {
	s := NewPlayers()
	id := plugin.NewID()

	s.Upsert(id, fresh)
	s.Mutate(id, func(r *Record) { r.MessageCount = 7 })

	rec, replaced := s.Upsert(id, fresh)
	assert.True(t, replaced)
	assert.Zero(t, rec.MessageCount)
}

func TestPlayers_MutateUnknownIsNoop(t *testing.T) {
	s := NewPlayers()
	called := false

	ok := s.Mutate(plugin.NewID(), func(*Record) { called = true })

	assert.False(t, ok)
	assert.False(t, called)
	assert.Zero(t, s.Len())
}

func TestPlayers_Remove(t *testing.T) {
	s := NewPlayers()
	id := plugin.NewID()
	s.Upsert(id, fresh)
	s.Mutate(id, func(r *Record) { r.JumpCount = 2 })

	rec, ok := s.Remove(id)
	require.True(t, ok)
	assert.Equal(t, uint32(2), rec.JumpCount)

	_, ok = s.Get(id)
	assert.False(t, ok)

	_, ok = s.Remove(id)
	assert.False(t, ok, "second remove finds nothing")
}

func TestPlayers_GetReturnsCopy(t *testing.T) {
	s := NewPlayers()
	id := plugin.NewID()
	s.Upsert(id, fresh)
	s.Mutate(id, func(r *Record) { r.LastPosition = &plugin.Position{X: 1} })

	got, _ := s.Get(id)
	got.LastPosition.X = 99
	got.MessageCount = 50

	again, _ := s.Get(id)
	assert.InDelta(t, 1.0, again.LastPosition.X, 0)
	assert.Zero(t, again.MessageCount)
}

func TestPlayers_MutateDoesNotRetainCallerPointer(t *testing.T) {
	s := NewPlayers()
	id := plugin.NewID()
	s.Upsert(id, fresh)

	pos := plugin.Position{Y: 3}
	s.Mutate(id, func(r *Record) { r.LastPosition = &pos })
	pos.Y = 100

	got, _ := s.Get(id)
	assert.InDelta(t, 3.0, got.LastPosition.Y, 0)
}

func TestPlayers_SnapshotAndTotals(t *testing.T) {
	s := NewPlayers()
	a, b := plugin.NewID(), plugin.NewID()
	s.Upsert(b, fresh)
	s.Upsert(a, fresh)
	s.Mutate(a, func(r *Record) { r.MessageCount = 3; r.JumpCount = 1 })
	s.Mutate(b, func(r *Record) { r.MessageCount = 2 })

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, a, snap[0].PlayerID, "ordered by id")
	assert.Equal(t, b, snap[1].PlayerID)

	assert.Equal(t, Totals{Players: 2, Messages: 5, Jumps: 1}, s.Totals())
}

func TestRecord_TimeOnline(t *testing.T) {
	rec := NewRecord(joined)
	assert.Equal(t, 90*time.Second, rec.TimeOnline(joined.Add(90*time.Second)))
	assert.Zero(t, rec.TimeOnline(joined.Add(-time.Second)), "never negative")
}

func TestPlayers_ConcurrentMutateSameID(t *testing.T) {
	s := NewPlayers()
	id := plugin.NewID()
	s.Upsert(id, fresh)

	const workers, perWorker = 16, 500
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				s.Mutate(id, func(r *Record) { r.MessageCount++ })
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(id)
	assert.Equal(t, uint32(workers*perWorker), got.MessageCount)
}

func TestPlayers_ConcurrentMutateDifferentIDs(t *testing.T) {
	s := NewPlayers()
	ids := make([]plugin.PlayerID, 8)
	for i := range ids {
		ids[i] = plugin.NewID()
		s.Upsert(ids[i], fresh)
	}

	const perID = 1000
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perID {
				s.Mutate(id, func(r *Record) { r.JumpCount++ })
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		got, _ := s.Get(id)
		assert.Equal(t, uint32(perID), got.JumpCount)
	}
	assert.Equal(t, uint64(len(ids)*perID), s.Totals().Jumps)
}
