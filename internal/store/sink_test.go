// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewise-hq/pipewise/internal/provider"
)

// blockingUsageStore holds every Append until released, so tests can
// pin the drain worker mid-write.
type blockingUsageStore struct {
	mu      sync.Mutex
	entries []provider.UsageEntry
	gate    chan struct{}
}

func (s *blockingUsageStore) Append(_ context.Context, entry provider.UsageEntry) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *blockingUsageStore) stored() []provider.UsageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.UsageEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *blockingUsageStore) Close() error { return nil }

func TestAsyncUsageSink_DrainsToStore(t *testing.T) {
	backing := &blockingUsageStore{}
	sink := NewAsyncUsageSink(backing, 8)

	sink.Append(provider.UsageEntry{Subject: "alice", Provider: provider.KindAnthropic})
	sink.Append(provider.UsageEntry{Subject: "bob", Provider: provider.KindOpenAI})

	require.Eventually(t, func() bool {
		return len(backing.stored()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	stored := backing.stored()
	assert.Equal(t, "alice", stored[0].Subject)
	assert.Equal(t, "bob", stored[1].Subject)
}

func TestAsyncUsageSink_CloseFlushesBuffered(t *testing.T) {
	backing := &blockingUsageStore{}
	sink := NewAsyncUsageSink(backing, 16)

	for i := 0; i < 10; i++ {
		sink.Append(provider.UsageEntry{Subject: "alice"})
	}
	sink.Close()

	assert.Len(t, backing.stored(), 10)
}

func TestAsyncUsageSink_CloseIsIdempotent(t *testing.T) {
	sink := NewAsyncUsageSink(&blockingUsageStore{}, 1)
	sink.Close()
	sink.Close()
}

func TestAsyncUsageSink_DropsWhenBufferFull(t *testing.T) {
	gate := make(chan struct{})
	backing := &blockingUsageStore{gate: gate}
	sink := NewAsyncUsageSink(backing, 1)

	// First entry occupies the worker, second fills the buffer, the
	// rest are dropped without blocking the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			sink.Append(provider.UsageEntry{Subject: "alice"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append blocked on a full buffer")
	}

	close(gate)
	sink.Close()
	assert.LessOrEqual(t, len(backing.stored()), 2)
}
