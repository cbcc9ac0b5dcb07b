// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pipewise-hq/pipewise/internal/provider"
)

// Compile-time interface check.
var _ provider.UsageSink = (*AsyncUsageSink)(nil)

// AsyncUsageSink adapts a UsageStore into the executor's fire-and-forget
// sink. Appends go through a buffered channel drained by one worker so
// a slow or failing store never blocks the response path; entries are
// dropped with a warning when the buffer is full.
type AsyncUsageSink struct {
	store   UsageStore
	ch      chan provider.UsageEntry
	done    chan struct{}
	stopped chan struct{}
	closeMu sync.Once
}

// defaultSinkBuffer is the number of pending entries held before drops begin.
const defaultSinkBuffer = 256

// appendTimeout bounds a single store write from the drain worker.
const appendTimeout = 5 * time.Second

// NewAsyncUsageSink starts the drain worker. A non-positive buffer
// applies the default.
func NewAsyncUsageSink(usage UsageStore, buffer int) *AsyncUsageSink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &AsyncUsageSink{
		store:   usage,
		ch:      make(chan provider.UsageEntry, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.drain()
	return s
}

// Append enqueues an entry without blocking. Implements provider.UsageSink.
func (s *AsyncUsageSink) Append(entry provider.UsageEntry) {
	select {
	case s.ch <- entry:
	default:
		slog.Warn("usage sink buffer full, dropping entry",
			"subject", entry.Subject,
			"provider", entry.Provider,
		)
	}
}

func (s *AsyncUsageSink) drain() {
	defer close(s.stopped)
	for {
		select {
		case entry := <-s.ch:
			ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
			if err := s.store.Append(ctx, entry); err != nil {
				slog.Warn("usage log append failed",
					"subject", entry.Subject,
					"provider", entry.Provider,
					"error", err,
				)
			}
			cancel()
		case <-s.done:
			// Flush whatever is still buffered, then exit.
			for {
				select {
				case entry := <-s.ch:
					ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
					if err := s.store.Append(ctx, entry); err != nil {
						slog.Warn("usage log append failed during shutdown", "error", err)
					}
					cancel()
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker after flushing buffered entries and waits for
// it to exit.
func (s *AsyncUsageSink) Close() {
	s.closeMu.Do(func() { close(s.done) })
	<-s.stopped
}
