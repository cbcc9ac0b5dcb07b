// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/store"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// Compile-time interface check.
var _ store.UsageStore = (*Store)(nil)

// Append writes one usage log entry. Entries are write-once; there is
// no update or delete path.
func (s *Store) Append(ctx context.Context, entry provider.UsageEntry) error {
	if entry.Subject == "" {
		return pwerr.New(pwerr.CodeStoreInvalidInput, "usage entry subject must not be empty")
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	const q = `INSERT INTO usage_log (id, subject, request_kind, provider, tokens_in, tokens_out, success, error_code, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		uuid.NewString(),
		entry.Subject,
		entry.RequestKind,
		string(entry.Provider),
		entry.TokensIn,
		entry.TokensOut,
		boolToInt(entry.Success),
		entry.ErrorCode,
		ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return pwerr.Wrapf(err, pwerr.CodeUsageAppendFailure, "appending usage entry for %s", entry.Subject)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
