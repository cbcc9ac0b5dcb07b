// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package sqlite

import (
	"context"

	"github.com/pipewise-hq/pipewise/internal/store"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// Compile-time interface check.
var _ store.RateLimitStore = (*Store)(nil)

// IncrementAndGet upserts the counter row for the key and returns the
// post-increment count. The single upsert statement is the atomicity
// guarantee: concurrent requests in the same window serialize inside
// sqlite rather than racing a read-then-write.
func (s *Store) IncrementAndGet(ctx context.Context, subject, scope, bucket string, windowStart int64, windowSeconds int) (int64, error) {
	if subject == "" || bucket == "" {
		return 0, pwerr.New(pwerr.CodeStoreInvalidInput, "rate limit subject and bucket must not be empty",
			pwerr.FieldSubject(subject), pwerr.FieldBucket(bucket))
	}

	const q = `INSERT INTO rate_limit_counters (subject_id, scope_id, bucket, window_start, window_seconds, count)
VALUES (?, ?, ?, ?, ?, 1)
ON CONFLICT(subject_id, scope_id, bucket, window_start, window_seconds)
DO UPDATE SET count = count + 1
RETURNING count`

	var count int64
	err := s.db.QueryRowContext(ctx, q, subject, scope, bucket, windowStart, windowSeconds).Scan(&count)
	if err != nil {
		return 0, pwerr.Wrapf(err, pwerr.CodeRateLimitStoreFailure,
			"incrementing counter for subject %s bucket %s", subject, bucket)
	}
	return count, nil
}

// CleanupExpired removes counters whose window ended before the given
// unix time.
func (s *Store) CleanupExpired(ctx context.Context, before int64) (int64, error) {
	const q = `DELETE FROM rate_limit_counters WHERE window_start + window_seconds < ?`

	res, err := s.db.ExecContext(ctx, q, before)
	if err != nil {
		return 0, pwerr.Wrapf(err, pwerr.CodeRateLimitStoreFailure, "cleaning up expired windows")
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, pwerr.Wrapf(err, pwerr.CodeRateLimitStoreFailure, "reading cleanup row count")
	}
	return removed, nil
}
