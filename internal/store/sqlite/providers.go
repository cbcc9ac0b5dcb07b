// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package sqlite

import (
	"context"

	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/store"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

var _ store.ProviderConfigStore = (*Store)(nil)

// ListActiveProviders returns the active connected providers ordered by
// id so snapshots are stable across calls.
func (s *Store) ListActiveProviders(ctx context.Context) ([]provider.Record, error) {
	const query = `
SELECT id, kind, active FROM provider_configs
WHERE active = 1
ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "listing providers")
	}
	defer rows.Close()

	var records []provider.Record
	for rows.Next() {
		var rec provider.Record
		var active int
		if err := rows.Scan(&rec.ID, &rec.Kind, &active); err != nil {
			return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "scanning provider row")
		}
		rec.Active = active != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "iterating provider rows")
	}

	return records, nil
}

// UpsertProvider inserts or replaces one provider config row.
func (s *Store) UpsertProvider(ctx context.Context, rec provider.Record) error {
	const query = `
INSERT INTO provider_configs (id, kind, active)
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, active = excluded.active`

	_, err := s.db.ExecContext(ctx, query, rec.ID, string(rec.Kind), boolToInt(rec.Active))
	if err != nil {
		return pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "upserting provider %s", rec.ID)
	}
	return nil
}
