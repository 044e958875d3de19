package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
)

const eventColumns = `id, datasource_id, purl, version, commit_hash, commit_branch,
	commit_at, status, payload, txid, received_at, created_at, updated_at`

// Insert stores one event. A purl conflict surfaces as ErrDuplicateEvent and
// leaves the stored row untouched; the caller decides whether to replace it.
// The conflict is detected via ON CONFLICT DO NOTHING rather than a raised
// unique_violation so the surrounding transaction stays usable: the caller
// can re-fetch, delete and replace the stored row on the same transaction.
func (r *EventRepository) Insert(ctx context.Context, event catalog.DatasourceEvent) (catalog.DatasourceEvent, error) {
	row := r.queryer().QueryRow(ctx, `
		INSERT INTO datasource_events (
			datasource_id, purl, version, commit_hash, commit_branch, commit_at,
			status, payload, txid, received_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10)
		ON CONFLICT (purl) DO NOTHING
		RETURNING `+eventColumns,
		event.DatasourceID, event.PURL, event.Version, event.CommitHash,
		event.CommitBranch, event.CommitAt, string(event.Status), event.Payload,
		event.TxID, event.ReceivedAt)

	inserted, err := scanEvent(row)
	if err != nil {
		// DO NOTHING returns no row on conflict; scanEvent reports that as
		// not-found.
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.DatasourceEvent{}, fmt.Errorf("event %q: %w", event.PURL, catalog.ErrDuplicateEvent)
		}
		return catalog.DatasourceEvent{}, fmt.Errorf("insert event %q: %w", event.PURL, err)
	}
	return inserted, nil
}

// GetByPURL fetches one event. More than one row for a purl is an integrity
// violation.
func (r *EventRepository) GetByPURL(ctx context.Context, purl string) (catalog.DatasourceEvent, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT `+eventColumns+` FROM datasource_events WHERE purl = $1`,
		purl)
	if err != nil {
		return catalog.DatasourceEvent{}, fmt.Errorf("get event %q: %w", purl, err)
	}
	defer rows.Close()

	var matches []catalog.DatasourceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return catalog.DatasourceEvent{}, fmt.Errorf("scan event: %w", err)
		}
		matches = append(matches, event)
	}
	if err := rows.Err(); err != nil {
		return catalog.DatasourceEvent{}, fmt.Errorf("iterate events: %w", err)
	}
	switch len(matches) {
	case 0:
		return catalog.DatasourceEvent{}, catalog.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return catalog.DatasourceEvent{}, &catalog.IntegrityError{Entity: "datasource_event", Key: purl, Count: len(matches)}
	}
}

func (r *EventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.queryer().Exec(ctx, `
		DELETE FROM datasource_events WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *EventRepository) ListByDatasource(ctx context.Context, datasourceID uuid.UUID) ([]catalog.DatasourceEvent, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT `+eventColumns+` FROM datasource_events
		WHERE datasource_id = $1
		ORDER BY received_at`,
		datasourceID)
	if err != nil {
		return nil, fmt.Errorf("list events of datasource %s: %w", datasourceID, err)
	}
	defer rows.Close()

	var events []catalog.DatasourceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountByStatus summarizes one datasource's events without loading rows; the
// reconciler decides promotions from these counts alone.
func (r *EventRepository) CountByStatus(ctx context.Context, datasourceID uuid.UUID) (catalog.EventStatusCounts, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT status, count(*) FROM datasource_events
		WHERE datasource_id = $1
		GROUP BY status`,
		datasourceID)
	if err != nil {
		return nil, fmt.Errorf("count events of datasource %s: %w", datasourceID, err)
	}
	defer rows.Close()

	counts := make(catalog.EventStatusCounts)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[catalog.EventStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}

func (r *EventRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func scanEvent(row pgx.Row) (catalog.DatasourceEvent, error) {
	var event catalog.DatasourceEvent
	var status string
	err := row.Scan(
		&event.ID,
		&event.DatasourceID,
		&event.PURL,
		&event.Version,
		&event.CommitHash,
		&event.CommitBranch,
		&event.CommitAt,
		&status,
		&event.Payload,
		&event.TxID,
		&event.ReceivedAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.DatasourceEvent{}, catalog.ErrNotFound
		}
		return catalog.DatasourceEvent{}, err
	}
	event.Status = catalog.EventStatus(status)
	return event, nil
}
