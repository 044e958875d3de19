package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
)

const datasourceColumns = `id, purl, domain, repository, branch, type, status,
	number_events_received, number_event_processing_errors,
	last_event_received_status, first_event_received_at, last_event_received_at,
	latest_txid, created_at, updated_at`

// Upsert creates the datasource in INITIALIZING or fetches the existing row
// in one statement. Counters and received timestamps always advance; the
// status CASE keeps INITIALIZING, PROCESSING and READY_FOR_NEXT_PROCESSING
// untouched, everything else falls back to INGESTING.
func (r *DatasourceRepository) Upsert(ctx context.Context, params catalog.UpsertDatasourceParams) (catalog.Datasource, error) {
	row := r.queryer().QueryRow(ctx, `
		INSERT INTO datasources (
			purl, domain, repository, branch, type, status,
			number_events_received, first_event_received_at,
			last_event_received_at, latest_txid, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 'INITIALIZING', 1, $6, $6, $7, $6, $6)
		ON CONFLICT (purl) DO UPDATE SET
			status = CASE
				WHEN datasources.status IN ('INITIALIZING', 'PROCESSING', 'READY_FOR_NEXT_PROCESSING')
					THEN datasources.status
				ELSE 'INGESTING'
			END,
			number_events_received = datasources.number_events_received + 1,
			last_event_received_at = EXCLUDED.last_event_received_at,
			latest_txid = EXCLUDED.latest_txid,
			updated_at = EXCLUDED.updated_at
		RETURNING `+datasourceColumns,
		params.PURL, params.Domain, params.Repository, params.Branch,
		params.Type, params.ReceivedAt, params.TxID)

	datasource, err := scanDatasource(row)
	if err != nil {
		return catalog.Datasource{}, fmt.Errorf("upsert datasource %q: %w", params.PURL, err)
	}
	return datasource, nil
}

// GetByPURL fetches one datasource. Finding more than one row for a purl is
// an integrity violation, not a lookup result.
func (r *DatasourceRepository) GetByPURL(ctx context.Context, purl string) (catalog.Datasource, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT `+datasourceColumns+` FROM datasources WHERE purl = $1`,
		purl)
	if err != nil {
		return catalog.Datasource{}, fmt.Errorf("get datasource %q: %w", purl, err)
	}
	defer rows.Close()

	var matches []catalog.Datasource
	for rows.Next() {
		datasource, err := scanDatasource(rows)
		if err != nil {
			return catalog.Datasource{}, fmt.Errorf("scan datasource: %w", err)
		}
		matches = append(matches, datasource)
	}
	if err := rows.Err(); err != nil {
		return catalog.Datasource{}, fmt.Errorf("iterate datasources: %w", err)
	}
	switch len(matches) {
	case 0:
		return catalog.Datasource{}, catalog.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return catalog.Datasource{}, &catalog.IntegrityError{Entity: "datasource", Key: purl, Count: len(matches)}
	}
}

func (r *DatasourceRepository) ListByStatus(ctx context.Context, status catalog.DatasourceStatus) ([]catalog.Datasource, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT `+datasourceColumns+` FROM datasources WHERE status = $1 ORDER BY purl`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list datasources by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectDatasources(rows)
}

func (r *DatasourceRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]catalog.Datasource, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT `+datasourceColumns+` FROM datasources
		WHERE id IN (
			SELECT datasource_id FROM dataset_datasources WHERE dataset_id = $1
		)
		ORDER BY purl`,
		datasetID)
	if err != nil {
		return nil, fmt.Errorf("list datasources of dataset %s: %w", datasetID, err)
	}
	defer rows.Close()
	return collectDatasources(rows)
}

func (r *DatasourceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status catalog.DatasourceStatus) error {
	tag, err := r.queryer().Exec(ctx, `
		UPDATE datasources SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update datasource %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *DatasourceRepository) RecordProcessingError(ctx context.Context, id uuid.UUID, receivedStatus string) error {
	tag, err := r.queryer().Exec(ctx, `
		UPDATE datasources SET
			number_event_processing_errors = number_event_processing_errors + 1,
			last_event_received_status = $2,
			status = CASE WHEN status = 'PROCESSING' THEN status ELSE 'PROCESSING_ERROR' END,
			updated_at = now()
		WHERE id = $1`,
		id, receivedStatus)
	if err != nil {
		return fmt.Errorf("record processing error on datasource %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *DatasourceRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func collectDatasources(rows pgx.Rows) ([]catalog.Datasource, error) {
	var datasources []catalog.Datasource
	for rows.Next() {
		datasource, err := scanDatasource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan datasource: %w", err)
		}
		datasources = append(datasources, datasource)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasources: %w", err)
	}
	return datasources, nil
}

func scanDatasource(row pgx.Row) (catalog.Datasource, error) {
	var datasource catalog.Datasource
	var status string
	var lastStatus *string
	err := row.Scan(
		&datasource.ID,
		&datasource.PURL,
		&datasource.Domain,
		&datasource.Repository,
		&datasource.Branch,
		&datasource.Type,
		&status,
		&datasource.NumberEventsReceived,
		&datasource.NumberEventProcessingErrors,
		&lastStatus,
		&datasource.FirstEventReceivedAt,
		&datasource.LastEventReceivedAt,
		&datasource.LatestTxID,
		&datasource.CreatedAt,
		&datasource.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Datasource{}, catalog.ErrNotFound
		}
		return catalog.Datasource{}, err
	}
	datasource.Status = catalog.DatasourceStatus(status)
	datasource.LastEventReceivedStatus = derefString(lastStatus)
	return datasource, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
