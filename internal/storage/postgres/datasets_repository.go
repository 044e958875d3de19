package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
)

const datasetColumns = `id, name, status, latest_txid, created_at, updated_at`

// Upsert creates the dataset in INITIALIZING or fetches the existing row in
// one statement. The CASE keeps INITIALIZING and PROCESSING untouched;
// anything else falls back to INGESTING because a new event just arrived.
func (r *DatasetRepository) Upsert(ctx context.Context, name string, txID uuid.UUID, now time.Time) (catalog.Dataset, error) {
	row := r.queryer().QueryRow(ctx, `
		INSERT INTO datasets (name, status, latest_txid, created_at, updated_at)
		VALUES ($1, 'INITIALIZING', $2, $3, $3)
		ON CONFLICT (name) DO UPDATE SET
			status = CASE
				WHEN datasets.status IN ('INITIALIZING', 'PROCESSING') THEN datasets.status
				ELSE 'INGESTING'
			END,
			latest_txid = EXCLUDED.latest_txid,
			updated_at = EXCLUDED.updated_at
		RETURNING `+datasetColumns,
		name, txID, now)

	dataset, err := scanDataset(row)
	if err != nil {
		return catalog.Dataset{}, fmt.Errorf("upsert dataset %q: %w", name, err)
	}
	return dataset, nil
}

func (r *DatasetRepository) GetByName(ctx context.Context, name string) (catalog.Dataset, error) {
	row := r.queryer().QueryRow(ctx, `
		SELECT `+datasetColumns+` FROM datasets WHERE name = $1`,
		name)

	dataset, err := scanDataset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Dataset{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Dataset{}, fmt.Errorf("get dataset %q: %w", name, err)
	}
	return dataset, nil
}

func (r *DatasetRepository) ListByStatus(ctx context.Context, status catalog.DatasetStatus) ([]catalog.Dataset, error) {
	rows, err := r.queryer().Query(ctx, `
		SELECT `+datasetColumns+` FROM datasets WHERE status = $1 ORDER BY name`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list datasets by status %s: %w", status, err)
	}
	defer rows.Close()

	var datasets []catalog.Dataset
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return datasets, nil
}

func (r *DatasetRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status catalog.DatasetStatus) error {
	tag, err := r.queryer().Exec(ctx, `
		UPDATE datasets SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update dataset %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *DatasetRepository) AddMember(ctx context.Context, datasetID, datasourceID uuid.UUID) error {
	_, err := r.queryer().Exec(ctx, `
		INSERT INTO dataset_datasources (dataset_id, datasource_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		datasetID, datasourceID)
	if err != nil {
		return fmt.Errorf("add datasource %s to dataset %s: %w", datasourceID, datasetID, err)
	}
	return nil
}

func (r *DatasetRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func scanDataset(row pgx.Row) (catalog.Dataset, error) {
	var dataset catalog.Dataset
	var status string
	err := row.Scan(
		&dataset.ID,
		&dataset.Name,
		&status,
		&dataset.LatestTxID,
		&dataset.CreatedAt,
		&dataset.UpdatedAt,
	)
	if err != nil {
		return catalog.Dataset{}, err
	}
	dataset.Status = catalog.DatasetStatus(status)
	return dataset, nil
}
