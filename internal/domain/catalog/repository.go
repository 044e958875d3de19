package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpsertDatasourceParams carries everything the atomic create-or-fetch of a
// datasource needs in one round trip.
type UpsertDatasourceParams struct {
	PURL       string
	Domain     string
	Repository string
	Branch     string
	Type       string
	TxID       uuid.UUID
	ReceivedAt time.Time
}

// DatasetRepository persists Dataset aggregates.
type DatasetRepository interface {
	// Upsert atomically creates the dataset in INITIALIZING or fetches the
	// existing row, applying the on-event-received status rule. Single
	// statement, safe under concurrent first submission.
	Upsert(ctx context.Context, name string, txID uuid.UUID, now time.Time) (Dataset, error)
	GetByName(ctx context.Context, name string) (Dataset, error)
	ListByStatus(ctx context.Context, status DatasetStatus) ([]Dataset, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status DatasetStatus) error
	// AddMember records dataset membership of a datasource. Idempotent.
	AddMember(ctx context.Context, datasetID, datasourceID uuid.UUID) error
}

// DatasourceRepository persists Datasource aggregates.
type DatasourceRepository interface {
	// Upsert atomically creates the datasource in INITIALIZING or fetches
	// the existing row, applying the on-event-received status rule and
	// advancing event counters and received timestamps.
	Upsert(ctx context.Context, params UpsertDatasourceParams) (Datasource, error)
	GetByPURL(ctx context.Context, purl string) (Datasource, error)
	ListByStatus(ctx context.Context, status DatasourceStatus) ([]Datasource, error)
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]Datasource, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status DatasourceStatus) error
	// RecordProcessingError increments the error counter, stores the status
	// string the failing event was received with, and moves the datasource
	// to PROCESSING_ERROR unless it is actively PROCESSING.
	RecordProcessingError(ctx context.Context, id uuid.UUID, receivedStatus string) error
}

// EventRepository persists DatasourceEvents.
type EventRepository interface {
	// Insert stores the event. A purl conflict returns ErrDuplicateEvent
	// without modifying the stored row.
	Insert(ctx context.Context, event DatasourceEvent) (DatasourceEvent, error)
	GetByPURL(ctx context.Context, purl string) (DatasourceEvent, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDatasource(ctx context.Context, datasourceID uuid.UUID) ([]DatasourceEvent, error)
	// CountByStatus summarizes the events of one datasource by status.
	CountByStatus(ctx context.Context, datasourceID uuid.UUID) (EventStatusCounts, error)
}
