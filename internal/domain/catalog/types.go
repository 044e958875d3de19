// Package catalog holds the persistent aggregates of the ingestion catalog:
// Datasets (one per tenant domain), Datasources (one per repository+branch)
// and the DatasourceEvents recorded under them.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Dataset groups the datasources of one tenant domain.
type Dataset struct {
	ID         uuid.UUID
	Name       string
	Status     DatasetStatus
	LatestTxID uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Datasource is one observed repository+branch, identified by its purl
// (type, domain and packed name, without version or qualifiers).
type Datasource struct {
	ID         uuid.UUID
	PURL       string
	Domain     string
	Repository string
	Branch     string
	Type       string
	Status     DatasourceStatus

	NumberEventsReceived        int64
	NumberEventProcessingErrors int64
	LastEventReceivedStatus     string
	FirstEventReceivedAt        *time.Time
	LastEventReceivedAt         *time.Time
	LatestTxID                  uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DatasourceEvent is one ingested snapshot of a datasource. Payload carries
// the serialized dependency graph and is never empty on a committed row.
type DatasourceEvent struct {
	ID           uuid.UUID
	DatasourceID uuid.UUID
	PURL         string
	Version      string
	CommitHash   string
	CommitBranch string
	CommitAt     time.Time
	Status       EventStatus
	Payload      []byte
	TxID         uuid.UUID
	ReceivedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EventStatusCounts summarizes the events under one datasource, keyed by
// status. The reconciler works off these counts instead of loading rows.
type EventStatusCounts map[EventStatus]int

// Total returns the number of events across all statuses.
func (c EventStatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// AllSettled reports whether every event is READY_FOR_PROCESSING or
// PROCESSED. True for an empty set.
func (c EventStatusCounts) AllSettled() bool {
	for status, n := range c {
		if n > 0 && !status.Settled() {
			return false
		}
	}
	return true
}
