// Package storage groups data access behind one interface so services and
// jobs can run against postgres or the in-memory fakes used in tests.
package storage

import (
	"context"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
)

// Repository groups data access by domain.
type Repository interface {
	Datasets() catalog.DatasetRepository
	Datasources() catalog.DatasourceRepository
	Events() catalog.EventRepository

	// WithTx runs fn inside one transaction. The Repository handed to fn
	// routes every call through that transaction; fn returning an error
	// rolls everything back. Nested calls reuse the outer transaction.
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}
