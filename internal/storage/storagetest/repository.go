// Package storagetest provides an in-memory storage.Repository for tests.
// It mirrors the postgres semantics the services rely on: upsert status
// rules, duplicate-event detection and counter bookkeeping. It is not
// concurrency-safe and does not roll back on WithTx errors.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
	"github.com/patchfox-io/input-service/internal/storage"
)

type Repository struct {
	DatasetsByName   map[string]*catalog.Dataset
	DatasourcesByID  map[uuid.UUID]*catalog.Datasource
	EventsByPURL     map[string]*catalog.DatasourceEvent
	Members          map[uuid.UUID]map[uuid.UUID]bool
	FailInsertEvents error
}

func NewRepository() *Repository {
	return &Repository{
		DatasetsByName:  make(map[string]*catalog.Dataset),
		DatasourcesByID: make(map[uuid.UUID]*catalog.Datasource),
		EventsByPURL:    make(map[string]*catalog.DatasourceEvent),
		Members:         make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (r *Repository) Datasets() catalog.DatasetRepository       { return &datasetRepo{r} }
func (r *Repository) Datasources() catalog.DatasourceRepository { return &datasourceRepo{r} }
func (r *Repository) Events() catalog.EventRepository           { return &eventRepo{r} }

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, storage.Repository) error) error {
	return fn(ctx, r)
}

// Datasource returns the stored datasource by purl, for assertions.
func (r *Repository) Datasource(purl string) *catalog.Datasource {
	for _, ds := range r.DatasourcesByID {
		if ds.PURL == purl {
			return ds
		}
	}
	return nil
}

type datasetRepo struct{ r *Repository }

func (d *datasetRepo) Upsert(ctx context.Context, name string, txID uuid.UUID, now time.Time) (catalog.Dataset, error) {
	existing, ok := d.r.DatasetsByName[name]
	if !ok {
		dataset := &catalog.Dataset{
			ID:         uuid.New(),
			Name:       name,
			Status:     catalog.DatasetInitializing,
			LatestTxID: txID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		d.r.DatasetsByName[name] = dataset
		return *dataset, nil
	}
	existing.Status = existing.Status.OnEventReceived()
	existing.LatestTxID = txID
	existing.UpdatedAt = now
	return *existing, nil
}

func (d *datasetRepo) GetByName(ctx context.Context, name string) (catalog.Dataset, error) {
	if dataset, ok := d.r.DatasetsByName[name]; ok {
		return *dataset, nil
	}
	return catalog.Dataset{}, catalog.ErrNotFound
}

func (d *datasetRepo) ListByStatus(ctx context.Context, status catalog.DatasetStatus) ([]catalog.Dataset, error) {
	var out []catalog.Dataset
	for _, dataset := range d.r.DatasetsByName {
		if dataset.Status == status {
			out = append(out, *dataset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *datasetRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status catalog.DatasetStatus) error {
	for _, dataset := range d.r.DatasetsByName {
		if dataset.ID == id {
			dataset.Status = status
			return nil
		}
	}
	return catalog.ErrNotFound
}

func (d *datasetRepo) AddMember(ctx context.Context, datasetID, datasourceID uuid.UUID) error {
	if d.r.Members[datasetID] == nil {
		d.r.Members[datasetID] = make(map[uuid.UUID]bool)
	}
	d.r.Members[datasetID][datasourceID] = true
	return nil
}

type datasourceRepo struct{ r *Repository }

func (d *datasourceRepo) Upsert(ctx context.Context, params catalog.UpsertDatasourceParams) (catalog.Datasource, error) {
	for _, ds := range d.r.DatasourcesByID {
		if ds.PURL != params.PURL {
			continue
		}
		ds.Status = ds.Status.OnEventReceived()
		ds.NumberEventsReceived++
		receivedAt := params.ReceivedAt
		ds.LastEventReceivedAt = &receivedAt
		ds.LatestTxID = params.TxID
		ds.UpdatedAt = params.ReceivedAt
		return *ds, nil
	}
	receivedAt := params.ReceivedAt
	ds := &catalog.Datasource{
		ID:                   uuid.New(),
		PURL:                 params.PURL,
		Domain:               params.Domain,
		Repository:           params.Repository,
		Branch:               params.Branch,
		Type:                 params.Type,
		Status:               catalog.DatasourceInitializing,
		NumberEventsReceived: 1,
		FirstEventReceivedAt: &receivedAt,
		LastEventReceivedAt:  &receivedAt,
		LatestTxID:           params.TxID,
		CreatedAt:            params.ReceivedAt,
		UpdatedAt:            params.ReceivedAt,
	}
	d.r.DatasourcesByID[ds.ID] = ds
	return *ds, nil
}

func (d *datasourceRepo) GetByPURL(ctx context.Context, purl string) (catalog.Datasource, error) {
	if ds := d.r.Datasource(purl); ds != nil {
		return *ds, nil
	}
	return catalog.Datasource{}, catalog.ErrNotFound
}

func (d *datasourceRepo) ListByStatus(ctx context.Context, status catalog.DatasourceStatus) ([]catalog.Datasource, error) {
	var out []catalog.Datasource
	for _, ds := range d.r.DatasourcesByID {
		if ds.Status == status {
			out = append(out, *ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PURL < out[j].PURL })
	return out, nil
}

func (d *datasourceRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]catalog.Datasource, error) {
	var out []catalog.Datasource
	for datasourceID := range d.r.Members[datasetID] {
		if ds, ok := d.r.DatasourcesByID[datasourceID]; ok {
			out = append(out, *ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PURL < out[j].PURL })
	return out, nil
}

func (d *datasourceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status catalog.DatasourceStatus) error {
	ds, ok := d.r.DatasourcesByID[id]
	if !ok {
		return catalog.ErrNotFound
	}
	ds.Status = status
	return nil
}

func (d *datasourceRepo) RecordProcessingError(ctx context.Context, id uuid.UUID, receivedStatus string) error {
	ds, ok := d.r.DatasourcesByID[id]
	if !ok {
		return catalog.ErrNotFound
	}
	ds.NumberEventProcessingErrors++
	ds.LastEventReceivedStatus = receivedStatus
	if ds.Status != catalog.DatasourceProcessing {
		ds.Status = catalog.DatasourceProcessingError
	}
	return nil
}

type eventRepo struct{ r *Repository }

func (e *eventRepo) Insert(ctx context.Context, event catalog.DatasourceEvent) (catalog.DatasourceEvent, error) {
	if e.r.FailInsertEvents != nil {
		return catalog.DatasourceEvent{}, e.r.FailInsertEvents
	}
	if _, exists := e.r.EventsByPURL[event.PURL]; exists {
		return catalog.DatasourceEvent{}, fmt.Errorf("event %q: %w", event.PURL, catalog.ErrDuplicateEvent)
	}
	event.ID = uuid.New()
	event.CreatedAt = event.ReceivedAt
	event.UpdatedAt = event.ReceivedAt
	stored := event
	e.r.EventsByPURL[event.PURL] = &stored
	return stored, nil
}

func (e *eventRepo) GetByPURL(ctx context.Context, purl string) (catalog.DatasourceEvent, error) {
	if event, ok := e.r.EventsByPURL[purl]; ok {
		return *event, nil
	}
	return catalog.DatasourceEvent{}, catalog.ErrNotFound
}

func (e *eventRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for purl, event := range e.r.EventsByPURL {
		if event.ID == id {
			delete(e.r.EventsByPURL, purl)
			return nil
		}
	}
	return catalog.ErrNotFound
}

func (e *eventRepo) ListByDatasource(ctx context.Context, datasourceID uuid.UUID) ([]catalog.DatasourceEvent, error) {
	var out []catalog.DatasourceEvent
	for _, event := range e.r.EventsByPURL {
		if event.DatasourceID == datasourceID {
			out = append(out, *event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (e *eventRepo) CountByStatus(ctx context.Context, datasourceID uuid.UUID) (catalog.EventStatusCounts, error) {
	counts := make(catalog.EventStatusCounts)
	for _, event := range e.r.EventsByPURL {
		if event.DatasourceID == datasourceID {
			counts[event.Status]++
		}
	}
	return counts, nil
}
