package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
	"github.com/patchfox-io/input-service/internal/purl"
	"github.com/patchfox-io/input-service/internal/storage/storagetest"
)

const (
	serviceTestPURL = "pkg:generic/acme/billing-service::main@git?commithash=" +
		graphTestHash + "&commitdatetime=2026-08-30T10:00:00Z"
	serviceTestDatasourcePURL = "pkg:generic/acme/billing-service::main@git"
)

func newTestService(repo *storagetest.Repository, t *testing.T) *Service {
	t.Helper()
	return NewService(repo, NewUnpacker(t.TempDir(), 1<<20), "acme", zerolog.Nop())
}

func completeArchiveEntries() []zipEntry {
	return []zipEntry{
		{"deadbeef/pom.xml.blame.json", blameGraphContent},
		{"deadbeef/scan.syft.json", syftContent},
		{"deadbeef/env.buildmeta.json", buildMetaContent},
	}
}

func TestHandleGitEventHappyPath(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository()
	svc := newTestService(repo, t)
	received := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	receipt, err := svc.HandleGitEvent(ctx, serviceTestPURL, buildZip(t, completeArchiveEntries()), uuid.New(), received)
	require.NoError(t, err)

	// New aggregates start INITIALIZING and an incoming event never
	// overrides that: historical backfill must finish first.
	dataset := repo.DatasetsByName["acme"]
	require.NotNil(t, dataset)
	assert.Equal(t, catalog.DatasetInitializing, dataset.Status)

	datasource := repo.Datasource(serviceTestDatasourcePURL)
	require.NotNil(t, datasource)
	assert.Equal(t, catalog.DatasourceInitializing, datasource.Status)
	assert.EqualValues(t, 1, datasource.NumberEventsReceived)
	assert.True(t, repo.Members[dataset.ID][datasource.ID])

	event := repo.EventsByPURL[serviceTestPURL]
	require.NotNil(t, event)
	assert.Equal(t, receipt.EventID, event.ID)
	assert.Equal(t, catalog.EventReadyForProcessing, event.Status)
	assert.Equal(t, graphTestHash, event.CommitHash)
	assert.Equal(t, "main", event.CommitBranch)
	require.NotEmpty(t, event.Payload)

	var root PackageNode
	require.NoError(t, json.Unmarshal(event.Payload, &root))
	assert.Equal(t, "billing-service", root.Name)
	assert.Len(t, root.Children, 2)
}

func TestHandleGitEventPromotesSettledDatasource(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository()
	svc := newTestService(repo, t)

	_, err := svc.HandleGitEvent(ctx, serviceTestPURL, buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.NoError(t, err)

	// Once the backfill window has passed, the aggregates sit in IDLE; a
	// new event moves them through INGESTING to READY_FOR_PROCESSING.
	datasource := repo.Datasource(serviceTestDatasourcePURL)
	datasource.Status = catalog.DatasourceIdle
	repo.DatasetsByName["acme"].Status = catalog.DatasetIdle

	secondPURL := "pkg:generic/acme/billing-service::main@git?commithash=" +
		"fedcba9876543210fedcba9876543210fedcba98" + "&commitdatetime=2026-08-30T11:00:00Z"
	_, err = svc.HandleGitEvent(ctx, secondPURL, buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, catalog.DatasourceReadyForProcessing, repo.Datasource(serviceTestDatasourcePURL).Status)
	assert.Equal(t, catalog.DatasetReadyForProcessing, repo.DatasetsByName["acme"].Status)
	assert.EqualValues(t, 2, repo.Datasource(serviceTestDatasourcePURL).NumberEventsReceived)
}

func TestHandleGitEventDuplicateConflict(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository()
	svc := newTestService(repo, t)

	_, err := svc.HandleGitEvent(ctx, serviceTestPURL, buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.NoError(t, err)
	stored := *repo.EventsByPURL[serviceTestPURL]

	_, err = svc.HandleGitEvent(ctx, serviceTestPURL, buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.ErrorIs(t, err, catalog.ErrDuplicateEvent)
	assert.True(t, IsClientFault(err))

	// Stored record untouched, and a duplicate is a conflict, not a
	// processing error.
	assert.Equal(t, stored.ID, repo.EventsByPURL[serviceTestPURL].ID)
	assert.EqualValues(t, 0, repo.Datasource(serviceTestDatasourcePURL).NumberEventProcessingErrors)
}

func TestHandleGitEventReplacesErroredEvent(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository()
	svc := newTestService(repo, t)

	_, err := svc.HandleGitEvent(ctx, serviceTestPURL, buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.NoError(t, err)
	previous := repo.EventsByPURL[serviceTestPURL]
	previous.Status = catalog.EventProcessingError

	receipt, err := svc.HandleGitEvent(ctx, serviceTestPURL, buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.NoError(t, err)

	replaced := repo.EventsByPURL[serviceTestPURL]
	assert.NotEqual(t, previous.ID, replaced.ID)
	assert.Equal(t, receipt.EventID, replaced.ID)
	assert.Equal(t, catalog.EventReadyForProcessing, replaced.Status)
}

func TestHandleGitEventIncompleteBundle(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository()
	svc := newTestService(repo, t)

	archive := buildZip(t, []zipEntry{
		{"deadbeef/pom.xml.blame.json", blameGraphContent},
		{"deadbeef/env.buildmeta.json", buildMetaContent},
	})
	_, err := svc.HandleGitEvent(ctx, serviceTestPURL, archive, uuid.New(), time.Now().UTC())
	require.ErrorIs(t, err, ErrNoCompleteBundle)
	assert.True(t, IsClientFault(err))

	// The failure is booked against the datasource.
	datasource := repo.Datasource(serviceTestDatasourcePURL)
	require.NotNil(t, datasource)
	assert.EqualValues(t, 1, datasource.NumberEventProcessingErrors)
	assert.Equal(t, catalog.DatasourceProcessingError, datasource.Status)
	assert.Equal(t, "Bad Request", datasource.LastEventReceivedStatus)
	assert.Empty(t, repo.EventsByPURL)
}

func TestHandleGitEventInvalidIdentifier(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository()
	svc := newTestService(repo, t)

	_, err := svc.HandleGitEvent(ctx, "pkg:maven/acme/x::main@git", buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.Error(t, err)
	var verr *purl.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, IsClientFault(err))

	// Rejected before any aggregate exists.
	assert.Empty(t, repo.DatasetsByName)
	assert.Empty(t, repo.DatasourcesByID)
}

func TestHandleGitEventStorageFailure(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository()
	repo.FailInsertEvents = assert.AnError
	svc := newTestService(repo, t)

	_, err := svc.HandleGitEvent(ctx, serviceTestPURL, buildZip(t, completeArchiveEntries()), uuid.New(), time.Now().UTC())
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, IsClientFault(err))

	datasource := repo.Datasource(serviceTestDatasourcePURL)
	require.NotNil(t, datasource)
	assert.Equal(t, "Internal Server Error", datasource.LastEventReceivedStatus)
	assert.EqualValues(t, 1, datasource.NumberEventProcessingErrors)
}
