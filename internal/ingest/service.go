package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
	"github.com/patchfox-io/input-service/internal/purl"
	"github.com/patchfox-io/input-service/internal/storage"
)

// ErrNoCompleteBundle is returned when an archive yields no project bundle
// with the necessary file types.
var ErrNoCompleteBundle = errors.New("archive contains no complete project bundle")

// Service runs the synchronous ingestion path: validate, unpack, bundle,
// build the graph, record the event, promote the owning aggregates.
type Service struct {
	repo           storage.Repository
	unpacker       *Unpacker
	expectedDomain string
	logger         zerolog.Logger
}

func NewService(repo storage.Repository, unpacker *Unpacker, expectedDomain string, logger zerolog.Logger) *Service {
	return &Service{
		repo:           repo,
		unpacker:       unpacker,
		expectedDomain: expectedDomain,
		logger:         logger.With().Str("component", "ingest").Logger(),
	}
}

// Receipt reports what an accepted event produced.
type Receipt struct {
	EventID      uuid.UUID
	DatasetID    uuid.UUID
	DatasourceID uuid.UUID
	EventPURL    string
}

// HandleGitEvent ingests one git snapshot event. Failures after the owning
// datasource is known are recorded against it; IsClientFault distinguishes
// rejections the producer caused from internal errors.
func (s *Service) HandleGitEvent(ctx context.Context, rawPURL string, archive io.Reader, txID uuid.UUID, receivedAt time.Time) (Receipt, error) {
	id, err := purl.ParseEventIdentifier(rawPURL, s.expectedDomain)
	if err != nil {
		return Receipt{}, err
	}
	logger := s.logger.With().Str("event_purl", id.EventPURL).Stringer("txid", txID).Logger()

	dataset, err := s.repo.Datasets().Upsert(ctx, id.Domain, txID, receivedAt)
	if err != nil {
		return Receipt{}, fmt.Errorf("upsert dataset: %w", err)
	}
	datasource, err := s.repo.Datasources().Upsert(ctx, catalog.UpsertDatasourceParams{
		PURL:       id.DatasourcePURL,
		Domain:     id.Domain,
		Repository: id.Repository,
		Branch:     id.Branch,
		Type:       id.DatasourceType,
		TxID:       txID,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("upsert datasource: %w", err)
	}
	if err := s.repo.Datasets().AddMember(ctx, dataset.ID, datasource.ID); err != nil {
		return Receipt{}, fmt.Errorf("associate datasource: %w", err)
	}

	graph, err := s.buildEventGraph(id, archive, logger)
	if err != nil {
		s.recordFailure(ctx, datasource.ID, err, logger)
		return Receipt{}, err
	}

	payload, err := json.Marshal(graph)
	if err != nil {
		err = fmt.Errorf("serialize graph payload: %w", err)
		s.recordFailure(ctx, datasource.ID, err, logger)
		return Receipt{}, err
	}

	event := catalog.DatasourceEvent{
		DatasourceID: datasource.ID,
		PURL:         id.EventPURL,
		Version:      id.DatasourceType,
		CommitHash:   id.CommitHash,
		CommitBranch: id.Branch,
		CommitAt:     id.CommitDatetime,
		Status:       catalog.EventReadyForProcessing,
		Payload:      payload,
		TxID:         txID,
		ReceivedAt:   receivedAt,
	}

	var saved catalog.DatasourceEvent
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		inserted, err := tx.Events().Insert(ctx, event)
		if errors.Is(err, catalog.ErrDuplicateEvent) {
			inserted, err = s.replaceErroredEvent(ctx, tx, event, logger)
		}
		if err != nil {
			return err
		}
		saved = inserted

		if next := datasource.Status.OnEventRecorded(); next != datasource.Status {
			if err := tx.Datasources().UpdateStatus(ctx, datasource.ID, next); err != nil {
				return fmt.Errorf("promote datasource: %w", err)
			}
		}
		if next := dataset.Status.OnEventRecorded(); next != dataset.Status {
			if err := tx.Datasets().UpdateStatus(ctx, dataset.ID, next); err != nil {
				return fmt.Errorf("promote dataset: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, catalog.ErrDuplicateEvent) {
			s.recordFailure(ctx, datasource.ID, err, logger)
		}
		return Receipt{}, err
	}

	logger.Info().Stringer("event_id", saved.ID).Msg("event recorded")
	return Receipt{
		EventID:      saved.ID,
		DatasetID:    dataset.ID,
		DatasourceID: datasource.ID,
		EventPURL:    id.EventPURL,
	}, nil
}

// buildEventGraph unpacks the archive, bundles its files and builds the
// dependency tree for the event's repository.
func (s *Service) buildEventGraph(id purl.EventIdentifier, archive io.Reader, logger zerolog.Logger) (*PackageNode, error) {
	root, files, err := s.unpacker.Unpack(archive)
	if root != "" {
		defer func() {
			if err := os.RemoveAll(root); err != nil {
				logger.Warn().Err(err).Str("dir", root).Msg("scratch dir cleanup failed")
			}
		}()
	}
	if err != nil {
		return nil, fmt.Errorf("unpack archive: %w", err)
	}

	bundles := BundleFiles(root, files, logger)
	bundle, ok := selectBundle(bundles, id.Repository)
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id.EventPURL, ErrNoCompleteBundle)
	}
	return BuildGraph(id, bundle, logger)
}

// selectBundle picks the bundle for the event's repository. Producers send
// one project per archive but key it by commit hash in the path, so any
// single bundle is accepted; an exact repository match wins when present.
func selectBundle(bundles map[string][]DataFile, repository string) ([]DataFile, bool) {
	if bundle, ok := bundles[repository]; ok {
		return bundle, true
	}
	if len(bundles) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(bundles))
	for key := range bundles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return bundles[keys[0]], true
}

// replaceErroredEvent resolves a duplicate submission: a stored event in
// PROCESSING_ERROR is deleted and replaced so the producer can retry;
// anything else is a conflict and the stored row stays untouched.
func (s *Service) replaceErroredEvent(ctx context.Context, tx storage.Repository, event catalog.DatasourceEvent, logger zerolog.Logger) (catalog.DatasourceEvent, error) {
	existing, err := tx.Events().GetByPURL(ctx, event.PURL)
	if err != nil {
		return catalog.DatasourceEvent{}, fmt.Errorf("fetch conflicting event: %w", err)
	}
	if existing.Status != catalog.EventProcessingError {
		return catalog.DatasourceEvent{}, fmt.Errorf("event %s already exists and has been previously processed: %w", event.PURL, catalog.ErrDuplicateEvent)
	}

	logger.Info().Msg("allowing reprocessing, previous event status was PROCESSING_ERROR")
	if err := tx.Events().Delete(ctx, existing.ID); err != nil {
		return catalog.DatasourceEvent{}, fmt.Errorf("delete errored event: %w", err)
	}
	inserted, err := tx.Events().Insert(ctx, event)
	if err != nil {
		return catalog.DatasourceEvent{}, fmt.Errorf("replace errored event: %w", err)
	}
	return inserted, nil
}

// recordFailure books a processing failure against the datasource. Best
// effort: a failure while recording the failure is logged, not propagated.
func (s *Service) recordFailure(ctx context.Context, datasourceID uuid.UUID, cause error, logger zerolog.Logger) {
	receivedStatus := http.StatusText(http.StatusInternalServerError)
	if IsClientFault(cause) {
		receivedStatus = http.StatusText(http.StatusBadRequest)
	}
	var integrity *catalog.IntegrityError
	if errors.As(cause, &integrity) {
		logger.Error().Err(integrity).Msg("storage integrity violation")
	}
	if err := s.repo.Datasources().RecordProcessingError(ctx, datasourceID, receivedStatus); err != nil {
		logger.Error().Err(err).Msg("recording processing error failed")
	}
}

// IsClientFault reports whether the producer caused the failure. Everything
// else is an internal error.
func IsClientFault(err error) bool {
	var validation *purl.ValidationError
	if errors.As(err, &validation) {
		return true
	}
	return errors.Is(err, ErrArchiveTooLarge) ||
		errors.Is(err, ErrNoCompleteBundle) ||
		errors.Is(err, ErrNoUsableGraph) ||
		errors.Is(err, ErrEmptyGraph) ||
		errors.Is(err, catalog.ErrDuplicateEvent)
}
