// Package reconcile re-derives aggregate status from child state. The
// ingestion path only ever pushes statuses toward INGESTING; this sweeper is
// what drains aggregates toward READY_FOR_PROCESSING and IDLE so downstream
// processors can pick them up.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/patchfox-io/input-service/internal/domain/catalog"
	"github.com/patchfox-io/input-service/internal/storage"
)

// Sweeper runs the periodic three-pass reconciliation. Each sweep is one
// transaction and is idempotent: a sweep over converged state changes
// nothing.
type Sweeper struct {
	repo   storage.Repository
	grace  time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewSweeper(repo storage.Repository, grace time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:   repo,
		grace:  grace,
		now:    time.Now,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// WithClock overrides the sweep clock. Tests only.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep runs the three passes in order: drain INITIALIZING, resolve stale
// INGESTING, reclaim idle or stuck aggregates.
func (s *Sweeper) Sweep(ctx context.Context) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		if err := s.drainInitializing(ctx, tx); err != nil {
			return fmt.Errorf("drain initializing: %w", err)
		}
		if err := s.resolveIngesting(ctx, tx); err != nil {
			return fmt.Errorf("resolve ingesting: %w", err)
		}
		if err := s.reclaimStuck(ctx, tx); err != nil {
			return fmt.Errorf("reclaim stuck: %w", err)
		}
		return nil
	})
}

// drainInitializing promotes aggregates out of the historical-backfill state
// once no more events are expected imminently.
func (s *Sweeper) drainInitializing(ctx context.Context, tx storage.Repository) error {
	datasources, err := tx.Datasources().ListByStatus(ctx, catalog.DatasourceInitializing)
	if err != nil {
		return err
	}
	for _, datasource := range datasources {
		if !s.pastGrace(datasource) {
			continue
		}
		counts, err := tx.Events().CountByStatus(ctx, datasource.ID)
		if err != nil {
			return err
		}
		if !counts.AllSettled() {
			continue
		}
		if err := s.setDatasourceStatus(ctx, tx, datasource, catalog.DatasourceReadyForProcessing); err != nil {
			return err
		}
	}

	datasets, err := tx.Datasets().ListByStatus(ctx, catalog.DatasetInitializing)
	if err != nil {
		return err
	}
	for _, dataset := range datasets {
		children, err := tx.Datasources().ListByDataset(ctx, dataset.ID)
		if err != nil {
			return err
		}
		if anyChildIn(children, catalog.DatasourceInitializing, catalog.DatasourceIngesting) {
			continue
		}
		if err := s.setDatasetStatus(ctx, tx, dataset, catalog.DatasetReadyForProcessing); err != nil {
			return err
		}
	}
	return nil
}

// resolveIngesting settles aggregates whose ingestion activity went quiet:
// either they gathered something processable or they go idle.
func (s *Sweeper) resolveIngesting(ctx context.Context, tx storage.Repository) error {
	datasources, err := tx.Datasources().ListByStatus(ctx, catalog.DatasourceIngesting)
	if err != nil {
		return err
	}
	for _, datasource := range datasources {
		if !s.pastGrace(datasource) {
			continue
		}
		counts, err := tx.Events().CountByStatus(ctx, datasource.ID)
		if err != nil {
			return err
		}
		next := catalog.DatasourceIdle
		if counts[catalog.EventReadyForProcessing] > 0 && counts[catalog.EventIngesting] == 0 {
			next = catalog.DatasourceReadyForProcessing
		}
		if err := s.setDatasourceStatus(ctx, tx, datasource, next); err != nil {
			return err
		}
	}

	datasets, err := tx.Datasets().ListByStatus(ctx, catalog.DatasetIngesting)
	if err != nil {
		return err
	}
	for _, dataset := range datasets {
		children, err := tx.Datasources().ListByDataset(ctx, dataset.ID)
		if err != nil {
			return err
		}
		next := catalog.DatasetIdle
		if anyChildIn(children, catalog.DatasourceReadyForProcessing) {
			next = catalog.DatasetReadyForProcessing
		}
		if err := s.setDatasetStatus(ctx, tx, dataset, next); err != nil {
			return err
		}
	}
	return nil
}

// reclaimStuck self-heals two conditions: a dataset left in PROCESSING after
// the downstream processor finished without resetting it, and an IDLE
// dataset sitting on processable children.
func (s *Sweeper) reclaimStuck(ctx context.Context, tx storage.Repository) error {
	processing, err := tx.Datasets().ListByStatus(ctx, catalog.DatasetProcessing)
	if err != nil {
		return err
	}
	for _, dataset := range processing {
		children, err := tx.Datasources().ListByDataset(ctx, dataset.ID)
		if err != nil {
			return err
		}
		if anyBusy(children) {
			continue
		}
		if err := s.setDatasetStatus(ctx, tx, dataset, catalog.DatasetIdle); err != nil {
			return err
		}
	}

	idle, err := tx.Datasets().ListByStatus(ctx, catalog.DatasetIdle)
	if err != nil {
		return err
	}
	for _, dataset := range idle {
		children, err := tx.Datasources().ListByDataset(ctx, dataset.ID)
		if err != nil {
			return err
		}
		promote := anyChildIn(children, catalog.DatasourceReadyForProcessing)
		if !promote {
			// No child is ready by status, but one may still carry a
			// processable event; promote that child along the way.
			for _, child := range children {
				counts, err := tx.Events().CountByStatus(ctx, child.ID)
				if err != nil {
					return err
				}
				if counts[catalog.EventReadyForProcessing] == 0 {
					continue
				}
				if err := s.setDatasourceStatus(ctx, tx, child, catalog.DatasourceReadyForProcessing); err != nil {
					return err
				}
				promote = true
				break
			}
		}
		if promote {
			if err := s.setDatasetStatus(ctx, tx, dataset, catalog.DatasetReadyForProcessing); err != nil {
				return err
			}
		}
	}
	return nil
}

// pastGrace reports whether the datasource's last activity is older than the
// grace window. A datasource that never received an event falls back to its
// creation time.
func (s *Sweeper) pastGrace(datasource catalog.Datasource) bool {
	last := datasource.CreatedAt
	if datasource.LastEventReceivedAt != nil {
		last = *datasource.LastEventReceivedAt
	}
	return s.now().Sub(last) > s.grace
}

func (s *Sweeper) setDatasourceStatus(ctx context.Context, tx storage.Repository, datasource catalog.Datasource, next catalog.DatasourceStatus) error {
	if err := tx.Datasources().UpdateStatus(ctx, datasource.ID, next); err != nil {
		return fmt.Errorf("datasource %s -> %s: %w", datasource.PURL, next, err)
	}
	s.logger.Info().
		Str("datasource", datasource.PURL).
		Str("from", string(datasource.Status)).
		Str("to", string(next)).
		Msg("datasource status reconciled")
	return nil
}

func (s *Sweeper) setDatasetStatus(ctx context.Context, tx storage.Repository, dataset catalog.Dataset, next catalog.DatasetStatus) error {
	if err := tx.Datasets().UpdateStatus(ctx, dataset.ID, next); err != nil {
		return fmt.Errorf("dataset %s -> %s: %w", dataset.Name, next, err)
	}
	s.logger.Info().
		Str("dataset", dataset.Name).
		Str("from", string(dataset.Status)).
		Str("to", string(next)).
		Msg("dataset status reconciled")
	return nil
}

func anyChildIn(children []catalog.Datasource, statuses ...catalog.DatasourceStatus) bool {
	for _, child := range children {
		for _, status := range statuses {
			if child.Status == status {
				return true
			}
		}
	}
	return false
}

func anyBusy(children []catalog.Datasource) bool {
	for _, child := range children {
		if child.Status.Busy() {
			return true
		}
	}
	return false
}
