package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"eventsync/internal/config"
	"eventsync/internal/driver"
	"eventsync/internal/mapper"
	"eventsync/internal/syncerr"
)

// Syncer runs one sync step for a resource
type Syncer interface {
	Sync(ctx context.Context, res driver.Resource, resourceID, token string) (*driver.Result, error)
}

// RowSink receives the rows of each successful sync step
type RowSink interface {
	Upsert(ctx context.Context, resource, resourceID, runID string, rows []mapper.Row) (int, error)
}

// Job is one configured listing to keep in sync
type Job struct {
	Key        string
	Resource   driver.Resource
	ResourceID string
}

type Manager struct {
	syncer   Syncer
	sink     RowSink
	state    *State
	jobs     []Job
	interval time.Duration
	maxPages int
}

func NewManager(syncer Syncer, cfg *config.Config) *Manager {
	m := &Manager{
		syncer:   syncer,
		state:    NewState(cfg.State.Path),
		interval: time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
		maxPages: cfg.Sync.MaxPagesPerCycle,
	}
	if m.interval <= 0 {
		m.interval = 5 * time.Minute
	}
	if m.maxPages <= 0 {
		m.maxPages = 50
	}
	return m
}

// SetSink sets where synced rows are written. Without a sink rows are only counted.
func (m *Manager) SetSink(sink RowSink) {
	m.sink = sink
}

// AddJob registers a configured job. Rows are stored under the normalized id.
func (m *Manager) AddJob(jc config.JobConfig) error {
	res, err := driver.Lookup(jc.Resource)
	if err != nil {
		return err
	}
	id, err := driver.ExtractID(jc.ID)
	if err != nil {
		return err
	}
	m.jobs = append(m.jobs, Job{Key: jc.Key(), Resource: res, ResourceID: id})
	log.Info().Str("resource", res.Name).Str("id", id).Msg("Registered job")
	return nil
}

// Run syncs every job now and then on each interval until ctx ends
func (m *Manager) Run(ctx context.Context) error {
	// Load saved state
	if err := m.state.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load state, starting fresh")
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial sync
	m.syncAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.syncAll(ctx)
		}
	}
}

// RunOnce syncs every job a single time and returns the failures joined
func (m *Manager) RunOnce(ctx context.Context) error {
	if err := m.state.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load state, starting fresh")
	}
	return m.syncAll(ctx)
}

func (m *Manager) syncAll(ctx context.Context) error {
	var errs []error
	for _, job := range m.jobs {
		if err := m.syncJob(ctx, job); err != nil {
			log.Error().Err(err).Str("job", job.Key).Msg("Sync failed")
			errs = append(errs, fmt.Errorf("%s: %w", job.Key, err))
		}
	}
	return errors.Join(errs...)
}

// syncJob advances one job from its saved token. The token only moves forward
// after the rows of a step have been written.
func (m *Manager) syncJob(ctx context.Context, job Job) error {
	token := m.state.GetToken(job.Key)
	pages := 0

	for pages < m.maxPages {
		select {
		case <-ctx.Done():
			return syncerr.Cancelled(ctx.Err())
		default:
		}

		result, err := m.syncer.Sync(ctx, job.Resource, job.ResourceID, token)
		if err != nil {
			return err
		}

		stored := 0
		if m.sink != nil {
			stored, err = m.sink.Upsert(ctx, job.Resource.Name, job.ResourceID, result.RunID, result.Rows)
			if err != nil {
				return err
			}
		}

		log.Info().
			Str("job", job.Key).
			Str("run_id", result.RunID).
			Int("rows", len(result.Rows)).
			Int("stored", stored).
			Int("pages", result.Pages).
			Bool("more", result.Continuation != "").
			Msg("Batch synced")

		// Update token
		token = result.Continuation
		m.state.SetToken(job.Key, token)
		if err := m.state.Save(); err != nil {
			log.Warn().Err(err).Msg("Failed to save state")
		}

		pages += result.Pages
		if token == "" {
			break // Fully drained
		}
	}

	return nil
}
