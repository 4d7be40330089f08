package driver

import (
	"time"

	"github.com/rs/zerolog"
)

// Run identifies one Sync call in emitted events
type Run struct {
	ID         string
	Resource   string
	ResourceID string
}

// PageEvent describes a successfully fetched page
type PageEvent struct {
	Number   int
	Items    int
	HasMore  bool
	HasToken bool
}

// RetryEvent describes a scheduled rate-limit retry
type RetryEvent struct {
	Attempt     int
	MaxAttempts int
	Wait        time.Duration
	Page        int
}

// Observer receives structured events at defined points of a sync
type Observer interface {
	PageFetched(run Run, page PageEvent)
	RetryScheduled(run Run, retry RetryEvent)
	ProtocolViolation(run Run, reason string)
	DuplicateRow(run Run, rowID string)
	SyncCompleted(run Run, result *Result, elapsed time.Duration)
	SyncFailed(run Run, err error)
}

// LogObserver writes events to a zerolog logger
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an observer that logs with the given logger
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "driver").Logger()}
}

func (o *LogObserver) with(run Run) *zerolog.Logger {
	l := o.logger.With().
		Str("run_id", run.ID).
		Str("resource", run.Resource).
		Str("resource_id", run.ResourceID).
		Logger()
	return &l
}

func (o *LogObserver) PageFetched(run Run, page PageEvent) {
	o.with(run).Debug().
		Int("page", page.Number).
		Int("items", page.Items).
		Bool("has_more", page.HasMore).
		Bool("has_token", page.HasToken).
		Msg("Page fetched")
}

func (o *LogObserver) RetryScheduled(run Run, retry RetryEvent) {
	o.with(run).Warn().
		Int("page", retry.Page).
		Int("attempt", retry.Attempt).
		Int("max_attempts", retry.MaxAttempts).
		Dur("wait", retry.Wait).
		Msg("Rate limited, retry scheduled")
}

func (o *LogObserver) ProtocolViolation(run Run, reason string) {
	o.with(run).Warn().Str("reason", reason).Msg("Pagination stopped early")
}

func (o *LogObserver) DuplicateRow(run Run, rowID string) {
	o.with(run).Warn().Str("row_id", rowID).Msg("Duplicate row dropped")
}

func (o *LogObserver) SyncCompleted(run Run, result *Result, elapsed time.Duration) {
	o.with(run).Info().
		Int("rows", len(result.Rows)).
		Int("pages", result.Pages).
		Int("retries", result.Retries).
		Bool("has_continuation", result.Continuation != "").
		Dur("elapsed", elapsed).
		Msg("Sync completed")
}

func (o *LogObserver) SyncFailed(run Run, err error) {
	o.with(run).Error().Err(err).Msg("Sync failed")
}
