// Package driver drains paginated Source API listings into normalized rows.
//
// A Driver fetches pages strictly in sequence, retries rate-limited pages with
// a per-page budget, and either drains every page or hands back a continuation
// token after one page, depending on its Mode.
package driver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"eventsync/internal/mapper"
	"eventsync/internal/source"
	"eventsync/internal/syncerr"
)

// Mode selects how much work one Sync call does
type Mode string

const (
	// FullDrain loops until the listing reports no more items
	FullDrain Mode = "full_drain"
	// SinglePage returns after one page with the continuation token
	SinglePage Mode = "single_page"
)

// DefaultMaxAttempts is the rate-limit retry budget per page
const DefaultMaxAttempts = 3

// Fetcher issues one request for one page
type Fetcher interface {
	Fetch(ctx context.Context, path, itemsKey, token string) (*source.Outcome, error)
}

// WaitFunc suspends for d or until ctx ends
type WaitFunc func(ctx context.Context, d time.Duration) error

// Options configures a Driver
type Options struct {
	Mode        Mode
	MaxAttempts int

	// MaxPages bounds a full drain; the remaining token is handed back. 0 means no bound.
	MaxPages int

	Observer Observer
	Wait     WaitFunc
}

// Result is the outcome of one Sync call.
// An empty Continuation means the listing is fully drained.
type Result struct {
	Rows         []mapper.Row `json:"rows"`
	Continuation string       `json:"continuation,omitempty"`
	Pages        int          `json:"pages"`
	Retries      int          `json:"retries"`
	RunID        string       `json:"runId"`
}

// Driver runs sync steps against a Fetcher
type Driver struct {
	fetcher Fetcher
	opts    Options
}

// New creates a driver
func New(fetcher Fetcher, opts Options) *Driver {
	if opts.Mode == "" {
		opts.Mode = FullDrain
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Observer == nil {
		opts.Observer = NewLogObserver(log.Logger)
	}
	if opts.Wait == nil {
		opts.Wait = sleepContext
	}
	return &Driver{fetcher: fetcher, opts: opts}
}

// Mode returns the configured mode
func (d *Driver) Mode() Mode {
	return d.opts.Mode
}

// Sync fetches res for resourceID starting at startToken (empty for the beginning).
// On failure no rows are returned.
func (d *Driver) Sync(ctx context.Context, res Resource, resourceID, startToken string) (*Result, error) {
	id, err := ExtractID(resourceID)
	if err != nil {
		return nil, err
	}
	if res.Map == nil || res.ItemsKey == "" {
		return nil, syncerr.New(syncerr.KindInvalidArgument, "resource %q is not fully described", res.Name)
	}

	run := Run{ID: uuid.NewString(), Resource: res.Name, ResourceID: id}
	path := res.Path(id)
	started := time.Now()

	result := &Result{RunID: run.ID}
	seenTokens := map[string]bool{}
	seenRows := map[string]bool{}
	token := startToken

	fail := func(err error) (*Result, error) {
		d.opts.Observer.SyncFailed(run, err)
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(syncerr.Cancelled(err))
		}

		seenTokens[token] = true
		page, retries, err := d.fetchPage(ctx, run, path, res.ItemsKey, token, result.Pages+1)
		result.Retries += retries
		if err != nil {
			return fail(err)
		}
		result.Pages++

		for _, raw := range page.Items {
			row, err := res.Map(raw)
			if err != nil {
				return fail(syncerr.Wrap(err, syncerr.KindProtocol, "map item"))
			}
			if seenRows[row.RowID()] {
				d.opts.Observer.DuplicateRow(run, row.RowID())
				continue
			}
			seenRows[row.RowID()] = true
			result.Rows = append(result.Rows, row)
		}

		d.opts.Observer.PageFetched(run, PageEvent{
			Number:   result.Pages,
			Items:    len(page.Items),
			HasMore:  page.HasMore,
			HasToken: page.NextToken != "",
		})

		if !page.HasMore {
			break
		}
		if page.NextToken == "" {
			d.opts.Observer.ProtocolViolation(run, "more items reported without a continuation token")
			break
		}
		if seenTokens[page.NextToken] {
			d.opts.Observer.ProtocolViolation(run, "continuation token repeated")
			break
		}
		if d.opts.Mode == SinglePage || (d.opts.MaxPages > 0 && result.Pages >= d.opts.MaxPages) {
			result.Continuation = page.NextToken
			break
		}
		token = page.NextToken
	}

	d.opts.Observer.SyncCompleted(run, result, time.Since(started))
	return result, nil
}

// retryState is the rate-limit budget of one page
type retryState struct {
	attempt     int
	maxAttempts int
}

// fetchPage fetches one page, retrying only rate-limited responses.
// It returns the number of retries spent.
func (d *Driver) fetchPage(ctx context.Context, run Run, path, itemsKey, token string, pageNum int) (*source.Page, int, error) {
	state := retryState{maxAttempts: d.opts.MaxAttempts}

	for {
		out, err := d.fetcher.Fetch(ctx, path, itemsKey, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, state.attempt, syncerr.Cancelled(ctx.Err())
			}
			return nil, state.attempt, syncerr.Wrap(err, syncerr.KindSourceAPI, "fetch page")
		}

		switch out.Kind {
		case source.Success:
			if out.Page == nil {
				return nil, state.attempt, syncerr.New(syncerr.KindProtocol, "success without a page")
			}
			return out.Page, state.attempt, nil

		case source.RateLimited:
			if state.attempt >= state.maxAttempts {
				return nil, state.attempt, syncerr.New(syncerr.KindRateLimitExceeded,
					"still rate limited after %d retries on page %d", state.attempt, pageNum)
			}
			state.attempt++
			d.opts.Observer.RetryScheduled(run, RetryEvent{
				Attempt:     state.attempt,
				MaxAttempts: state.maxAttempts,
				Wait:        out.RetryAfter,
				Page:        pageNum,
			})
			if err := d.opts.Wait(ctx, out.RetryAfter); err != nil {
				return nil, state.attempt, syncerr.Cancelled(err)
			}

		case source.HardFailure:
			return nil, state.attempt, syncerr.SourceAPI(out.StatusCode, out.Message)

		default:
			return nil, state.attempt, syncerr.New(syncerr.KindProtocol, "unexpected outcome %s", out.Kind)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
