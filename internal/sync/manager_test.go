package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsync/internal/config"
	"eventsync/internal/driver"
	"eventsync/internal/mapper"
	"eventsync/internal/syncerr"
)

type call struct {
	resource string
	id       string
	token    string
}

// fakeSyncer hands out pages keyed by token, one step per call
type fakeSyncer struct {
	steps map[string]*driver.Result
	errs  map[string]error
	calls []call
}

func (f *fakeSyncer) Sync(_ context.Context, res driver.Resource, id, token string) (*driver.Result, error) {
	f.calls = append(f.calls, call{resource: res.Name, id: id, token: token})
	if err, ok := f.errs[token]; ok {
		return nil, err
	}
	return f.steps[token], nil
}

type fakeSink struct {
	rows []string
	err  error
}

func (s *fakeSink) Upsert(_ context.Context, _, _, _ string, rows []mapper.Row) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	for _, r := range rows {
		s.rows = append(s.rows, r.RowID())
	}
	return len(rows), nil
}

func result(next string, ids ...string) *driver.Result {
	rows := make([]mapper.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, &mapper.Registration{ID: id, Name: mapper.UnknownAttendee})
	}
	return &driver.Result{Rows: rows, Continuation: next, Pages: 1, RunID: "run-" + next}
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		State: config.StateConfig{Path: filepath.Join(t.TempDir(), "state.json")},
		Sync:  config.SyncConfig{IntervalSeconds: 60, MaxPagesPerCycle: 10},
	}
}

func TestManager_DrainsAcrossSteps(t *testing.T) {
	cfg := testConfig(t)
	syncer := &fakeSyncer{steps: map[string]*driver.Result{
		"":   result("t2", "1", "2"),
		"t2": result("t3", "3"),
		"t3": result("", "4"),
	}}
	sink := &fakeSink{}

	m := NewManager(syncer, cfg)
	m.SetSink(sink)
	require.NoError(t, m.AddJob(config.JobConfig{Resource: "attendees", ID: "42"}))

	require.NoError(t, m.RunOnce(context.Background()))
	assert.Equal(t, []string{"1", "2", "3", "4"}, sink.rows)
	require.Len(t, syncer.calls, 3)
	assert.Equal(t, "t3", syncer.calls[2].token)
	assert.Equal(t, "attendees", syncer.calls[0].resource)

	// Drained jobs start over from the beginning
	assert.Empty(t, m.state.GetToken("attendees:42"))
}

func TestManager_StopsAtPageBudgetAndResumes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.MaxPagesPerCycle = 2
	syncer := &fakeSyncer{steps: map[string]*driver.Result{
		"":   result("t2", "1"),
		"t2": result("t3", "2"),
		"t3": result("", "3"),
	}}

	m := NewManager(syncer, cfg)
	require.NoError(t, m.AddJob(config.JobConfig{Resource: "attendees", ID: "42"}))
	require.NoError(t, m.RunOnce(context.Background()))
	assert.Len(t, syncer.calls, 2)

	// A fresh manager picks up the saved token
	again := NewManager(syncer, cfg)
	require.NoError(t, again.AddJob(config.JobConfig{Resource: "attendees", ID: "42"}))
	require.NoError(t, again.RunOnce(context.Background()))
	assert.Equal(t, "t3", syncer.calls[2].token)
}

func TestManager_FailureKeepsToken(t *testing.T) {
	cfg := testConfig(t)
	syncer := &fakeSyncer{
		steps: map[string]*driver.Result{"": result("t2", "1")},
		errs:  map[string]error{"t2": syncerr.New(syncerr.KindRateLimitExceeded, "slow down")},
	}

	m := NewManager(syncer, cfg)
	require.NoError(t, m.AddJob(config.JobConfig{Resource: "events", ID: "7"}))

	err := m.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, syncerr.IsKind(err, syncerr.KindRateLimitExceeded))
	assert.Contains(t, err.Error(), "events:7")
	assert.Equal(t, "t2", m.state.GetToken("events:7"))
}

func TestManager_SinkFailureKeepsToken(t *testing.T) {
	cfg := testConfig(t)
	syncer := &fakeSyncer{steps: map[string]*driver.Result{"": result("t2", "1")}}

	m := NewManager(syncer, cfg)
	m.SetSink(&fakeSink{err: errors.New("disk full")})
	require.NoError(t, m.AddJob(config.JobConfig{Resource: "attendees", ID: "42"}))

	require.Error(t, m.RunOnce(context.Background()))
	assert.Empty(t, m.state.GetToken("attendees:42"))
}

func TestManager_UnknownResource(t *testing.T) {
	m := NewManager(&fakeSyncer{}, testConfig(t))
	err := m.AddJob(config.JobConfig{Resource: "orders", ID: "1"})
	require.Error(t, err)
	assert.True(t, syncerr.IsKind(err, syncerr.KindInvalidArgument))
}

func TestManager_InvalidJobID(t *testing.T) {
	m := NewManager(&fakeSyncer{}, testConfig(t))
	err := m.AddJob(config.JobConfig{Resource: "events", ID: "https://www.w3.org/events/"})
	require.Error(t, err)
	assert.True(t, syncerr.IsKind(err, syncerr.KindInvalidArgument))
}

func TestManager_NormalizesJobID(t *testing.T) {
	cfg := testConfig(t)
	syncer := &fakeSyncer{steps: map[string]*driver.Result{"": result("", "1")}}
	m := NewManager(syncer, cfg)
	require.NoError(t, m.AddJob(config.JobConfig{Resource: "attendees", ID: "https://www.example.com/e/meetup-4242"}))

	require.NoError(t, m.RunOnce(context.Background()))
	require.Len(t, syncer.calls, 1)
	assert.Equal(t, "4242", syncer.calls[0].id)
}

func TestManager_CancelledBetweenSteps(t *testing.T) {
	cfg := testConfig(t)
	syncer := &fakeSyncer{steps: map[string]*driver.Result{"": result("t2", "1")}}
	m := NewManager(syncer, cfg)
	require.NoError(t, m.AddJob(config.JobConfig{Resource: "attendees", ID: "42"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, syncerr.IsKind(err, syncerr.KindCancelled), err.Error())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, syncer.calls)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	syncer := &fakeSyncer{steps: map[string]*driver.Result{"": result("", "1")}}
	m := NewManager(syncer, cfg)
	require.NoError(t, m.AddJob(config.JobConfig{Resource: "attendees", ID: "42"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestState_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir", "state.json")

	s := NewState(path)
	require.NoError(t, s.Load())
	s.SetToken("attendees:1", "abc")
	s.SetToken("events:2", "def")
	s.SetToken("events:2", "")
	require.NoError(t, s.Save())

	loaded := NewState(path)
	require.NoError(t, loaded.Load())
	assert.Equal(t, "abc", loaded.GetToken("attendees:1"))
	assert.Empty(t, loaded.GetToken("events:2"))
}
