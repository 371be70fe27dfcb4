package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/types"
)

type countingMetrics struct {
	types.NoopMetrics
	hits, misses, dedups, refetches, ok, failed int
}

func (m *countingMetrics) Hit()            { m.hits++ }
func (m *countingMetrics) Miss()           { m.misses++ }
func (m *countingMetrics) Dedup()          { m.dedups++ }
func (m *countingMetrics) Refetch()        { m.refetches++ }
func (m *countingMetrics) FetchSucceeded() { m.ok++ }
func (m *countingMetrics) FetchFailed()    { m.failed++ }

func newTestEngine() (*CacheEngine, *clock.Fake, *countingMetrics) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := &countingMetrics{}
	return NewCacheEngine(nil, clk, m, nil), clk, m
}

func begin(e *CacheEngine, ent *types.Entry, force bool, staleTime time.Duration) (Decision, bool) {
	var d Decision
	changed := e.Begin(force, staleTime, func(got Decision) { d = got })(ent)
	return d, changed
}

func TestBeginOnEmptyEntryStartsLoading(t *testing.T) {
	e, _, m := newTestEngine()
	ent := types.Idle(key.MustCanonicalize("pokemon"))

	d, changed := begin(e, &ent, false, time.Minute)
	assert.Equal(t, Start, d)
	assert.True(t, changed)
	assert.Equal(t, types.StatusLoading, ent.Status)
	assert.True(t, ent.IsFetching)
	assert.Equal(t, 1, m.misses)
}

func TestBeginAttachesToOutstandingFetch(t *testing.T) {
	e, _, m := newTestEngine()
	ent := types.Entry{Status: types.StatusLoading, IsFetching: true}

	d, changed := begin(e, &ent, true, 0)
	assert.Equal(t, Attach, d)
	assert.False(t, changed)
	assert.Equal(t, 1, m.dedups)
}

func TestBeginSkipsFreshData(t *testing.T) {
	e, clk, m := newTestEngine()
	ent := types.Entry{Status: types.StatusSuccess, Data: 1, UpdatedAt: clk.Now()}

	clk.Advance(4 * time.Second)
	d, _ := begin(e, &ent, false, 5*time.Second)
	assert.Equal(t, Skip, d)
	assert.Equal(t, 1, m.hits)

	d, _ = begin(e, &ent, true, 5*time.Second)
	assert.Equal(t, Start, d)
	assert.Equal(t, 1, m.refetches)
}

func TestBackgroundRefetchKeepsDataAndStatus(t *testing.T) {
	e, clk, _ := newTestEngine()
	prevErr := errors.New("old")
	ent := types.Entry{Status: types.StatusSuccess, Data: "stale", UpdatedAt: clk.Now(), Error: prevErr}

	clk.Advance(time.Hour)
	d, _ := begin(e, &ent, false, time.Minute)
	require.Equal(t, Start, d)
	assert.Equal(t, types.StatusSuccess, ent.Status)
	assert.Equal(t, "stale", ent.Data)
	assert.Equal(t, prevErr, ent.Error)
	assert.True(t, ent.IsFetching)
}

func TestSettleSuccessAndFailure(t *testing.T) {
	e, clk, _ := newTestEngine()
	k := key.MustCanonicalize("pokemon")
	ent := types.Entry{Key: k, Status: types.StatusLoading, IsFetching: true}

	e.Settle(nil, errors.New("Test error"))(&ent)
	assert.Equal(t, types.StatusError, ent.Status)
	assert.Equal(t, "Test error", ent.Error.Error())
	assert.Nil(t, ent.Data)
	assert.False(t, ent.IsFetching)

	var fe *types.FetchError
	require.ErrorAs(t, ent.Error, &fe)
	assert.Equal(t, k, fe.Key)

	ent.IsFetching = true
	clk.Advance(time.Second)
	e.Settle("data", nil)(&ent)
	assert.Equal(t, types.StatusSuccess, ent.Status)
	assert.Equal(t, "data", ent.Data)
	assert.Nil(t, ent.Error)
	assert.Equal(t, clk.Now(), ent.UpdatedAt)
	assert.Equal(t, 1, ent.DataUpdateCount)
	assert.Equal(t, 1, ent.ErrorUpdateCount)
}

func TestSeedOnlyTouchesNeverFetchedEntries(t *testing.T) {
	e, clk, _ := newTestEngine()
	at := clk.Now().Add(-time.Minute)

	ent := types.Idle(key.MustCanonicalize([]any{"post", 1}))
	assert.True(t, e.Seed(types.Seed{Data: "seed", UpdatedAt: at})(&ent))
	assert.Equal(t, types.StatusSuccess, ent.Status)
	assert.Equal(t, at, ent.UpdatedAt)

	assert.False(t, e.Seed(types.Seed{Data: "other"})(&ent))
	assert.Equal(t, "seed", ent.Data)

	fresh := types.Idle(key.MustCanonicalize([]any{"post", 2}))
	e.Seed(types.Seed{Data: "now"})(&fresh)
	assert.Equal(t, clk.Now(), fresh.UpdatedAt)
}

func TestWriteAndInvalidate(t *testing.T) {
	e, _, _ := newTestEngine()
	ent := types.Idle(key.MustCanonicalize("counter"))

	e.Write(func(old any) any {
		if old == nil {
			return 1
		}
		return old.(int) + 1
	})(&ent)
	assert.Equal(t, 1, ent.Data)
	assert.True(t, ent.IsSuccess())

	assert.True(t, e.Invalidate()(&ent))
	assert.False(t, e.Invalidate()(&ent))
	assert.True(t, ent.IsInvalidated)
}

func TestInvalidateSkipsNeverFetchedEntries(t *testing.T) {
	e, _, _ := newTestEngine()
	ent := types.Idle(key.MustCanonicalize("posts"))

	assert.False(t, e.Invalidate()(&ent))
	assert.False(t, ent.IsInvalidated)

	failed := types.Entry{Status: types.StatusError, Error: errors.New("boom")}
	assert.True(t, e.Invalidate()(&failed))
}

func TestRunRecoversPanics(t *testing.T) {
	e, _, m := newTestEngine()
	k := key.MustCanonicalize("pokemon")

	_, err := e.Run(context.Background(), k, func(context.Context, key.Key) (any, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 1, m.failed)

	v, err := e.Run(context.Background(), k, func(context.Context, key.Key) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, m.ok)
}
