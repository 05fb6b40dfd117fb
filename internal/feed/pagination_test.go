package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"chatfeed/internal/metrics"
)

func loadedChannel(t *testing.T, loader *historyLoader) (*Channel, *recorder) {
	t.Helper()
	ch, rec := newTestChannel(t, loader, testOptions())
	ch.Resize(100)
	require.NoError(t, ch.LoadInitial(context.Background()))
	return ch, rec
}

func TestTryLoadOlderIsIdempotentWhileInFlight(t *testing.T) {
	loader := &historyLoader{history: history(300)}
	ch, _ := loadedChannel(t, loader)
	ch.OnScroll(0)

	fetch, ok := ch.TryLoadOlder()
	require.True(t, ok)
	snapshot := ch.State()
	require.Equal(t, StateLoadingOlder, snapshot.Pagination)
	require.True(t, snapshot.IsLoadingOlder)

	again, ok := ch.TryLoadOlder()
	require.False(t, ok)
	require.Nil(t, again)
	require.False(t, ch.ShouldLoadOlder())
	require.Equal(t, snapshot, ch.State())

	_, older := loader.calls()
	require.Zero(t, older)

	require.NoError(t, fetch(context.Background()))
	_, older = loader.calls()
	require.Equal(t, 1, older)
	require.Equal(t, 100, ch.State().Len)
}

func TestConcurrentTriggersFetchOnce(t *testing.T) {
	gate := make(chan struct{})
	loader := &historyLoader{history: history(300), gate: gate}
	ch, _ := loadedChannel(t, loader)
	ch.OnScroll(0)

	var started atomic.Int32
	errs := make(chan error, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ch.LoadOlder(context.Background())
			if ok {
				started.Add(1)
			}
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		_, older := loader.calls()
		return older == 1
	}, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, older := loader.calls()
	require.Equal(t, 1, older)
	require.EqualValues(t, 1, started.Load())
	require.Equal(t, 100, ch.State().Len)
}

func trueSize(id string) float64 {
	var n int
	fmt.Sscanf(id, "m%05d", &n)
	return 10 + float64(n%7)*3
}

// measureWindow plays the renderer: every item in the rendered range gets its
// real size.
func measureWindow(ch *Channel) {
	r, msgs := ch.Window()
	for i, item := range r.Items {
		ch.Measure(item.Index, trueSize(msgs[i].ID))
	}
}

func TestAnchorRestoredAcrossPrepend(t *testing.T) {
	ctx := context.Background()
	loader := &historyLoader{history: history(300)}
	ch, _ := newTestChannel(t, loader, testOptions())
	ch.Resize(200)
	require.NoError(t, ch.LoadInitial(ctx))

	for i, m := range ch.Messages() {
		ch.Measure(i, trueSize(m.ID))
	}
	require.True(t, ch.State().AtBottom)

	ch.OnScroll(37)
	r := ch.Range()
	anchorID := ch.Messages()[r.Start].ID
	rel := anchorTop(ch, anchorID)
	require.LessOrEqual(t, rel, 0.0)

	started, err := ch.LoadOlder(ctx)
	require.NoError(t, err)
	require.True(t, started)
	require.Equal(t, StateRestoringAnchor, ch.State().Pagination)
	require.True(t, ch.AwaitingLayout())

	measureWindow(ch)
	ch.LayoutSettled()
	require.Equal(t, StateEvicting, ch.State().Pagination)
	require.InDelta(t, rel, anchorTop(ch, anchorID), 1e-6)

	measureWindow(ch)
	require.InDelta(t, rel, anchorTop(ch, anchorID), 1e-6)

	ch.LayoutSettled()
	s := ch.State()
	require.Equal(t, StateIdle, s.Pagination)
	require.Equal(t, 100, s.Len)
	require.InDelta(t, rel, anchorTop(ch, anchorID), 1e-6)
	require.False(t, ch.AwaitingLayout())
}

func TestFetchFailureLeavesBufferAndAllowsRetry(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	loader := &historyLoader{history: history(300), olderErr: boom}
	ch, rec := loadedChannel(t, loader)
	ch.OnScroll(0)
	failed := metrics.FeedFetches.WithLabelValues("older", "error")
	succeeded := metrics.FeedFetches.WithLabelValues("older", "success")
	failedBefore, succeededBefore := testutil.ToFloat64(failed), testutil.ToFloat64(succeeded)

	started, err := ch.LoadOlder(ctx)
	require.True(t, started)
	require.ErrorIs(t, err, boom)
	require.Equal(t, failedBefore+1, testutil.ToFloat64(failed))

	var fetchErr *PaginationFetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, msgAt(250).ID, fetchErr.BeforeID)
	require.Equal(t, "general", fetchErr.ChannelID)

	s := ch.State()
	require.Equal(t, 50, s.Len)
	require.Equal(t, StateIdle, s.Pagination)
	require.False(t, s.IsLoadingOlder)
	require.True(t, s.HasMoreOlder)
	require.Equal(t, 0.0, s.Viewport.Offset)
	require.Error(t, ch.PaginationError())
	require.Equal(t, 1, rec.count(EventPaginationFailed))
	require.False(t, ch.ShouldLoadOlder(), "a failed fetch must not re-trigger on its own")

	loader.mu.Lock()
	loader.olderErr = nil
	loader.mu.Unlock()

	require.NoError(t, ch.Retry(ctx))
	require.Equal(t, 100, ch.State().Len)
	require.NoError(t, ch.PaginationError())
	require.ErrorIs(t, ch.Retry(ctx), ErrNoPaginationError)
	require.Equal(t, succeededBefore+1, testutil.ToFloat64(succeeded))
}

func TestPrependOfKnownMessagesReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	loader := &historyLoader{history: history(300), dupes: true}
	ch, rec := loadedChannel(t, loader)
	ch.OnScroll(0)
	rec.reset()

	started, err := ch.LoadOlder(ctx)
	require.NoError(t, err)
	require.True(t, started)

	s := ch.State()
	require.Equal(t, 50, s.Len)
	require.Equal(t, StateIdle, s.Pagination)
	require.True(t, s.HasMoreOlder)
	require.Zero(t, rec.count(EventScroll))
	require.Zero(t, rec.count(EventBufferChanged))
	require.True(t, ch.ShouldLoadOlder())
}

func TestReloadDiscardsInFlightPage(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	loader := &historyLoader{history: history(300), gate: gate}
	ch, _ := loadedChannel(t, loader)
	ch.OnScroll(0)

	fetch, ok := ch.TryLoadOlder()
	require.True(t, ok)
	done := make(chan error, 1)
	go func() { done <- fetch(ctx) }()

	require.Eventually(t, func() bool {
		_, older := loader.calls()
		return older == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ch.LoadInitial(ctx))
	close(gate)
	require.NoError(t, <-done)

	s := ch.State()
	require.Equal(t, 50, s.Len)
	require.Equal(t, StateIdle, s.Pagination)
	require.False(t, s.IsLoadingOlder)
	require.Equal(t, msgAt(250).ID, ch.Messages()[0].ID)

	ch.OnScroll(0)
	require.True(t, ch.ShouldLoadOlder())
}

func TestShouldLoadOlderNeedsSentinelInView(t *testing.T) {
	ch, _ := newTestChannel(t, &historyLoader{history: history(300)}, testOptions())
	require.False(t, ch.ShouldLoadOlder())
	_, ok := ch.TryLoadOlder()
	require.False(t, ok)

	ch.Resize(100)
	require.NoError(t, ch.LoadInitial(context.Background()))
	require.False(t, ch.ShouldLoadOlder())

	lookahead := float64(DefaultLookahead)
	status := ch.OnScroll(lookahead + 1)
	require.False(t, status.NearTop)
	require.False(t, ch.ShouldLoadOlder())

	status = ch.OnScroll(lookahead)
	require.True(t, status.NearTop)
	require.False(t, status.AtBottom)
	require.True(t, ch.ShouldLoadOlder())
}

func TestNothingOlderToLoad(t *testing.T) {
	loader := &historyLoader{history: history(30)}
	ch, _ := loadedChannel(t, loader)
	ch.OnScroll(0)

	require.False(t, ch.State().HasMoreOlder)
	require.False(t, ch.ShouldLoadOlder())

	started, err := ch.LoadOlder(context.Background())
	require.NoError(t, err)
	require.False(t, started)
	_, older := loader.calls()
	require.Zero(t, older)
}

func TestInitialLoadFailureKeepsPreviousContents(t *testing.T) {
	ctx := context.Background()
	loader := &historyLoader{history: history(300)}
	ch, rec := loadedChannel(t, loader)

	loader.mu.Lock()
	loader.initialErr = errors.New("offline")
	loader.mu.Unlock()

	err := ch.LoadInitial(ctx)
	var initErr *InitialLoadError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, 1, rec.count(EventInitialLoadFailed))

	s := ch.State()
	require.Equal(t, 50, s.Len)
	require.Error(t, s.InitialErr)
	require.False(t, s.LoadingInitial)

	loader.mu.Lock()
	loader.initialErr = nil
	loader.mu.Unlock()

	require.NoError(t, ch.LoadInitial(ctx))
	require.NoError(t, ch.State().InitialErr)
}
