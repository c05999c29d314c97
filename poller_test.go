package combivox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollerIntervalClamp(t *testing.T) {
	require.Equal(t, DefaultPollInterval, NewPoller(nil, 0).Interval())
	require.Equal(t, minPollInterval, NewPoller(nil, 100*time.Millisecond).Interval())
	require.Equal(t, maxPollInterval, NewPoller(nil, time.Hour).Interval())
	require.Equal(t, 30*time.Second, NewPoller(nil, 30*time.Second).Interval())
}

func TestPollerPublishesSnapshot(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)
	p := NewPoller(cli, time.Second)
	p.retries = 0

	_, _, ok := p.Latest()
	require.False(t, ok)

	p.cycle(context.Background())

	snap, available, ok := p.Latest()
	require.True(t, ok)
	require.True(t, available)
	require.Equal(t, StateDisarmed, snap.State)

	select {
	case u := <-p.Updates():
		require.True(t, u.Available)
		require.Equal(t, StateDisarmed, u.Snapshot.State)
	default:
		t.Fatal("expected a published update")
	}
}

func TestPollerUnavailableAfterConsecutiveFailures(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)
	p := NewPoller(cli, time.Second)
	p.retries = 0
	ctx := context.Background()

	p.cycle(ctx)
	_, available, _ := p.Latest()
	require.True(t, available)

	// undecodable blobs are failures, not stale publications
	panel.mu.Lock()
	panel.statusHex = "deadbeef"
	panel.mu.Unlock()

	p.cycle(ctx)
	p.cycle(ctx)
	snap, available, ok := p.Latest()
	require.True(t, ok)
	require.True(t, available, "two failures must not flip availability")
	require.Equal(t, StateDisarmed, snap.State)

	p.cycle(ctx)
	snap, available, ok = p.Latest()
	require.True(t, ok)
	require.False(t, available)
	// the last good snapshot survives the outage
	require.Equal(t, StateDisarmed, snap.State)

	// drain, then verify the unavailable publication is latest-wins
	u := <-p.Updates()
	require.False(t, u.Available)
	require.Equal(t, StateDisarmed, u.Snapshot.State)
}

func TestPollerRecovers(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)
	p := NewPoller(cli, time.Second)
	p.retries = 0
	ctx := context.Background()

	p.cycle(ctx)
	panel.mu.Lock()
	panel.statusHex = "deadbeef"
	panel.mu.Unlock()
	for i := 0; i < failureThreshold; i++ {
		p.cycle(ctx)
	}
	_, available, _ := p.Latest()
	require.False(t, available)

	panel.mu.Lock()
	panel.statusHex = testBlob(false).set(offState, byte(StateArming)).hex()
	panel.mu.Unlock()

	p.cycle(ctx)
	snap, available, ok := p.Latest()
	require.True(t, ok)
	require.True(t, available)
	require.Equal(t, StateArming, snap.State)

	u := <-p.Updates()
	require.True(t, u.Available)
	require.Equal(t, StateArming, u.Snapshot.State)
}

func TestPollerSerializesWithCommands(t *testing.T) {
	// the firmware cannot take concurrent requests, so poll cycles,
	// commands and the logins they trigger must hit the panel one at
	// a time
	panel := newFakePanel(testBlob(false).hex())
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		panel.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	cli := &Client{session: testSession(t, srv)}
	p := NewPoller(cli, time.Second)
	p.retries = 0
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.cycle(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cli.Bypass(ctx, 1); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(1), "panel requests must not overlap")
}

func TestPollerRunStopsWithContext(t *testing.T) {
	panel := newFakePanel(testBlob(false).hex())
	cli, _ := testClient(t, panel)
	p := NewPoller(cli, time.Second)
	p.retries = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case u := <-p.Updates():
		require.True(t, u.Available)
	case <-time.After(5 * time.Second):
		t.Fatal("poller never published")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}
