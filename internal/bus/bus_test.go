package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rustyonions/ron-core/internal/busevent"
)

func TestPublishOrderSingleSubscriber(t *testing.T) {
	b := New(16)
	r := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish(busevent.Health("svc", true))
	}

	for i := 0; i < 5; i++ {
		ev, lag, ok := r.TryRecv()
		require.True(t, ok)
		require.Nil(t, lag)
		require.Equal(t, busevent.KindHealth, ev.Kind)
	}
	_, _, ok := r.TryRecv()
	require.False(t, ok)
}

func TestLagReportsExactSkipCount(t *testing.T) {
	b := New(4)
	r := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Publish(busevent.ConfigUpdated(uint64(i)))
	}

	_, lag, ok := r.TryRecv()
	require.True(t, ok)
	require.NotNil(t, lag)
	lagged, isLag := lag.(*Lagged)
	require.True(t, isLag)
	// Ring capacity 4, 10 published: receiver starts at cursor 0, ring
	// only retains the last 4, so the gap is 10-4 = 6 skipped events.
	require.Equal(t, uint64(6), lagged.Delta)
}

func TestPublishManyEquivalentToIndividualPublishes(t *testing.T) {
	b1 := New(32)
	r1 := b1.Subscribe()
	batch := []busevent.Event{
		busevent.Health("a", true),
		busevent.Health("b", false),
		busevent.ConfigUpdated(3),
	}
	b1.PublishMany(batch)

	b2 := New(32)
	r2 := b2.Subscribe()
	for _, ev := range batch {
		b2.Publish(ev)
	}

	for i := range batch {
		e1, _, ok1 := r1.TryRecv()
		e2, _, ok2 := r2.TryRecv()
		require.True(t, ok1)
		require.True(t, ok2)
		require.Equal(t, e2.Kind, e1.Kind, "index %d", i)
	}
}

func TestNoReceiversIsNotAnError(t *testing.T) {
	b := New(8)
	n := b.Publish(busevent.Shutdown())
	require.Equal(t, 0, n)
}

func TestSubscriberCapEnforced(t *testing.T) {
	b := New(8)
	defer func() {
		r := recover()
		require.NotNil(t, r)
	}()
	for i := 0; i <= MaxSubscribers; i++ {
		b.Subscribe()
	}
}

func TestConcurrentPublishersDoNotCorruptSlots(t *testing.T) {
	const publishers = 8
	const perPublisher = 200
	b := New(64)
	r := b.Subscribe()

	var wg sync.WaitGroup
	wg.Add(publishers)
	for p := 0; p < publishers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(busevent.ConfigUpdated(uint64(p*perPublisher + i)))
			}
		}(p)
	}
	wg.Wait()

	seen := 0
	for {
		ev, lag, ok := r.TryRecv()
		if !ok {
			break
		}
		if lag != nil {
			continue
		}
		require.Equal(t, busevent.KindConfigUpdated, ev.Kind)
		seen++
	}
	require.Greater(t, seen, 0)
}

func TestRunDrainLoopDeliversAllEvents(t *testing.T) {
	b := New(64)
	r := b.Subscribe()
	done := make(chan struct{})
	received := make(chan *busevent.Event, 32)

	go r.RunDrainLoop(done, func(ev *busevent.Event, lag error) {
		if ev != nil {
			received <- ev
		}
	})

	for i := 0; i < 20; i++ {
		b.Publish(busevent.Health("svc", true))
	}

	for i := 0; i < 20; i++ {
		<-received
	}
	close(done)
}
