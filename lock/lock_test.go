package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/babi2707/segmark/types"
)

func TestKey(t *testing.T) {
	if got := Key(types.KindMarkers, types.ByImageID(42)); got != "markers:image:42" {
		t.Errorf("Key = %q", got)
	}
	if got := Key(types.KindSegmentation, types.ByFilename("a.png")); got != "segmentation:file:a.png" {
		t.Errorf("Key = %q", got)
	}
}

func TestMemory_RejectsSecondHolder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, "markers:image:1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := m.TryAcquire(ctx, "markers:image:1"); !errors.Is(err, types.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	// Different key is independent
	other, err := m.TryAcquire(ctx, "segmentation:image:1")
	if err != nil {
		t.Fatalf("independent key: %v", err)
	}
	other()

	release()
	release()
	if m.Held("markers:image:1") {
		t.Error("key still held after release")
	}
	again, err := m.TryAcquire(ctx, "markers:image:1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory().TryAcquire(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemory_ConcurrentSingleWinner(t *testing.T) {
	m := NewMemory()
	const contenders = 50

	var wins, busy atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	releases := make(chan Release, contenders)

	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := m.TryAcquire(context.Background(), "markers:image:7")
			switch {
			case err == nil:
				wins.Add(1)
				releases <- release
			case errors.Is(err, types.ErrBusy):
				busy.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(releases)
	for r := range releases {
		r()
	}

	if wins.Load() != 1 || busy.Load() != contenders-1 {
		t.Errorf("wins=%d busy=%d", wins.Load(), busy.Load())
	}
}

func TestNop(t *testing.T) {
	var l Locker = Nop{}
	a, err := l.TryAcquire(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.TryAcquire(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	a()
	b()
}
