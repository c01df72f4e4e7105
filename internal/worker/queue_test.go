package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Workers:     2,
		Size:        4,
		MaxAttempts: 3,
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

// waitFor ждёт выполнения условия не дольше timeout.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнилось за отведённое время")
}

func TestQueue_ProcessesTasks(t *testing.T) {
	q := NewQueue(testOptions(), testLogger())

	var mu sync.Mutex
	seen := map[string]bool{}
	q.Start(context.Background(), func(_ context.Context, task Task) error {
		mu.Lock()
		seen[task.FileID] = true
		mu.Unlock()
		return nil
	})
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		if !q.Enqueue(Task{Kind: "derivatives", FileID: id}) {
			t.Fatalf("Enqueue(%s) = false", id)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})
}

func TestQueue_RetriesUntilSuccess(t *testing.T) {
	q := NewQueue(testOptions(), testLogger())

	var calls atomic.Int32
	q.Start(context.Background(), func(_ context.Context, _ Task) error {
		if calls.Add(1) < 3 {
			return errors.New("временная ошибка")
		}
		return nil
	})
	defer q.Stop()

	q.Enqueue(Task{Kind: "derivatives", FileID: "a"})
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 3 })
}

func TestQueue_StopsAfterMaxAttempts(t *testing.T) {
	q := NewQueue(testOptions(), testLogger())

	var calls atomic.Int32
	done := make(chan struct{}, 1)
	q.Start(context.Background(), func(_ context.Context, task Task) error {
		if task.FileID == "marker" {
			done <- struct{}{}
			return nil
		}
		calls.Add(1)
		return errors.New("всегда ошибка")
	})
	defer q.Stop()

	q.Enqueue(Task{Kind: "derivatives", FileID: "a"})
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 3 })

	q.Enqueue(Task{Kind: "derivatives", FileID: "marker"})
	<-done
	if got := calls.Load(); got != 3 {
		t.Errorf("количество попыток = %d, ожидается 3", got)
	}
}

func TestQueue_PermanentErrorNotRetried(t *testing.T) {
	q := NewQueue(testOptions(), testLogger())

	var calls atomic.Int32
	q.Start(context.Background(), func(_ context.Context, _ Task) error {
		calls.Add(1)
		return Permanent(errors.New("битый файл"))
	})

	q.Enqueue(Task{Kind: "derivatives", FileID: "a"})
	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	q.Stop()

	if got := calls.Load(); got != 1 {
		t.Errorf("количество попыток = %d, ожидается 1", got)
	}
}

func TestQueue_PanicRecovered(t *testing.T) {
	q := NewQueue(testOptions(), testLogger())

	var ok atomic.Bool
	q.Start(context.Background(), func(_ context.Context, task Task) error {
		if task.FileID == "panic" {
			panic("сбой")
		}
		ok.Store(true)
		return nil
	})
	defer q.Stop()

	q.Enqueue(Task{Kind: "derivatives", FileID: "panic"})
	q.Enqueue(Task{Kind: "derivatives", FileID: "ok"})
	waitFor(t, 2*time.Second, ok.Load)
}

func TestQueue_EnqueueFull(t *testing.T) {
	opts := testOptions()
	opts.Size = 2
	q := NewQueue(opts, testLogger())
	// Воркеры не запущены, очередь только заполняется

	if !q.Enqueue(Task{FileID: "1"}) || !q.Enqueue(Task{FileID: "2"}) {
		t.Fatal("первые задачи должны помещаться в очередь")
	}
	if q.Enqueue(Task{FileID: "3"}) {
		t.Error("Enqueue() в заполненную очередь должен вернуть false")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, ожидается 2", q.Len())
	}
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	q := NewQueue(testOptions(), testLogger())
	q.Start(context.Background(), func(context.Context, Task) error { return nil })
	q.Stop()

	if q.Enqueue(Task{FileID: "a"}) {
		t.Error("Enqueue() после Stop должен вернуть false")
	}
}
