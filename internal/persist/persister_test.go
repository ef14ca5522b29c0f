package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/logtide/logtide/internal/errors"
	"github.com/logtide/logtide/internal/event"
	"github.com/logtide/logtide/internal/metrics"
	"github.com/logtide/logtide/internal/queue"
)

// stubStore lets tests inject failures ahead of successful inserts.
type stubStore struct {
	mu       sync.Mutex
	batches  []*event.Batch
	failures int
	failWith error
}

func (s *stubStore) InsertBatch(_ context.Context, b *event.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return s.failWith
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *stubStore) Close() error { return nil }

func (s *stubStore) stored() []*event.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.Batch(nil), s.batches...)
}

func testBatch(ids ...string) *event.Batch {
	b := &event.Batch{}
	for _, id := range ids {
		b.Events = append(b.Events, &event.Event{
			ID:        id,
			Level:     event.LevelInfo,
			Message:   "m",
			Timestamp: "2026-08-31T10:00:00Z",
			Service:   "svc",
		})
	}
	return b
}

func fastOptions() Options {
	return Options{MaxRetries: 3, InitialBackoff: time.Millisecond}
}

func runPersister(t *testing.T, p *Persister) {
	t.Helper()
	go p.Run(context.Background())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("persister did not drain in time")
	}
}

func TestPersister_DrainsQueueInOrder(t *testing.T) {
	q := queue.New(8)
	store := &stubStore{}
	p := New(q, store, nil, metrics.New(), zerolog.Nop(), fastOptions())

	ctx := context.Background()
	if err := q.Enqueue(ctx, testBatch("a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, testBatch("c")); err != nil {
		t.Fatal(err)
	}
	q.Close()

	runPersister(t, p)

	got := store.stored()
	if len(got) != 2 {
		t.Fatalf("persisted %d batches, want 2", len(got))
	}
	if got[0].Events[0].ID != "a" || got[1].Events[0].ID != "c" {
		t.Errorf("batches persisted out of order: %v, %v", got[0].Events[0].ID, got[1].Events[0].ID)
	}
}

func TestPersister_RetriesTransientFailure(t *testing.T) {
	q := queue.New(1)
	store := &stubStore{
		failures: 2,
		failWith: errors.NewStorageError(errors.CodeInsertFailed, "disk hiccup", nil),
	}
	m := metrics.New()
	p := New(q, store, nil, m, zerolog.Nop(), fastOptions())

	if err := q.Enqueue(context.Background(), testBatch("r1")); err != nil {
		t.Fatal(err)
	}
	q.Close()

	runPersister(t, p)

	if got := store.stored(); len(got) != 1 {
		t.Fatalf("persisted %d batches, want 1 after retries", len(got))
	}
}

func TestPersister_PermanentErrorSkipsRetries(t *testing.T) {
	q := queue.New(1)
	// Schema failures are not retryable; the stub would succeed on the
	// second call, so any retry makes this test fail.
	store := &stubStore{
		failures: 1,
		failWith: errors.NewStorageError(errors.CodeSchemaFailed, "schema broken", nil),
	}
	p := New(q, store, nil, metrics.New(), zerolog.Nop(), fastOptions())

	if err := q.Enqueue(context.Background(), testBatch("p1")); err != nil {
		t.Fatal(err)
	}
	q.Close()

	runPersister(t, p)

	if got := store.stored(); len(got) != 0 {
		t.Fatalf("persisted %d batches, want 0 (permanent error must not retry)", len(got))
	}
}

func TestPersister_DeadLettersExhaustedBatch(t *testing.T) {
	dir := t.TempDir()
	dlq, err := NewDLQ(dir, time.Hour, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	q := queue.New(1)
	store := &stubStore{
		failures: 100,
		failWith: errors.NewStorageError(errors.CodeTxFailed, "db down", nil),
	}
	p := New(q, store, dlq, metrics.New(), zerolog.Nop(), fastOptions())

	if err := q.Enqueue(context.Background(), testBatch("dead-1", "dead-2")); err != nil {
		t.Fatal(err)
	}
	q.Close()
	runPersister(t, p)

	files, err := dlq.files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("dead-letter dir has %d files, want 1", len(files))
	}

	// A fresh persister over a healthy store replays the file on start.
	q2 := queue.New(1)
	q2.Close()
	healthy := &stubStore{}
	m2 := metrics.New()
	p2 := New(q2, healthy, dlq, m2, zerolog.Nop(), fastOptions())
	runPersister(t, p2)

	got := healthy.stored()
	if len(got) != 1 || got[0].Len() != 2 {
		t.Fatalf("replay stored %v, want one batch of 2 events", got)
	}
	files, _ = dlq.files()
	if len(files) != 0 {
		t.Errorf("dead-letter file not removed after successful replay")
	}

	// Replayed batches count toward the persistence totals.
	if n := testutil.ToFloat64(m2.BatchesReplayed); n != 1 {
		t.Errorf("batches replayed counter = %v, want 1", n)
	}
	if n := testutil.ToFloat64(m2.BatchesPersisted); n != 1 {
		t.Errorf("batches persisted counter = %v, want 1", n)
	}
	if n := testutil.ToFloat64(m2.EventsPersisted); n != 2 {
		t.Errorf("events persisted counter = %v, want 2", n)
	}
}

func TestPersister_SweepsWhileRunning(t *testing.T) {
	dir := t.TempDir()
	dlq, err := NewDLQ(dir, time.Hour, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// A valid dead-letter file whose timestamp prefix predates the TTL;
	// the failing store keeps the startup replay from consuming it, so
	// only the periodic sweep can remove it.
	if err := dlq.Store(testBatch("expired")); err != nil {
		t.Fatal(err)
	}
	files, err := dlq.files()
	if err != nil || len(files) != 1 {
		t.Fatalf("files = %v, %v", files, err)
	}
	oldName := fmt.Sprintf("%d_00000000%s", time.Now().Add(-2*time.Hour).Unix(), dlqSuffix)
	if err := os.Rename(files[0].path, filepath.Join(dir, oldName)); err != nil {
		t.Fatal(err)
	}

	q := queue.New(1)
	down := &stubStore{
		failures: 1 << 30,
		failWith: errors.NewStorageError(errors.CodeTxFailed, "db down", nil),
	}
	opts := fastOptions()
	opts.SweepInterval = 5 * time.Millisecond
	p := New(q, down, dlq, metrics.New(), zerolog.Nop(), opts)
	go p.Run(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for {
		files, _ := dlq.files()
		if len(files) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired dead-letter file not swept while running")
		}
		time.Sleep(5 * time.Millisecond)
	}

	q.Close()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("persister did not stop after queue close")
	}
}

func TestPersister_ContinuesAfterFailure(t *testing.T) {
	q := queue.New(4)
	store := &stubStore{
		failures: 1,
		failWith: errors.NewStorageError(errors.CodeSchemaFailed, "bad batch", nil),
	}
	p := New(q, store, nil, metrics.New(), zerolog.Nop(), fastOptions())

	ctx := context.Background()
	if err := q.Enqueue(ctx, testBatch("lost")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, testBatch("kept")); err != nil {
		t.Fatal(err)
	}
	q.Close()

	runPersister(t, p)

	got := store.stored()
	if len(got) != 1 || got[0].Events[0].ID != "kept" {
		t.Fatalf("one failed batch must not stall the loop, stored %v", got)
	}
}
