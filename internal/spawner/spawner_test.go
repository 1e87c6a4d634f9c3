package spawner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// fakeQueue is an in-memory queueBackend so Submit's back-pressure logic can
// be exercised without a live Redis instance.
type fakeQueue struct {
	items map[string][][]byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{items: make(map[string][][]byte)}
}

func (q *fakeQueue) Push(_ context.Context, butler string, payload []byte) error {
	q.items[butler] = append(q.items[butler], payload)
	return nil
}

func (q *fakeQueue) Pop(_ context.Context, butler string, _ time.Duration) ([]byte, error) {
	items := q.items[butler]
	if len(items) == 0 {
		return nil, errors.New("empty")
	}
	item := items[0]
	q.items[butler] = items[1:]
	return item, nil
}

func (q *fakeQueue) Depth(_ context.Context, butler string) (int64, error) {
	return int64(len(q.items[butler])), nil
}

func TestSubmitEnqueuesUnderDepthLimit(t *testing.T) {
	q := newFakeQueue()
	s := New(q, nil, nil, nil)
	s.Register(ButlerConfig{Butler: "health", MaxQueueDepth: 2})

	id, err := s.Submit(context.Background(), "health", "ingress", "log weight", "req-1", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty session id")
	}
	depth, _ := q.Depth(context.Background(), "health")
	if depth != 1 {
		t.Fatalf("expected queue depth 1, got %d", depth)
	}
}

func TestSubmitNonBlockingFailsFastWhenFull(t *testing.T) {
	q := newFakeQueue()
	s := New(q, nil, nil, nil)
	s.Register(ButlerConfig{Butler: "health", MaxQueueDepth: 1})

	if _, err := s.Submit(context.Background(), "health", "ingress", "first", "req-1", false); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := s.Submit(context.Background(), "health", "ingress", "second", "req-2", false)
	if !errors.Is(err, errQueueFull) {
		t.Fatalf("expected errQueueFull, got %v", err)
	}
}

func TestSubmitBlockingIgnoresDepthLimit(t *testing.T) {
	q := newFakeQueue()
	s := New(q, nil, nil, nil)
	s.Register(ButlerConfig{Butler: "health", MaxQueueDepth: 1})

	if _, err := s.Submit(context.Background(), "health", "ingress", "first", "req-1", true); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := s.Submit(context.Background(), "health", "ingress", "second", "req-2", true); err != nil {
		t.Fatalf("blocking Submit should not fail fast: %v", err)
	}
	depth, _ := q.Depth(context.Background(), "health")
	if depth != 2 {
		t.Fatalf("expected queue depth 2, got %d", depth)
	}
}

func TestSubmitUnknownButler(t *testing.T) {
	s := New(newFakeQueue(), nil, nil, nil)
	if _, err := s.Submit(context.Background(), "ghost", "ingress", "prompt", "", false); err == nil {
		t.Fatalf("expected an error for an unregistered butler")
	}
}

func TestSubmitPreservesFIFOOrder(t *testing.T) {
	q := newFakeQueue()
	s := New(q, nil, nil, nil)
	s.Register(ButlerConfig{Butler: "health"})

	if _, err := s.Submit(context.Background(), "health", "ingress", "first", "", true); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Submit(context.Background(), "health", "ingress", "second", "", true); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	first, err := q.Pop(context.Background(), "health", 0)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	var qs queuedSession
	if err := json.Unmarshal(first, &qs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if qs.Prompt != "first" {
		t.Fatalf("expected FIFO order, got prompt %q first", qs.Prompt)
	}
}

func TestRegisterDefaultsConcurrency(t *testing.T) {
	s := New(newFakeQueue(), nil, nil, nil)
	s.Register(ButlerConfig{Butler: "health"})
	cfg, ok := s.configFor("health")
	if !ok {
		t.Fatalf("expected health to be registered")
	}
	if cfg.MaxConcurrentSessions != 3 {
		t.Fatalf("expected default concurrency 3, got %d", cfg.MaxConcurrentSessions)
	}
}
