package connector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/butlerhub/switchboard/internal/envelope"
)

type fakeSource struct {
	mu      sync.Mutex
	items   []string
	idx     int
	failAt  int
	failErr error
}

func (f *fakeSource) Next(ctx context.Context) (*envelope.Envelope, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && f.idx == f.failAt {
		f.idx++
		return nil, "", f.failErr
	}
	if f.idx >= len(f.items) {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	cursor := f.items[f.idx]
	f.idx++
	return &envelope.Envelope{}, cursor, nil
}

type fakeClient struct {
	mu        sync.Mutex
	ingested  []string
	heartbeat int
	failNext  bool
}

func (f *fakeClient) Ingest(ctx context.Context, env *envelope.Envelope) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return "", false, errors.New("ingest unavailable")
	}
	f.ingested = append(f.ingested, "req")
	return "req-1", false, nil
}

func (f *fakeClient) Heartbeat(ctx context.Context, hb *envelope.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeat++
	return nil
}

func TestRuntimeCommitsCheckpointOnlyAfterAccept(t *testing.T) {
	cs, err := OpenCheckpointStore(filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatalf("open checkpoint store: %v", err)
	}
	defer cs.Close()

	source := &fakeSource{items: []string{"c1", "c2", "c3"}}
	client := &fakeClient{}

	rt := New(Config{
		ConnectorType:     "telegram",
		EndpointIdentity:  "bot123",
		InstanceID:        "inst-1",
		HeartbeatInterval: time.Hour,
		CheckpointKey:     "telegram:bot123",
	}, source, client, cs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		cursor, _ := cs.Load("telegram:bot123")
		if cursor == "c3" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for checkpoint to reach c3, got %q", cursor)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if rt.CurrentState() != StateStopped {
		t.Fatalf("state = %s, want stopped", rt.CurrentState())
	}
}

func TestRuntimeReconnectsAfterSourceError(t *testing.T) {
	cs, err := OpenCheckpointStore(filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatalf("open checkpoint store: %v", err)
	}
	defer cs.Close()

	source := &fakeSource{items: []string{"c1"}, failAt: 1, failErr: errors.New("transient source error")}
	client := &fakeClient{}

	rt := New(Config{
		ConnectorType:     "gmail",
		EndpointIdentity:  "inbox@example.com",
		InstanceID:        "inst-1",
		HeartbeatInterval: time.Hour,
		CheckpointKey:     "gmail:inbox@example.com",
	}, source, client, cs)
	rt.reconnectDelay = 1 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		cursor, _ := cs.Load("gmail:inbox@example.com")
		if cursor == "c1" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first envelope to commit")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestHealthState(t *testing.T) {
	cases := map[State]envelope.ConnectorState{
		StateReading:      envelope.ConnectorHealthy,
		StateRateLimited:  envelope.ConnectorDegraded,
		StateReconnecting: envelope.ConnectorDegraded,
	}
	for s, want := range cases {
		if got := healthState(s); got != want {
			t.Errorf("healthState(%s) = %s, want %s", s, got, want)
		}
	}
}
