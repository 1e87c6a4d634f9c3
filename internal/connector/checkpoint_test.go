package connector

import (
	"path/filepath"
	"testing"
)

func TestCheckpointStoreLoadCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	cs, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cs.Close()

	got, err := cs.Load("telegram:bot123")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty cursor before first commit, got %q", got)
	}

	if err := cs.Commit("telegram:bot123", "offset:42"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err = cs.Load("telegram:bot123")
	if err != nil {
		t.Fatalf("load after commit: %v", err)
	}
	if got != "offset:42" {
		t.Fatalf("got cursor %q, want offset:42", got)
	}

	if err := cs.Commit("telegram:bot123", "offset:43"); err != nil {
		t.Fatalf("commit again: %v", err)
	}
	got, _ = cs.Load("telegram:bot123")
	if got != "offset:43" {
		t.Fatalf("got cursor %q, want offset:43", got)
	}
}

func TestCheckpointStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	cs, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := cs.Commit("gmail:inbox@example.com", "historyId:999"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := cs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load("gmail:inbox@example.com")
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if got != "historyId:999" {
		t.Fatalf("got cursor %q after reopen, want historyId:999", got)
	}
}
