package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ardian231/notify-wa/internal/types"
)

func TestFailureFileAppendAndTail(t *testing.T) {
	log := NewFailureFile(filepath.Join(t.TempDir(), "logs", "failed_messages.jsonl"))
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		rec := &types.FailureRecord{Key: key, Reason: "timeout", Attempts: 3, At: time.Now()}
		if err := log.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if rec.ID == "" {
			t.Error("expected ID to be assigned")
		}
	}

	all, err := log.Tail(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	last, err := log.Tail(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 || last[0].Key != "k2" || last[1].Key != "k3" {
		t.Errorf("unexpected tail %+v", last)
	}
}

func TestFailureFileTailMissing(t *testing.T) {
	log := NewFailureFile(filepath.Join(t.TempDir(), "none.jsonl"))
	recs, err := log.Tail(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if recs != nil {
		t.Errorf("expected nil, got %v", recs)
	}
}
