package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestCodeIndexRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	idx := NewCodeIndex(newClient(mr), time.Minute)
	ctx := context.Background()

	if _, ok := idx.GetCode(ctx, "AAAAAA"); ok {
		t.Fatalf("expected miss for unknown code")
	}

	idx.SetCode(ctx, "AAAAAA", "party-1")
	id, ok := idx.GetCode(ctx, "AAAAAA")
	if !ok || id != "party-1" {
		t.Fatalf("expected party-1, got %q ok=%v", id, ok)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := idx.GetCode(ctx, "AAAAAA"); ok {
		t.Fatalf("expected expiry after TTL")
	}
}

func TestCodeIndexBestEffort(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	idx := NewCodeIndex(newClient(mr), time.Minute)
	mr.Close()

	// With Redis down, reads are misses and writes are silent no-ops.
	if _, ok := idx.GetCode(context.Background(), "AAAAAA"); ok {
		t.Fatalf("expected miss with redis down")
	}
	idx.SetCode(context.Background(), "AAAAAA", "party-1")
}
