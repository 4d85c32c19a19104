package store

import (
	"context"
	"testing"

	"bibitewatch/internal/store/memory"
	"bibitewatch/internal/store/sqlite"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}

	s, err = Open(ctx, Config{})
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if _, ok := s.(*sqlite.Store); !ok {
		t.Fatalf("default driver should be sqlite, got %T", s)
	}
	_ = s.Close()

	if _, err := Open(ctx, Config{Driver: "duckdb"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
