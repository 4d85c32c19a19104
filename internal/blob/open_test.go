package blob

import (
	"context"
	"testing"

	"bibitewatch/internal/blob/core"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("default driver = %s", store.Driver())
	}

	store, err = Open(ctx, Config{Driver: core.DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != core.DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}

	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
