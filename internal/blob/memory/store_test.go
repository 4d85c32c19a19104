package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"bibitewatch/internal/blob/core"
)

func TestPutGetDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	info, err := store.Put(ctx, "exports/sim/job/pop.json", strings.NewReader(`{"rows":[]}`),
		core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(`{"rows":[]}`)) {
		t.Fatalf("size = %d", info.Size)
	}

	if _, err := store.Put(ctx, "exports/sim/job/pop.json", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("duplicate put should fail")
	}

	_, rc, err := store.Get(ctx, "exports/sim/job/pop.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"rows":[]}` {
		t.Fatalf("body = %q", body)
	}

	if ok, _ := store.Delete(ctx, "exports/sim/job/pop.json"); !ok {
		t.Fatalf("delete should report existing")
	}
	if _, err := store.Head(ctx, "exports/sim/job/pop.json"); err == nil {
		t.Fatalf("head after delete should fail")
	}
}

func TestPresignUnsupported(t *testing.T) {
	if _, err := New().Presign(context.Background(), "k", 0); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
