package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"bibitewatch/internal/blob/core"
)

func TestMockRoundTrip(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()

	if _, err := store.Put(ctx, "exports/sim/job/species.csv", strings.NewReader("id\n1\n"),
		core.PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "exports/sim/job/species.csv", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("duplicate put should fail")
	}

	info, rc, err := store.Get(ctx, "exports/sim/job/species.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "id\n1\n" {
		t.Fatalf("body = %q", body)
	}
	if info.ContentType != "text/csv" {
		t.Fatalf("content type = %q", info.ContentType)
	}

	infos, err := store.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "exports/sim/job/species.csv" {
		t.Fatalf("list = %+v", infos)
	}

	if ok, err := store.Delete(ctx, "exports/sim/job/species.csv"); err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if _, err := store.Head(ctx, "exports/sim/job/species.csv"); err == nil {
		t.Fatalf("head after delete should fail")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket requirement")
	}
}

func TestPresignProducesURL(t *testing.T) {
	store := NewMockForTests()
	url, err := store.Presign(context.Background(), "exports/sim/job/pop.json", 0)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "mock-bucket") || !strings.Contains(url, "exports/sim/job/pop.json") {
		t.Fatalf("url = %q", url)
	}
}
