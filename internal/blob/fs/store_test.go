package fs

import (
	"context"
	"io"
	"strings"
	"testing"

	"bibitewatch/internal/blob/core"
)

func putOpts(contentType string, metadata map[string]string) core.PutOptions {
	return core.PutOptions{ContentType: contentType, Metadata: metadata}
}

func TestPutGetRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	info, err := store.Put(ctx, "exports/Zone-A/job1/species.csv", strings.NewReader("id,name\n1,Root\n"),
		putOpts("text/csv", map[string]string{"simulation": "Zone-A"}))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 15 || info.ContentType != "text/csv" || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}

	got, rc, err := store.Get(ctx, "exports/Zone-A/job1/species.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "id,name\n1,Root\n" {
		t.Fatalf("body = %q", body)
	}
	if got.Metadata["simulation"] != "Zone-A" {
		t.Fatalf("metadata lost: %+v", got)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "a/b", strings.NewReader("x"), putOpts("", nil)); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(ctx, "a/b", strings.NewReader("y"), putOpts("", nil)); err == nil {
		t.Fatalf("expected duplicate key to fail")
	}
}

func TestKeyTraversalRejected(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "/abs", "../escape", "a/../../escape"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), putOpts("", nil)); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"exports/b/pop.json", "exports/a/pop.json", "other/x"} {
		if _, err := store.Put(ctx, key, strings.NewReader("{}"), putOpts("application/json", nil)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "exports/a/pop.json" || infos[1].Key != "exports/b/pop.json" {
		t.Fatalf("list = %+v", infos)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), putOpts("", nil)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := store.Delete(ctx, "k"); err != nil || !ok {
		t.Fatalf("delete existing = %v, %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "k"); err != nil || ok {
		t.Fatalf("delete missing = %v, %v", ok, err)
	}
}
