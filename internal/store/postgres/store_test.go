package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
)

func TestNewStoreSurfacesOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		if driver != defaultDriver {
			t.Fatalf("unexpected driver %s", driver)
		}
		return nil, fmt.Errorf("refused")
	})
	defer restore()

	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open failure, got %v", err)
	}
}

func TestNewStoreDefaultsDSN(t *testing.T) {
	var gotDSN string
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return nil, fmt.Errorf("stop before ping")
	})
	defer restore()

	_, _ = NewStore(context.Background(), "")
	if gotDSN != defaultDSN {
		t.Fatalf("dsn = %q, want default", gotDSN)
	}
}
