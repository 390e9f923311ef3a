package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mycelian/mycelian-chat/internal/store"
	"github.com/mycelian/mycelian-chat/internal/store/storetest"
)

func makeSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	s, db, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return s
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, makeSQLiteStore)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	for i := 0; i < 2; i++ {
		if err := EnsureSchema(context.Background(), db); err != nil {
			t.Fatalf("EnsureSchema pass %d: %v", i, err)
		}
	}
}
