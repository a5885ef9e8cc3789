package sqlite

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNodeIDIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "undocked.db")
	ctx := context.Background()

	first := openTestStore(t, path)
	id, err := first.NodeID(ctx)
	if err != nil {
		t.Fatalf("NodeID: %v", err)
	}
	if id == "" {
		t.Fatal("NodeID returned empty id")
	}
	again, _ := first.NodeID(ctx)
	if again != id {
		t.Fatalf("NodeID second call = %q, want %q", again, id)
	}
	first.Close()

	reopened := openTestStore(t, path)
	got, err := reopened.NodeID(ctx)
	if err != nil {
		t.Fatalf("NodeID after reopen: %v", err)
	}
	if got != id {
		t.Fatalf("NodeID after reopen = %q, want %q", got, id)
	}
}

func TestAddressBook(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "undocked.db"))
	ctx := context.Background()

	if err := store.Learn(ctx, "b", "10.0.0.2:7946"); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if err := store.Learn(ctx, "c", "10.0.0.3:7946"); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	// Address change replaces the old one.
	if err := store.Learn(ctx, "b", "10.0.0.22:7946"); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	addrs, err := store.Addresses(ctx)
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	want := []string{"10.0.0.22:7946", "10.0.0.3:7946"}
	if !slices.Equal(addrs, want) {
		t.Fatalf("Addresses = %v, want %v", addrs, want)
	}

	if err := store.Forget(ctx, "c"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if err := store.Forget(ctx, "missing"); err != nil {
		t.Fatalf("Forget missing: %v", err)
	}
	addrs, _ = store.Addresses(ctx)
	if !slices.Equal(addrs, []string{"10.0.0.22:7946"}) {
		t.Fatalf("Addresses after forget = %v", addrs)
	}
}
