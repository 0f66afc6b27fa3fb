package memory

import (
	"testing"

	"github.com/relique/qdb/pkg/storage"
)

func TestTransaction_SetThenGetWithinSameTransaction(t *testing.T) {
	s := New()
	tx, err := s.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Set(storage.TableSPO, []byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	got, err := tx.Get(storage.TableSPO, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1" {
		t.Errorf("Get() = %q, want %q", got, "v1")
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestTransaction_ReadOnlyRejectsWrites(t *testing.T) {
	s := New()
	tx, err := s.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := tx.Set(storage.TableSPO, []byte("k"), []byte("v")); err != storage.ErrReadOnly {
		t.Errorf("Set() on a read-only transaction = %v, want %v", err, storage.ErrReadOnly)
	}
	if err := tx.Delete(storage.TableSPO, []byte("k")); err != storage.ErrReadOnly {
		t.Errorf("Delete() on a read-only transaction = %v, want %v", err, storage.ErrReadOnly)
	}
}

func TestTransaction_GetMissingKeyIsErrNotFound(t *testing.T) {
	s := New()
	tx, err := s.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.Get(storage.TableSPO, []byte("absent")); err != storage.ErrNotFound {
		t.Errorf("Get() on a missing key = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestRollback_DiscardsPendingWrites(t *testing.T) {
	s := New()
	tx, err := s.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Set(storage.TableSPO, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	tx2, err := s.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback()
	if _, err := tx2.Get(storage.TableSPO, []byte("k")); err != storage.ErrNotFound {
		t.Errorf("key written by a rolled-back transaction must not be visible, got err=%v", err)
	}
}

// TestSnapshotIsolation reproduces spec.md's universal snapshot-isolation
// invariant: a reader begun before a writer commits must not observe that
// writer's change, but a transaction begun after the commit must.
func TestSnapshotIsolation(t *testing.T) {
	s := New()

	setup, err := s.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := setup.Set(storage.TableSPO, []byte("k"), []byte("v0")); err != nil {
		t.Fatal(err)
	}
	if err := setup.Commit(); err != nil {
		t.Fatal(err)
	}

	reader, err := s.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Rollback()

	writer, err := s.Begin(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Set(storage.TableSPO, []byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := reader.Get(storage.TableSPO, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v0" {
		t.Errorf("reader's snapshot must still see %q, got %q", "v0", got)
	}

	fresh, err := s.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer fresh.Rollback()
	got2, err := fresh.Get(storage.TableSPO, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got2) != "v1" {
		t.Errorf("a transaction begun after commit must see %q, got %q", "v1", got2)
	}
}

func TestSnapshotIsolation_DeleteNotVisibleToOlderSnapshot(t *testing.T) {
	s := New()

	setup, _ := s.Begin(true)
	setup.Set(storage.TableSPO, []byte("k"), []byte("v"))
	if err := setup.Commit(); err != nil {
		t.Fatal(err)
	}

	reader, err := s.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Rollback()

	deleter, _ := s.Begin(true)
	deleter.Delete(storage.TableSPO, []byte("k"))
	if err := deleter.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, err := reader.Get(storage.TableSPO, []byte("k")); err != nil {
		t.Errorf("reader's snapshot must still see the key pre-delete, got err=%v", err)
	}

	fresh, _ := s.Begin(false)
	defer fresh.Rollback()
	if _, err := fresh.Get(storage.TableSPO, []byte("k")); err != storage.ErrNotFound {
		t.Errorf("a fresh transaction after the delete must not see the key, got err=%v", err)
	}
}

func TestScan_OrdersKeysAndRespectsRange(t *testing.T) {
	s := New()
	tx, _ := s.Begin(true)
	for _, k := range []string{"b", "d", "a", "c"} {
		if err := tx.Set(storage.TableSPO, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	read, _ := s.Begin(false)
	defer read.Rollback()
	it, err := read.Scan(storage.TableSPO, []byte("b"), []byte("d"))
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Scan(%q, %q) = %v, want %v", "b", "d", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Scan()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScan_SeesUncommittedWritesOfOwnTransaction(t *testing.T) {
	s := New()
	tx, _ := s.Begin(true)
	tx.Set(storage.TableSPO, []byte("x"), []byte("1"))
	it, err := tx.Scan(storage.TableSPO, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if !it.Next() {
		t.Fatal("expected the transaction's own uncommitted write to appear in its own Scan")
	}
	if string(it.Key()) != "x" {
		t.Errorf("Scan key = %q, want %q", it.Key(), "x")
	}
	tx.Rollback()
}

func TestTablesAreIndependentNamespaces(t *testing.T) {
	s := New()
	tx, _ := s.Begin(true)
	tx.Set(storage.TableSPO, []byte("k"), []byte("spo-value"))
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	read, _ := s.Begin(false)
	defer read.Rollback()
	if _, err := read.Get(storage.TablePOS, []byte("k")); err != storage.ErrNotFound {
		t.Errorf("a key set in one table must not leak into another, got err=%v", err)
	}
}

func TestClose_RejectsNewTransactions(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Begin(false); err != storage.ErrClosed {
		t.Errorf("Begin() after Close() = %v, want %v", err, storage.ErrClosed)
	}
}

func TestCommit_IsIdempotent(t *testing.T) {
	s := New()
	tx, _ := s.Begin(true)
	tx.Set(storage.TableSPO, []byte("k"), []byte("v"))
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Errorf("a second Commit() call must be a safe no-op, got %v", err)
	}
}
