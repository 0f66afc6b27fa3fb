// Package badger implements storage.Storage over badger v4, the durable
// backend spec.md §5.2 requires. Grounded on the teacher's
// internal/storage/badger.go, extended with read-only-mode opening (spec.md
// §6.1's serve-read-only subcommand) and backup support.
package badger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	bdg "github.com/dgraph-io/badger/v4"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/storage"
)

// Storage implements storage.Storage over a badger.DB, which already
// provides MVCC snapshot isolation natively (spec.md §5.1), so this layer
// is a thin adapter rather than a second isolation mechanism.
type Storage struct {
	db  *bdg.DB
	dir string
}

// Open opens (creating if absent) a durable store at path. readOnly opens
// badger in its native read-only mode: writers are rejected at the
// Transaction level (ErrReadOnly) and no value-log GC or compaction runs.
func Open(path string, readOnly bool) (*Storage, error) {
	opts := bdg.DefaultOptions(path)
	opts.Logger = nil
	opts.ReadOnly = readOnly

	db, err := bdg.Open(opts)
	if err != nil {
		if isLockHeld(err) {
			return nil, qdberr.Wrap(qdberr.Io, err, "badger")
		}
		return nil, qdberr.Wrap(qdberr.Io, err, fmt.Sprintf("opening badger store at %s", path))
	}
	return &Storage{db: db, dir: path}, nil
}

// Dir returns the directory this store was opened at, used by
// quadstore.Store.Backup to decide whether a hard-link backup (same
// filesystem) is possible.
func (s *Storage) Dir() string { return s.dir }

// BackupToDir snapshots the store into dstDir: a value-log flush followed
// by a hard-link of every immutable table file and a copy of the rest (see
// BackupHardLink), per spec.md §4.2's backup description.
func (s *Storage) BackupToDir(dstDir string) error {
	if err := s.db.Sync(); err != nil {
		return qdberr.Wrap(qdberr.Io, err, "backup: sync")
	}
	return BackupHardLink(s.dir, dstDir)
}

func isLockHeld(err error) bool {
	return err != nil && (errors.Is(err, os.ErrPermission) ||
		bytes.Contains([]byte(err.Error()), []byte("LOCK")) ||
		bytes.Contains([]byte(err.Error()), []byte("Another process")))
}

func (s *Storage) Begin(writable bool) (storage.Transaction, error) {
	txn := s.db.NewTransaction(writable)
	return &Transaction{txn: txn, writable: writable}, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) Sync() error { return s.db.Sync() }

// Backup writes a full badger backup stream to w. Callers restoring from it
// use badger's own DB.Load. Where the caller controls the destination
// filesystem, preferring hard links over this stream-based backup avoids
// the copy entirely (see BackupHardLink).
func (s *Storage) Backup(w io.Writer, since uint64) (uint64, error) {
	return s.db.Backup(w, since)
}

// BackupHardLink hard-links badger's immutable table files (*.sst, never
// mutated in place) into dstDir and copies every other file (value log,
// MANIFEST), which badger may still be appending to; a table file whose
// link fails (e.g. across filesystems) is copied too. Far cheaper than
// Backup for same-filesystem snapshots.
func BackupHardLink(srcDir, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return qdberr.Wrap(qdberr.Io, err, "badger")
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return qdberr.Wrap(qdberr.Io, err, "badger")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		dst := filepath.Join(dstDir, e.Name())
		if filepath.Ext(e.Name()) == ".sst" {
			if err := os.Link(src, dst); err == nil {
				continue
			}
		}
		if copyErr := copyFile(src, dst); copyErr != nil {
			return qdberr.Wrap(qdberr.Io, copyErr, "backup copy")
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Transaction implements storage.Transaction over a badger.Txn.
type Transaction struct {
	txn      *bdg.Txn
	writable bool
}

func (t *Transaction) Get(table storage.Table, key []byte) ([]byte, error) {
	item, err := t.txn.Get(storage.PrefixKey(table, key))
	if err != nil {
		if errors.Is(err, bdg.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, qdberr.Wrap(qdberr.Io, err, "badger")
	}
	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, qdberr.Wrap(qdberr.Io, err, "badger")
	}
	return value, nil
}

func (t *Transaction) Set(table storage.Table, key, value []byte) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	if err := t.txn.Set(storage.PrefixKey(table, key), value); err != nil {
		return qdberr.Wrap(qdberr.Io, err, "badger")
	}
	return nil
}

func (t *Transaction) Delete(table storage.Table, key []byte) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	if err := t.txn.Delete(storage.PrefixKey(table, key)); err != nil {
		return qdberr.Wrap(qdberr.Io, err, "badger")
	}
	return nil
}

func (t *Transaction) Scan(table storage.Table, start, end []byte) (storage.Iterator, error) {
	opts := bdg.DefaultIteratorOptions
	tablePrefix := []byte{byte(table)}

	var seekKey, scanPrefix []byte
	if start != nil {
		seekKey = storage.PrefixKey(table, start)
		scanPrefix = seekKey
	} else {
		seekKey = tablePrefix
		scanPrefix = tablePrefix
	}
	opts.Prefix = scanPrefix
	it := t.txn.NewIterator(opts)

	var endKey []byte
	if end != nil {
		endKey = storage.PrefixKey(table, end)
	}

	return &Iterator{
		it:      it,
		prefix:  tablePrefix,
		endKey:  endKey,
		seekKey: seekKey,
	}, nil
}

func (t *Transaction) Commit() error {
	err := t.txn.Commit()
	if errors.Is(err, bdg.ErrConflict) {
		return storage.ErrConflict
	}
	if err != nil {
		return qdberr.Wrap(qdberr.Io, err, "badger")
	}
	return nil
}

func (t *Transaction) Rollback() error {
	t.txn.Discard()
	return nil
}

// Iterator implements storage.Iterator over a badger.Iterator.
type Iterator struct {
	it       *bdg.Iterator
	prefix   []byte
	endKey   []byte
	seekKey  []byte
	started  bool
	hasValue bool
}

func (i *Iterator) Next() bool {
	if !i.started {
		i.it.Seek(i.seekKey)
		i.started = true
	} else {
		i.it.Next()
	}
	if !i.it.Valid() {
		i.hasValue = false
		return false
	}
	if i.endKey != nil && bytes.Compare(i.it.Item().Key(), i.endKey) >= 0 {
		i.hasValue = false
		return false
	}
	i.hasValue = true
	return true
}

func (i *Iterator) Key() []byte {
	if !i.hasValue {
		return nil
	}
	key := i.it.Item().Key()
	if len(key) > len(i.prefix) {
		return key[len(i.prefix):]
	}
	return nil
}

func (i *Iterator) Value() ([]byte, error) {
	if !i.hasValue {
		return nil, storage.ErrNotFound
	}
	var value []byte
	err := i.it.Item().Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, qdberr.Wrap(qdberr.Io, err, "badger")
	}
	return value, nil
}

func (i *Iterator) Close() error {
	i.it.Close()
	return nil
}
