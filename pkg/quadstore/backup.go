package quadstore

import (
	"io"
	"os"
	"path/filepath"

	"github.com/relique/qdb/pkg/qdberr"
)

// backupStream is implemented by storage backends that can stream a full
// backup (currently pkg/storage/badger). The in-memory backend has no
// durable state to back up.
type backupStream interface {
	Backup(w io.Writer, since uint64) (uint64, error)
}

// dirBackupable is implemented by backends that can produce a standalone
// database directory cheaply, preferring hard links over a full copy when
// the destination shares a filesystem with the source (spec.md §4.2).
type dirBackupable interface {
	BackupToDir(dstDir string) error
}

const formatVersionMarker = "FORMAT_VERSION"

// CurrentFormatVersion is written into every backup directory (spec.md
// §6.3's "format-version marker"); bumped on any on-disk layout change
// (e.g. the inline-string threshold in pkg/enc, which spec.md §4.1 calls
// out as a format break).
const CurrentFormatVersion = "1"

// Backup produces a standalone copy of the store at destDir. When the
// backend supports cheap directory snapshots (pkg/storage/badger), that
// path is used and degrades to copying whichever segment files cannot be
// hard-linked (e.g. across filesystems); otherwise falls back to the
// backend's streaming Backup into a single file inside destDir. The
// in-memory backend has no durable state at all, so it has neither and
// Backup returns an Evaluation error for it — callers wanting a portable
// snapshot of an in-memory store should dump it via rdfio instead.
func (s *Store) Backup(destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return qdberr.Wrap(qdberr.Io, err, "backup: mkdir")
	}
	if err := writeFormatMarker(destDir); err != nil {
		return err
	}

	if b, ok := s.backend.(dirBackupable); ok {
		if err := b.BackupToDir(destDir); err != nil {
			return err
		}
		return nil
	}
	if b, ok := s.backend.(backupStream); ok {
		f, err := os.Create(filepath.Join(destDir, "backup.stream"))
		if err != nil {
			return qdberr.Wrap(qdberr.Io, err, "backup: create stream file")
		}
		defer f.Close()
		if _, err := b.Backup(f, 0); err != nil {
			return qdberr.Wrap(qdberr.Io, err, "backup")
		}
		return nil
	}
	return qdberr.Evalf("quadstore: backend does not support backup")
}

func writeFormatMarker(destDir string) error {
	path := filepath.Join(destDir, formatVersionMarker)
	if err := os.WriteFile(path, []byte(CurrentFormatVersion+"\n"), 0o644); err != nil {
		return qdberr.Wrap(qdberr.Io, err, "backup: write format marker")
	}
	return nil
}
