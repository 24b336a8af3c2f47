package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Scanner walks a local sync root and yields FileMetadata for every regular
// file that passes the configured Filter (spec §4.3).
type Scanner struct {
	filter       Filter
	logger       *slog.Logger
	skipSymlinks bool
}

// NewScanner builds a Scanner. skipSymlinks, when true, causes symlinked
// entries to be skipped rather than followed (spec §4.3: "symbolic links
// are not followed" — the donor scanner makes this configurable; this
// core exposes the same knob but callers following the spec literally
// should pass skipSymlinks=true).
func NewScanner(filter Filter, skipSymlinks bool, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scanner{filter: filter, logger: logger, skipSymlinks: skipSymlinks}
}

// Scan walks syncRoot and returns a lazy sequence of (FileMetadata, error)
// pairs. Cancellation is checked before each directory descent, matching
// spec §4.3. The sequence stops (after yielding a final error) as soon as
// ctx is canceled or the consumer stops ranging.
func (s *Scanner) Scan(ctx context.Context, syncRoot string) iter.Seq2[FileMetadata, error] {
	return func(yield func(FileMetadata, error) bool) {
		s.walkDir(ctx, syncRoot, "", "", yield)
	}
}

// walkDir performs a depth-first traversal. fsRelPath uses original
// filesystem names for I/O; dbRelPath uses NFC-normalized names for
// comparison against the store (spec §4.3).
func (s *Scanner) walkDir(
	ctx context.Context, syncRoot, fsRelPath, dbRelPath string, yield func(FileMetadata, error) bool,
) bool {
	if err := ctx.Err(); err != nil {
		yield(FileMetadata{}, err)
		return false
	}

	fullPath := filepath.Join(syncRoot, fsRelPath)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return yield(FileMetadata{}, fmt.Errorf("scan: reading directory %q: %w", fullPath, err))
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			yield(FileMetadata{}, err)
			return false
		}

		if !s.processEntry(ctx, syncRoot, fsRelPath, dbRelPath, entry, yield) {
			return false
		}
	}

	return true
}

func (s *Scanner) processEntry(
	ctx context.Context, syncRoot, fsRelPath, dbRelPath string, entry os.DirEntry, yield func(FileMetadata, error) bool,
) bool {
	originalName := entry.Name()
	// NFC-normalize for comparison; macOS produces NFD-decomposed names on
	// disk, while Windows/Linux are typically already NFC (spec §4.3).
	normalizedName := norm.NFC.String(originalName)

	fsEntryRelPath := joinRelPath(fsRelPath, originalName)
	dbEntryRelPath := joinRelPath(dbRelPath, normalizedName)

	if !utf8.ValidString(originalName) {
		s.logger.Warn("scan: invalid UTF-8 filename, skipping", "path", fsEntryRelPath)
		return true
	}

	resolvedInfo, skip := s.resolveSymlink(syncRoot, fsEntryRelPath, entry)
	if skip {
		return true
	}

	if resolvedInfo.IsDir() {
		result := s.filter.ShouldSync(dbEntryRelPath, true, 0)
		if !result.Included {
			s.logger.Debug("scan: directory excluded by filter", "path", dbEntryRelPath, "reason", result.Reason)
			return true
		}

		return s.walkDir(ctx, syncRoot, fsEntryRelPath, dbEntryRelPath, yield)
	}

	return s.processFile(syncRoot, fsEntryRelPath, dbEntryRelPath, resolvedInfo, yield)
}

func (s *Scanner) resolveSymlink(syncRoot, fsEntryRelPath string, entry os.DirEntry) (os.FileInfo, bool) {
	if entry.Type()&os.ModeSymlink == 0 {
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("scan: cannot stat entry, skipping", "path", fsEntryRelPath, "error", err)
			return nil, true
		}

		return info, false
	}

	if s.skipSymlinks {
		s.logger.Debug("scan: skipping symlink", "path", fsEntryRelPath)
		return nil, true
	}

	fullPath := filepath.Join(syncRoot, fsEntryRelPath)

	target, err := os.Stat(fullPath) // follows the symlink
	if err != nil {
		s.logger.Warn("scan: broken symlink, skipping", "path", fsEntryRelPath, "error", err)
		return nil, true
	}

	return target, false
}

func (s *Scanner) processFile(
	syncRoot, fsRelPath, dbRelPath string, info os.FileInfo, yield func(FileMetadata, error) bool,
) bool {
	result := s.filter.ShouldSync(dbRelPath, false, info.Size())
	if !result.Included {
		s.logger.Debug("scan: file excluded by filter", "path", dbRelPath, "reason", result.Reason)
		return true
	}

	fullPath := filepath.Join(syncRoot, fsRelPath)

	meta := FileMetadata{
		RelativePath:    dbRelPath,
		FSPath:          fsRelPath,
		Name:            filepath.Base(dbRelPath),
		Size:            info.Size(),
		LastModifiedUTC: info.ModTime().UTC(),
		LocalPath:       fullPath,
	}

	return yield(meta, nil)
}

// HashFile streams a file's content through SHA-256 and returns the hex
// digest. Callers compute this lazily — only when the stored record has a
// hash to compare against (spec §4.3).
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("scan: opening file for hash: %w", err)
	}
	defer f.Close()

	h := sha256.New()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("scan: hashing file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// joinRelPath builds a relative path from a parent and child component.
func joinRelPath(parent, child string) string {
	if parent == "" {
		return child
	}

	return parent + "/" + child
}
