package scan

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	gosync "sync"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/onedrivesync/core/internal/config"
)

// OneDrive path and name length limits.
const (
	maxPathLength = 400 // characters — OneDrive's max full path length
	maxNameLength = 255 // bytes — filesystem component limit
)

// oneDriveIllegalChars contains characters OneDrive forbids in file/folder names.
const oneDriveIllegalChars = `"*:<>?/\|`

// safetyTempSuffixes are always excluded: they mark TransferPool's own
// in-progress download temp files and stray partial-upload artifacts.
var safetyTempSuffixes = []string{".partial", ".tmp"}

const safetyTempPrefix = "~"

// reservedNames are Windows/OneDrive reserved device names (case-insensitive).
var reservedNames = func() map[string]bool {
	names := map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
	}

	for i := range 10 {
		names[fmt.Sprintf("COM%d", i)] = true
		names[fmt.Sprintf("LPT%d", i)] = true
	}

	return names
}()

// Filter decides whether a path found during a scan should be synced.
type Filter interface {
	ShouldSync(path string, isDir bool, size int64) FilterResult
}

// FilterResult indicates whether a path should be synced, and why not.
type FilterResult struct {
	Included bool
	Reason   string
}

// FilterEngine implements the configurable filter named in spec §4.3: name
// validation, skip_files/skip_dirs/skip_dotfiles/max_file_size patterns, and
// a per-directory gitignore-style marker file cascade.
type FilterEngine struct {
	cfg      config.FilterConfig
	logger   *slog.Logger
	syncRoot string

	maxFileSizeBytes int64

	// ignoreCache stores parsed marker files per directory. A nil entry
	// means the directory was checked but had no marker file.
	ignoreCache map[string]*ignore.GitIgnore
	mu          gosync.RWMutex
}

// NewFilterEngine builds a FilterEngine from the given config and sync root.
func NewFilterEngine(cfg config.FilterConfig, syncRoot string, logger *slog.Logger) (*FilterEngine, error) {
	maxBytes, err := parseSizeFilter(cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("invalid max_file_size %q: %w", cfg.MaxFileSize, err)
	}

	return &FilterEngine{
		cfg:              cfg,
		logger:           logger,
		syncRoot:         syncRoot,
		maxFileSizeBytes: maxBytes,
		ignoreCache:      make(map[string]*ignore.GitIgnore),
	}, nil
}

// ShouldSync applies name validation, config patterns, and the marker-file
// cascade, in that order. path must be relative to the sync root.
func (f *FilterEngine) ShouldSync(path string, isDir bool, size int64) FilterResult {
	if result := f.checkNameValidation(path); !result.Included {
		return result
	}

	if result := f.checkConfigPatterns(path, isDir, size); !result.Included {
		return result
	}

	return f.checkIgnoreMarker(path, isDir)
}

func (f *FilterEngine) checkNameValidation(path string) FilterResult {
	if valid, reason := isValidPath(path); !valid {
		f.logger.Debug("excluded by name validation", "path", path, "reason", reason)
		return FilterResult{Included: false, Reason: reason}
	}

	components := strings.Split(filepath.ToSlash(path), "/")
	for _, comp := range components {
		if comp == "" || comp == "." || comp == ".." {
			continue
		}

		if valid, reason := isValidOneDriveName(comp); !valid {
			f.logger.Debug("excluded by name validation", "path", path, "component", comp, "reason", reason)
			return FilterResult{Included: false, Reason: reason}
		}
	}

	return FilterResult{Included: true}
}

func (f *FilterEngine) checkConfigPatterns(path string, isDir bool, size int64) FilterResult {
	name := filepath.Base(path)

	if !isDir {
		if result := f.checkSafetyPatterns(name, path); !result.Included {
			return result
		}
	}

	if f.cfg.SkipDotfiles && strings.HasPrefix(name, ".") {
		f.logger.Debug("excluded by skip_dotfiles", "path", path)
		return FilterResult{Included: false, Reason: "dotfile excluded"}
	}

	if isDir {
		return f.checkDirPatterns(name, path)
	}

	return f.checkFilePatterns(name, path, size)
}

func (f *FilterEngine) checkSafetyPatterns(name, path string) FilterResult {
	lower := strings.ToLower(name)

	for _, suffix := range safetyTempSuffixes {
		if strings.HasSuffix(lower, suffix) {
			f.logger.Debug("excluded by safety pattern", "path", path, "suffix", suffix)
			return FilterResult{Included: false, Reason: "matches " + suffix + " pattern"}
		}
	}

	if strings.HasPrefix(name, safetyTempPrefix) {
		f.logger.Debug("excluded by safety pattern", "path", path)
		return FilterResult{Included: false, Reason: "matches ~* pattern"}
	}

	return FilterResult{Included: true}
}

func (f *FilterEngine) checkDirPatterns(name, path string) FilterResult {
	if matchesSkipPattern(name, f.cfg.SkipDirs) {
		f.logger.Debug("excluded by skip_dirs", "path", path, "name", name)
		return FilterResult{Included: false, Reason: "matches skip_dirs pattern"}
	}

	return FilterResult{Included: true}
}

func (f *FilterEngine) checkFilePatterns(name, path string, size int64) FilterResult {
	if matchesSkipPattern(name, f.cfg.SkipFiles) {
		f.logger.Debug("excluded by skip_files", "path", path, "name", name)
		return FilterResult{Included: false, Reason: "matches skip_files pattern"}
	}

	if f.maxFileSizeBytes > 0 && size > f.maxFileSizeBytes {
		f.logger.Debug("excluded by max_file_size", "path", path, "size", size, "max", f.maxFileSizeBytes)
		return FilterResult{Included: false, Reason: "exceeds max_file_size"}
	}

	return FilterResult{Included: true}
}

func (f *FilterEngine) checkIgnoreMarker(path string, isDir bool) FilterResult {
	if f.cfg.IgnoreMarker == "" {
		return FilterResult{Included: true}
	}

	dir := filepath.Dir(path)
	gi := f.loadIgnoreFile(dir)

	if gi == nil {
		return FilterResult{Included: true}
	}

	matchPath := filepath.ToSlash(path)
	if isDir {
		matchPath += "/"
	}

	if gi.MatchesPath(matchPath) {
		f.logger.Debug("excluded by ignore marker", "path", path, "dir", dir)
		return FilterResult{Included: false, Reason: "excluded by " + f.cfg.IgnoreMarker}
	}

	return FilterResult{Included: true}
}

func matchesSkipPattern(name string, patterns []string) bool {
	lowerName := strings.ToLower(name)

	for _, pattern := range patterns {
		matched, err := filepath.Match(strings.ToLower(pattern), lowerName)
		if err != nil {
			continue
		}

		if matched {
			return true
		}
	}

	return false
}

func (f *FilterEngine) loadIgnoreFile(dir string) *ignore.GitIgnore {
	f.mu.RLock()
	gi, cached := f.ignoreCache[dir]
	f.mu.RUnlock()

	if cached {
		return gi
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if gi, cached = f.ignoreCache[dir]; cached {
		return gi
	}

	markerPath := filepath.Join(f.syncRoot, dir, f.cfg.IgnoreMarker)

	parsed, err := ignore.CompileIgnoreFile(markerPath)
	if err != nil {
		f.logger.Debug("no ignore marker file found", "dir", dir, "path", markerPath)
		f.ignoreCache[dir] = nil

		return nil
	}

	f.logger.Debug("loaded ignore marker file", "dir", dir, "path", markerPath)
	f.ignoreCache[dir] = parsed

	return parsed
}

// isValidOneDriveName checks whether a single path component is valid for OneDrive.
func isValidOneDriveName(name string) (bool, string) {
	for _, ch := range name {
		if strings.ContainsRune(oneDriveIllegalChars, ch) {
			return false, fmt.Sprintf("contains illegal character %q", string(ch))
		}
	}

	upper := strings.ToUpper(name)
	baseName := upper
	if dot := strings.IndexByte(upper, '.'); dot >= 0 {
		baseName = upper[:dot]
	}

	if reservedNames[baseName] {
		return false, fmt.Sprintf("%q is a reserved name", name)
	}

	if strings.HasSuffix(name, ".") {
		return false, "name ends with a dot"
	}

	if strings.HasSuffix(name, " ") {
		return false, "name ends with a space"
	}

	if name != "" && name[0] == ' ' {
		return false, "name starts with a space"
	}

	if strings.HasPrefix(name, "~$") {
		return false, "name starts with ~$"
	}

	if strings.Contains(name, "_vti_") {
		return false, "name contains _vti_"
	}

	if len(name) > maxNameLength {
		return false, fmt.Sprintf("name exceeds %d bytes", maxNameLength)
	}

	return true, ""
}

// isValidPath checks whether the full relative path is within OneDrive's length limit.
func isValidPath(path string) (bool, string) {
	if len([]rune(path)) > maxPathLength {
		return false, fmt.Sprintf("path exceeds %d characters", maxPathLength)
	}

	return true, ""
}

// Size multiplier constants for parseSizeFilter, a local copy of the config
// package's size units.
const (
	filterKilobyte = 1000
	filterMegabyte = 1000 * filterKilobyte
	filterGigabyte = 1000 * filterMegabyte
	filterTerabyte = 1000 * filterGigabyte
	filterKibibyte = 1024
	filterMebibyte = 1024 * filterKibibyte
	filterGibibyte = 1024 * filterMebibyte
	filterTebibyte = 1024 * filterGibibyte
)

// parseSizeFilter converts a human-readable size string to bytes. Empty
// string and "0" mean no limit.
func parseSizeFilter(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"TIB", filterTebibyte}, {"GIB", filterGibibyte}, {"MIB", filterMebibyte}, {"KIB", filterKibibyte},
		{"TB", filterTerabyte}, {"GB", filterGigabyte}, {"MB", filterMegabyte}, {"KB", filterKilobyte},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(upper, sf.suffix) {
			numStr := strings.TrimSpace(s[:len(s)-len(sf.suffix)])

			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}

			return int64(n * float64(sf.multiplier)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return n, nil
}
