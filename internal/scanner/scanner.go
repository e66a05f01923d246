// Package scanner discovers indexable files under a directory, honoring
// .gitignore files, configured exclusions and an extension allow-list.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanctx/internal/chunk"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// ignoreCacheSize bounds the number of parsed .gitignore files kept.
const ignoreCacheSize = 1024

// DefaultMaxFileSize skips files above 1 MiB.
const DefaultMaxFileSize = 1 << 20

// excludedDirs are skipped regardless of ignore files. Directories whose
// name starts with a dot are always skipped too.
var excludedDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// File is one discovered file.
type File struct {
	// Path is slash-separated and relative to the scan root.
	Path     string
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string
}

// Options configures discovery.
type Options struct {
	// Extensions allow-lists file extensions (".go"). Empty allows all.
	Extensions []string
	// Exclude holds extra gitignore-style patterns applied from the root.
	Exclude []string
	// MaxFileSize in bytes; zero means DefaultMaxFileSize.
	MaxFileSize int64
	// IgnoreVCS disables .gitignore handling.
	IgnoreVCS bool
	Logger    *slog.Logger
}

// Scanner walks directory trees. It is safe for concurrent use.
type Scanner struct {
	exts    map[string]bool
	exclude ruleSet
	maxSize int64
	useVCS  bool
	logger  *slog.Logger
	cache   *lru.Cache[string, ruleSet]
}

// New creates a Scanner.
func New(opts Options) (*Scanner, error) {
	cache, err := lru.New[string, ruleSet](ignoreCacheSize)
	if err != nil {
		return nil, amerrors.Internal("create ignore cache", err)
	}
	s := &Scanner{
		exclude: parseRules("", strings.Join(opts.Exclude, "\n")),
		maxSize: opts.MaxFileSize,
		useVCS:  !opts.IgnoreVCS,
		logger:  opts.Logger,
		cache:   cache,
	}
	if s.maxSize <= 0 {
		s.maxSize = DefaultMaxFileSize
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if len(opts.Extensions) > 0 {
		s.exts = make(map[string]bool, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.exts[ext] = true
		}
	}
	return s, nil
}

// Scan lists the indexable files under root sorted by path.
func (s *Scanner) Scan(ctx context.Context, root string) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, amerrors.InvalidArgument("resolve %s: %v", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, amerrors.NotFound("directory %s does not exist", absRoot)
		}
		return nil, amerrors.Infrastructure("stat "+absRoot, err)
	}
	if !info.IsDir() {
		return nil, amerrors.InvalidArgument("%s is not a directory", absRoot)
	}

	var files []File
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			s.logger.Debug("skipping unreadable path", slog.String("path", p), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.skipDir(absRoot, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.wanted(rel) || s.ignored(absRoot, rel, false) {
			return nil
		}
		fi, err := d.Info()
		if err != nil || fi.Size() > s.maxSize {
			return nil
		}
		if isBinary(p) {
			return nil
		}
		files = append(files, File{
			Path:     rel,
			AbsPath:  p,
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
			Language: chunk.DetectLanguage(rel),
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, amerrors.Cancelled("scan cancelled", ctx.Err())
		}
		return nil, amerrors.Infrastructure("walk "+absRoot, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Accepts reports whether a path relative to root would be indexed, given
// its current ignore files. Missing files are judged by name only.
func (s *Scanner) Accepts(root, rel string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || strings.HasPrefix(rel, "../") || !s.wanted(rel) {
		return false
	}
	dirs := strings.Split(rel, "/")
	for i := 1; i < len(dirs); i++ {
		if s.skipDir(absRoot, strings.Join(dirs[:i], "/")) {
			return false
		}
	}
	return !s.ignored(absRoot, rel, false)
}

// SkipsDir reports whether discovery would skip the directory rel.
func (s *Scanner) SkipsDir(root, rel string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." {
		return false
	}
	dirs := strings.Split(rel, "/")
	for i := 1; i <= len(dirs); i++ {
		if s.skipDir(absRoot, strings.Join(dirs[:i], "/")) {
			return true
		}
	}
	return false
}

// InvalidateIgnoreCache drops parsed ignore files, after a .gitignore change.
func (s *Scanner) InvalidateIgnoreCache() { s.cache.Purge() }

func (s *Scanner) skipDir(absRoot, rel string) bool {
	name := path.Base(rel)
	if strings.HasPrefix(name, ".") || excludedDirs[name] {
		return true
	}
	return s.ignored(absRoot, rel, true)
}

func (s *Scanner) wanted(rel string) bool {
	if s.exts == nil {
		return true
	}
	return s.exts[strings.ToLower(path.Ext(rel))]
}

func (s *Scanner) ignored(absRoot, rel string, isDir bool) bool {
	if m, ign := s.exclude.match(rel, isDir); m && ign {
		return true
	}
	if !s.useVCS {
		return false
	}
	return ignoredBy(s.ruleSets(absRoot, path.Dir(rel)), rel, isDir)
}

// ruleSets loads the ignore files from the root down to dir.
func (s *Scanner) ruleSets(absRoot, dir string) []ruleSet {
	bases := []string{""}
	if dir != "." {
		parts := strings.Split(dir, "/")
		for i := range parts {
			bases = append(bases, strings.Join(parts[:i+1], "/"))
		}
	}
	sets := make([]ruleSet, 0, len(bases))
	for _, base := range bases {
		if rs := s.load(absRoot, base); len(rs.rules) > 0 {
			sets = append(sets, rs)
		}
	}
	return sets
}

func (s *Scanner) load(absRoot, base string) ruleSet {
	file := filepath.Join(absRoot, filepath.FromSlash(base), ".gitignore")
	if rs, ok := s.cache.Get(file); ok {
		return rs
	}
	data, err := os.ReadFile(file)
	if err != nil {
		data = nil
	}
	rs := parseRules(base, string(data))
	s.cache.Add(file, rs)
	return rs
}

// isBinary sniffs the first 8 KiB for a NUL byte.
func isBinary(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 8192)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
