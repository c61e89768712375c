// Package contextdocs maintains the gateway's context-engineering documents:
// generated markdown describing the analyzed environment, exposed to clients
// as MCP resources under the contextdocs:// scheme. A filesystem watcher
// signals list changes so connected sessions learn about regenerated docs.
package contextdocs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
)

// Scheme is the URI scheme prefix for context documents.
const Scheme = "contextdocs://"

const markdownMimeType = "text/markdown"

// Store serves markdown documents from a root directory. Reads are constrained
// to the resolved root; traversal and symlink escape both resolve to
// not-found. All methods are safe for concurrent use.
type Store struct {
	log  *slog.Logger
	root string // absolute, symlink-evaluated

	notifier ChangeNotifier

	watchOnce sync.Once
}

// NewStore opens (creating if needed) the docs directory at root.
func NewStore(log *slog.Logger, root string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve docs root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create docs root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve docs root: %w", err)
	}
	return &Store{log: log, root: real}, nil
}

// Root returns the resolved docs directory.
func (s *Store) Root() string { return s.root }

// Notifier exposes the list-changed notifier for transports to subscribe to.
func (s *Store) Notifier() *ChangeNotifier { return &s.notifier }

// List returns descriptors for every markdown document, sorted by URI.
func (s *Store) List(ctx context.Context) ([]mcp.Resource, error) {
	var out []mcp.Resource
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable nodes
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !strings.HasSuffix(p, ".md") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		out = append(out, mcp.Resource{
			URI:      s.relToURI(rel),
			Name:     path.Base(rel),
			MimeType: markdownMimeType,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// Read returns the contents of the document at uri.
func (s *Store) Read(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	rel, ok := s.uriToRel(uri)
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	real, err := filepath.EvalSymlinks(abs)
	if err != nil || !within(real, s.root) {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	return []mcp.ResourceContents{{
		URI:      uri,
		MimeType: markdownMimeType,
		Text:     string(data),
	}}, nil
}

// Write creates or replaces the document at the given relative path (slash
// separated, ".md" enforced) and signals list-changed. Returns the document's
// URI.
func (s *Store) Write(ctx context.Context, rel string, content string) (string, error) {
	rel = path.Clean(strings.TrimPrefix(filepath.ToSlash(rel), "/"))
	if rel == "." || strings.HasPrefix(rel, "../") || strings.Contains(rel, ":") {
		return "", fmt.Errorf("invalid document path: %s", rel)
	}
	if !strings.HasSuffix(rel, ".md") {
		rel += ".md"
	}

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if !within(abs, s.root) {
		return "", fmt.Errorf("invalid document path: %s", rel)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create doc dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write doc: %w", err)
	}

	uri := s.relToURI(rel)
	s.log.InfoContext(ctx, "contextdocs.write", slog.String("uri", uri), slog.Int("bytes", len(content)))
	_ = s.notifier.Notify(ctx)
	return uri, nil
}

// Watch runs an fsnotify loop over the docs tree until ctx is done, signalling
// the notifier on creates, removes, renames, and writes. Started at most once
// per Store; later calls return immediately.
func (s *Store) Watch(ctx context.Context) {
	started := false
	s.watchOnce.Do(func() { started = true })
	if !started {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.DebugContext(ctx, "contextdocs.watch.unavailable", slog.String("err", err.Error()))
		return
	}
	defer func() { _ = w.Close() }()

	addDirs := func() {
		_ = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			return w.Add(p)
		})
	}
	addDirs()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				_ = s.notifier.Notify(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.DebugContext(ctx, "contextdocs.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (s *Store) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return Scheme + strings.Join(segs, "/")
}

func (s *Store) uriToRel(uri string) (string, bool) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", false
	}
	p := strings.TrimPrefix(uri, Scheme)
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		dec, err := url.PathUnescape(seg)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if rel == "." || strings.HasPrefix(rel, "../") || strings.Contains(rel, ":") {
		return "", false
	}
	return rel, true
}

// within reports whether target equals root or is a descendant of it.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !strings.HasPrefix(rel, "../")
}
