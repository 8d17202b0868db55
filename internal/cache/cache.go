// Package cache keeps a local directory in sync with one exported schema
// version in the blob store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fozzylyon/sf-schemas/internal/logging"
	"github.com/fozzylyon/sf-schemas/internal/metrics"
	"github.com/fozzylyon/sf-schemas/internal/schema"
	"github.com/fozzylyon/sf-schemas/internal/storage"
)

// Loader mirrors <folder>/<version>/ from the blob store into dir.
type Loader struct {
	store  storage.Backend
	folder string
	dir    string
}

// New creates a loader.
func New(store storage.Backend, folder, dir string) *Loader {
	return &Loader{store: store, folder: folder, dir: dir}
}

// Load makes sure dir holds the given version and returns the object names
// available locally, sorted. When the local marker already names version,
// nothing is fetched. A remote listing without any document leaves the
// cache and its marker untouched so the next call tries again.
func (l *Loader) Load(ctx context.Context, version string) ([]string, error) {
	if err := storage.ValidateVersion(version); err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx).With(zap.String("version", version), zap.String("dir", l.dir))

	cached, err := l.CachedVersion()
	if err != nil {
		return nil, err
	}
	if cached == version {
		metrics.RecordCacheLookup(true)
		names, err := l.localObjects()
		if err != nil {
			return nil, err
		}
		logger.Debug("schema cache hit", zap.Int("objects", len(names)))
		return names, nil
	}
	metrics.RecordCacheLookup(false)
	logger.Info("schema cache miss", zap.String("cached", cached))

	prefix := storage.VersionPrefix(l.folder, version)
	keys, err := l.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	files := make([]string, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		// The remote marker is replaced by our own once every download is in.
		if name == "" || name == storage.MarkerName || strings.Contains(name, "/") {
			continue
		}
		files = append(files, name)
	}

	names := []string{}
	for _, f := range files {
		if name, ok := schema.ObjectName(f); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	// Without a document there is nothing worth a marker; leave the
	// current cache alone so the next call asks again.
	if len(names) == 0 {
		logger.Warn("no remote objects for version", zap.String("prefix", prefix), zap.Int("keys", len(keys)))
		return []string{}, nil
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	// A refresh that fails halfway must not leave the old marker vouching
	// for a mix of two versions.
	if err := os.Remove(filepath.Join(l.dir, storage.MarkerName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("clear version marker: %w", err)
	}

	if err := l.downloadAll(ctx, prefix, files); err != nil {
		return nil, err
	}
	if err := l.removeStale(files); err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(l.dir, storage.MarkerName), []byte(version), 0644); err != nil {
		return nil, fmt.Errorf("write version marker: %w", err)
	}

	logger.Info("schema cache refreshed", zap.Int("files", len(files)), zap.Int("objects", len(names)))
	return names, nil
}

// CachedVersion returns the local marker, or "" when there is none.
func (l *Loader) CachedVersion() (string, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, storage.MarkerName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read version marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Document reads one cached schema document.
func (l *Loader) Document(objectName string) (*schema.Document, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, schema.FileName(objectName)))
	if err != nil {
		return nil, fmt.Errorf("read cached %s: %w", objectName, err)
	}
	return schema.Unmarshal(objectName, data)
}

func (l *Loader) localObjects() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := schema.ObjectName(e.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// removeStale deletes cached documents of a previous version that are not
// part of keep, so a later cache hit lists the same objects as this refresh.
func (l *Loader) removeStale(keep []string) error {
	want := make(map[string]bool, len(keep))
	for _, f := range keep {
		want[f] = true
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || want[e.Name()] {
			continue
		}
		if _, ok := schema.ObjectName(e.Name()); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale %s: %w", e.Name(), err)
		}
	}
	return nil
}

// downloadAll fetches every file concurrently and waits for all of them.
// The first error is returned.
func (l *Loader) downloadAll(ctx context.Context, prefix string, files []string) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, name := range files {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := l.download(ctx, prefix+name, name); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	return firstErr
}

// download writes one object to dir atomically (temp file then rename).
func (l *Loader) download(ctx context.Context, key, name string) error {
	r, _, err := l.store.GetObject(ctx, key)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer r.Close()

	localPath := filepath.Join(l.dir, name)
	tmp, err := os.CreateTemp(l.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	metrics.RecordCacheDownload(written)
	return nil
}
