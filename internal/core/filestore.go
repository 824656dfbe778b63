package core

import (
	"assetcore/internal/blob"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCleanupConcurrency = 4
	defaultCleanupTimeout     = 2 * time.Minute
)

// FileStore uploads and removes the files attached to assets. Deletions made
// on behalf of record changes are best-effort: failures are logged and never
// returned to the operation that triggered them.
type FileStore struct {
	store       blob.Store
	logger      Logger
	concurrency int
	timeout     time.Duration
	pending     sync.WaitGroup
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileLogger sets the logger used for cleanup warnings.
func WithFileLogger(logger Logger) FileStoreOption {
	return func(f *FileStore) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithCleanupConcurrency bounds the number of concurrent deletions.
func WithCleanupConcurrency(n int) FileStoreOption {
	return func(f *FileStore) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithCleanupTimeout bounds a background cleanup started by CleanupAsync.
func WithCleanupTimeout(d time.Duration) FileStoreOption {
	return func(f *FileStore) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewFileStore wraps a blob store.
func NewFileStore(store blob.Store, opts ...FileStoreOption) *FileStore {
	f := &FileStore{
		store:       store,
		logger:      noopLogger{},
		concurrency: defaultCleanupConcurrency,
		timeout:     defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Blob returns the underlying blob store.
func (f *FileStore) Blob() blob.Store {
	return f.store
}

// AssetImagePath returns a fresh storage path for an asset image.
func AssetImagePath(assetID, filename string) string {
	return assetFilePath(assetID, "images", filename)
}

// AssetAttachmentPath returns a fresh storage path for an asset attachment.
func AssetAttachmentPath(assetID, filename string) string {
	return assetFilePath(assetID, "attachments", filename)
}

func assetFilePrefix(assetID string) string {
	return "assets/" + assetID + "/"
}

func assetFilePath(assetID, kind, filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s%s/%s-%s", assetFilePrefix(assetID), kind, uuid.NewString(), name)
}

// Upload stores r at path and returns its URL.
func (f *FileStore) Upload(ctx context.Context, r io.Reader, path, contentType string) (string, error) {
	info, err := f.put(ctx, r, path, contentType)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (f *FileStore) put(ctx context.Context, r io.Reader, key, contentType string) (blob.Info, error) {
	if r == nil {
		return blob.Info{}, fmt.Errorf("upload %s: nil reader", key)
	}
	info, err := f.store.Put(ctx, key, r, blob.PutOptions{ContentType: contentType})
	if err != nil {
		return blob.Info{}, fmt.Errorf("upload %s: %w", key, err)
	}
	if info.Key == "" {
		info.Key = key
	}
	info.URL = f.store.URL(info.Key)
	return info, nil
}

// Delete removes the file behind url. A file that is already gone is not an
// error; a URL served by another store is.
func (f *FileStore) Delete(ctx context.Context, url string) error {
	key, err := f.store.KeyFor(url)
	if err != nil {
		return fmt.Errorf("delete %s: %w", url, err)
	}
	if _, err := f.store.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", url, err)
	}
	return nil
}

// CleanupReport summarizes a best-effort cleanup.
type CleanupReport struct {
	Attempted int
	Deleted   int
	Failed    int
}

// DeleteAllForAsset removes every file referenced by the asset plus anything
// left under its storage prefix. Each failure is logged and counted.
func (f *FileStore) DeleteAllForAsset(ctx context.Context, asset Asset) CleanupReport {
	var report CleanupReport
	seen := make(map[string]struct{})
	var keys []string
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	for _, url := range asset.FileURLs() {
		key, err := f.store.KeyFor(url)
		if err != nil {
			report.Attempted++
			report.Failed++
			f.logger.Warn("file cleanup skipped", "asset_id", asset.ID, "url", url, "error", err)
			continue
		}
		add(key)
	}
	if asset.ID != "" {
		listed, err := f.store.List(ctx, assetFilePrefix(asset.ID))
		if err != nil {
			f.logger.Warn("file cleanup listing failed", "asset_id", asset.ID, "error", err)
		}
		for _, info := range listed {
			add(info.Key)
		}
	}

	var deleted, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			ok, err := f.store.Delete(ctx, key)
			switch {
			case err != nil && !errors.Is(err, blob.ErrNotFound):
				failed.Add(1)
				f.logger.Warn("file cleanup failed", "asset_id", asset.ID, "key", key, "error", err)
			case ok:
				deleted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Attempted += len(keys)
	report.Deleted = int(deleted.Load())
	report.Failed += int(failed.Load())
	if report.Failed > 0 {
		f.logger.Warn("file cleanup incomplete", "asset_id", asset.ID, "attempted", report.Attempted, "failed", report.Failed)
	}
	return report
}

// CleanupAsync runs DeleteAllForAsset in the background, detached from any
// caller cancellation.
func (f *FileStore) CleanupAsync(asset Asset) {
	f.run(func(ctx context.Context) {
		f.DeleteAllForAsset(ctx, asset)
	})
}

// DeleteAsync removes the given URLs in the background.
func (f *FileStore) DeleteAsync(urls ...string) {
	if len(urls) == 0 {
		return
	}
	f.run(func(ctx context.Context) {
		for _, url := range urls {
			if err := f.Delete(ctx, url); err != nil {
				f.logger.Warn("file cleanup failed", "url", url, "error", err)
			}
		}
	})
}

func (f *FileStore) run(fn func(ctx context.Context)) {
	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every background cleanup has finished.
func (f *FileStore) Wait() {
	f.pending.Wait()
}
