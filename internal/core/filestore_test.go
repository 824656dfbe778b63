package core

import (
	"assetcore/internal/blob"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// flakyBlob fails writes and deletes on demand.
type flakyBlob struct {
	blob.Store
	mu         sync.Mutex
	failPut    bool
	failDelete map[string]bool
	deletes    []string
}

func (f *flakyBlob) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	if f.failPut {
		return blob.Info{}, errors.New("bucket unavailable")
	}
	return f.Store.Put(ctx, key, r, opts)
}

func (f *flakyBlob) Delete(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	f.deletes = append(f.deletes, key)
	fail := f.failDelete[key]
	f.mu.Unlock()
	if fail {
		return false, errors.New("permission denied")
	}
	return f.Store.Delete(ctx, key)
}

func putFile(t *testing.T, store blob.Store, key string) string {
	t.Helper()
	if _, err := store.Put(context.Background(), key, strings.NewReader("data"), blob.PutOptions{}); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
	return store.URL(key)
}

func TestAssetFilePaths(t *testing.T) {
	image := AssetImagePath("a-1", "../../etc/photo.png")
	if !strings.HasPrefix(image, "assets/a-1/images/") || !strings.HasSuffix(image, "-photo.png") {
		t.Fatalf("unexpected image path %q", image)
	}
	if AssetImagePath("a-1", "x.png") == AssetImagePath("a-1", "x.png") {
		t.Fatalf("expected unique paths per upload")
	}
	attachment := AssetAttachmentPath("a-1", `C:\docs\invoice.pdf`)
	if !strings.HasPrefix(attachment, "assets/a-1/attachments/") || !strings.HasSuffix(attachment, "-invoice.pdf") {
		t.Fatalf("unexpected attachment path %q", attachment)
	}
	if got := AssetAttachmentPath("a-1", "  "); !strings.HasSuffix(got, "-file") {
		t.Fatalf("expected fallback name, got %q", got)
	}
}

func TestFileStoreUploadAndDelete(t *testing.T) {
	ctx := context.Background()
	files := NewFileStore(blob.NewMemory())
	url, err := files.Upload(ctx, strings.NewReader("hello"), "assets/a-1/images/x.png", "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	key, err := files.Blob().KeyFor(url)
	if err != nil || key != "assets/a-1/images/x.png" {
		t.Fatalf("expected url to map back to key, got %q %v", key, err)
	}
	if err := files.Delete(ctx, url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := files.Delete(ctx, url); err != nil {
		t.Fatalf("expected deleting a missing file to succeed, got %v", err)
	}
	if err := files.Delete(ctx, "https://elsewhere.example/x.png"); !errors.Is(err, blob.ErrForeignURL) {
		t.Fatalf("expected foreign url error, got %v", err)
	}
	if _, err := files.Upload(ctx, nil, "k", ""); err == nil {
		t.Fatal("expected nil reader to fail")
	}
}

func TestDeleteAllForAssetIsBestEffort(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyBlob{Store: blob.NewMemory(), failDelete: map[string]bool{}}
	logger := &captureLogger{}
	files := NewFileStore(flaky, WithFileLogger(logger), WithCleanupConcurrency(2))

	image := putFile(t, flaky, "assets/a-1/images/1-photo.png")
	att := putFile(t, flaky, "assets/a-1/attachments/2-manual.pdf")
	stray := putFile(t, flaky, "assets/a-1/attachments/3-orphan.txt")
	other := putFile(t, flaky, "assets/a-2/images/4-other.png")
	flaky.failDelete["assets/a-1/attachments/2-manual.pdf"] = true

	asset := Asset{Base: Base{ID: "a-1"}, ImageURL: image, Attachments: []Attachment{
		{Name: "manual.pdf", URL: att},
		{Name: "external", URL: "https://elsewhere.example/file"},
		{Name: "gone", URL: flaky.URL("assets/a-1/attachments/5-gone.pdf")},
	}}
	report := files.DeleteAllForAsset(ctx, asset)

	if report.Attempted != 5 || report.Deleted != 2 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, url := range []string{image, stray} {
		key, _ := flaky.KeyFor(url)
		if _, err := flaky.Head(ctx, key); !errors.Is(err, blob.ErrNotFound) {
			t.Fatalf("expected %s removed, got %v", key, err)
		}
	}
	if _, err := flaky.Head(ctx, "assets/a-2/images/4-other.png"); err != nil {
		t.Fatalf("expected other asset files untouched: %v (%s)", err, other)
	}
	if logger.count("w") < 3 {
		t.Fatalf("expected warnings for each failure and the summary, got %v", logger.calls)
	}
}

func TestCleanupAsyncAndWait(t *testing.T) {
	mem := blob.NewMemory()
	files := NewFileStore(mem)
	putFile(t, mem, "assets/a-1/images/1-photo.png")
	url := putFile(t, mem, "loose/file.txt")

	files.CleanupAsync(Asset{Base: Base{ID: "a-1"}})
	files.DeleteAsync(url)
	files.DeleteAsync()
	files.Wait()

	listed, err := mem.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected every file removed, got %v", listed)
	}
}
