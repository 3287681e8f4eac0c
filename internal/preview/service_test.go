package preview

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sitelift/sitelift/internal/blob"
)

const signingKey = "test-signing-key"

func newTestService(t *testing.T, ttl time.Duration) (*Service, *blob.Store) {
	t.Helper()
	blobs, err := blob.New(t.TempDir())
	if err != nil {
		t.Fatalf("blob init: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(blobs, NewMemoryLeaseStore(), log, signingKey, "http://localhost:4000", ttl)
	return svc, blobs
}

func storeSite(t *testing.T, blobs *blob.Store, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	ref, err := blobs.Put(buf.Bytes())
	if err != nil {
		t.Fatalf("store artifact: %v", err)
	}
	return ref
}

func TestCreateAndServe(t *testing.T) {
	svc, blobs := newTestService(t, time.Minute)
	ref := storeSite(t, blobs, map[string]string{
		"index.html":    "<h1>home</h1>",
		"css/style.css": "body{}",
	})

	lease, err := svc.Create(context.Background(), ref)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !strings.Contains(lease.URL, "/preview/") {
		t.Fatalf("unexpected lease URL %q", lease.URL)
	}

	content, contentType, err := svc.Serve(context.Background(), lease.Token, "")
	if err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}
	if string(content) != "<h1>home</h1>" {
		t.Fatalf("unexpected content %q", content)
	}
	if !strings.HasPrefix(contentType, "text/html") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	css, contentType, err := svc.Serve(context.Background(), lease.Token, "css/style.css")
	if err != nil {
		t.Fatalf("Serve css returned error: %v", err)
	}
	if string(css) != "body{}" {
		t.Fatalf("unexpected css %q", css)
	}
	if !strings.HasPrefix(contentType, "text/css") {
		t.Fatalf("unexpected css content type %q", contentType)
	}
}

func TestServeDirectoryIndexFallback(t *testing.T) {
	svc, blobs := newTestService(t, time.Minute)
	ref := storeSite(t, blobs, map[string]string{
		"index.html":      "<h1>home</h1>",
		"docs/index.html": "<h1>docs</h1>",
	})
	lease, err := svc.Create(context.Background(), ref)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	content, _, err := svc.Serve(context.Background(), lease.Token, "docs")
	if err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}
	if string(content) != "<h1>docs</h1>" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestServeMissingFileReturnsNotFound(t *testing.T) {
	svc, blobs := newTestService(t, time.Minute)
	ref := storeSite(t, blobs, map[string]string{"index.html": "x"})
	lease, err := svc.Create(context.Background(), ref)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, _, err := svc.Serve(context.Background(), lease.Token, "missing.html"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServeTraversalStaysInsideArtifact(t *testing.T) {
	svc, blobs := newTestService(t, time.Minute)
	ref := storeSite(t, blobs, map[string]string{"index.html": "<h1>home</h1>"})
	lease, err := svc.Create(context.Background(), ref)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	// Clean collapses the traversal back to the entry point.
	content, _, err := svc.Serve(context.Background(), lease.Token, "../../index.html")
	if err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}
	if string(content) != "<h1>home</h1>" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestServeExpiredLease(t *testing.T) {
	svc, blobs := newTestService(t, 5*time.Millisecond)
	ref := storeSite(t, blobs, map[string]string{"index.html": "x"})
	lease, err := svc.Create(context.Background(), ref)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, _, err := svc.Serve(context.Background(), lease.Token, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestServeForgedTokenReturnsNotFound(t *testing.T) {
	svc, blobs := newTestService(t, time.Minute)
	storeSite(t, blobs, map[string]string{"index.html": "x"})
	if _, _, err := svc.Serve(context.Background(), "not-a-token", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRequiresStoredArtifact(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	if _, err := svc.Create(context.Background(), strings.Repeat("a", 64)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
