package workspace

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sitelift/sitelift/internal/blob"
	"github.com/sitelift/sitelift/internal/domain"
)

const attachmentLimit = 1 << 20

func TestManifestWinsAttachmentCollision(t *testing.T) {
	dir := t.TempDir()
	attachments := []domain.Attachment{
		{Name: "index.html", URL: dataURL("<h1>attachment version</h1>")},
		{Name: "data.csv", URL: dataURL("a,b\n1,2")},
	}
	manifest := &domain.Manifest{Files: []domain.ManifestFile{
		{Path: "index.html", Content: `<h1 id="total-sales">42</h1>`},
	}}

	if err := WriteAttachments(dir, attachments, attachmentLimit); err != nil {
		t.Fatalf("WriteAttachments returned error: %v", err)
	}
	if err := WriteManifest(dir, manifest); err != nil {
		t.Fatalf("WriteManifest returned error: %v", err)
	}

	index, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("read index.html: %v", err)
	}
	if !strings.Contains(string(index), `id="total-sales"`) {
		t.Fatalf("manifest content should win collisions, got %q", index)
	}
	if _, err := os.Stat(filepath.Join(dir, "data.csv")); err != nil {
		t.Fatalf("non-colliding attachment missing: %v", err)
	}
}

func TestWriteManifestRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	manifest := &domain.Manifest{Files: []domain.ManifestFile{
		{Path: "ok.txt", Content: "fine"},
		{Path: "../escape.txt", Content: "nope"},
	}}

	err := WriteManifest(dir, manifest)
	if domain.KindOf(err) != domain.KindPathTraversal {
		t.Fatalf("expected path traversal error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); statErr == nil {
		t.Fatal("traversal target was written outside the workspace")
	}
}

func TestWriteManifestRejectsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	manifest := &domain.Manifest{Files: []domain.ManifestFile{
		{Path: "/etc/evil", Content: "nope"},
	}}
	if err := WriteManifest(dir, manifest); domain.KindOf(err) != domain.KindPathTraversal {
		t.Fatalf("expected path traversal error, got %v", err)
	}
}

func TestWriteAttachmentsEnforcesLimit(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", 32)
	attachments := []domain.Attachment{{Name: "big.txt", URL: dataURL(big)}}
	if err := WriteAttachments(dir, attachments, 16); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manifest := &domain.Manifest{
		Files: []domain.ManifestFile{
			{Path: "index.html", Content: "<h1>hi</h1>"},
			{Path: "assets/app.js", Content: "console.log(1)"},
		},
		Readme: "# Site",
	}
	if err := WriteManifest(dir, manifest); err != nil {
		t.Fatalf("WriteManifest returned error: %v", err)
	}

	data, err := Archive(dir)
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	files, err := Unpack(data)
	if err != nil {
		t.Fatalf("Unpack returned error: %v", err)
	}
	for _, name := range []string{"index.html", "assets/app.js", "README.md"} {
		if _, ok := files[name]; !ok {
			t.Fatalf("archive missing %s, have %v", name, keys(files))
		}
	}
	if string(files["index.html"]) != "<h1>hi</h1>" {
		t.Fatalf("unexpected index content %q", files["index.html"])
	}
}

func TestArchiveIsDeterministic(t *testing.T) {
	write := func() string {
		dir := t.TempDir()
		manifest := &domain.Manifest{Files: []domain.ManifestFile{
			{Path: "b.txt", Content: "bee"},
			{Path: "a.txt", Content: "ay"},
		}}
		if err := WriteManifest(dir, manifest); err != nil {
			t.Fatalf("WriteManifest returned error: %v", err)
		}
		data, err := Archive(dir)
		if err != nil {
			t.Fatalf("Archive returned error: %v", err)
		}
		return blob.Ref(data)
	}
	if first, second := write(), write(); first != second {
		t.Fatalf("identical trees produced different refs: %s vs %s", first, second)
	}
}

func TestEnsureReadmeDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureReadme(dir, "fallback"); err != nil {
		t.Fatalf("EnsureReadme returned error: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "existing" {
		t.Fatalf("existing README was overwritten: %q", content)
	}
}

func TestManagerCleanupRefusesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	m, err := New(filepath.Join(root, "ws"))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	outside := filepath.Join(root, "elsewhere")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.Cleanup(outside); err == nil {
		t.Fatal("expected cleanup outside root to be refused")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside directory was removed: %v", err)
	}
}

func TestManagerSweepClearsLeftovers(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	dir, err := m.Prepare("job-1")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "leftover.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Sweep(); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be swept, stat err: %v", err)
	}
}

func dataURL(content string) string {
	return "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte(content))
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
