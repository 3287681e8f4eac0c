package workspace

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
)

// Unpack expands a ZIP artifact into its file set. Entry names are the
// forward-slash relative paths written by Archive.
func Unpack(data []byte) (map[string][]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open artifact zip: %w", err)
	}
	files := make(map[string][]byte, len(reader.File))
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", entry.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip entry %s: %w", entry.Name, err)
		}
		files[entry.Name] = content
	}
	return files, nil
}

// Archive timestamps are pinned so identical trees produce identical ZIP
// bytes and therefore identical artifact references.
var archiveEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Archive packs the directory tree into a deterministic ZIP byte stream.
func Archive(dir string) ([]byte, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, path := range paths {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, fmt.Errorf("relativize %s: %w", path, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		header := &zip.FileHeader{
			Name:     filepath.ToSlash(rel),
			Method:   zip.Deflate,
			Modified: archiveEpoch,
		}
		header.SetMode(info.Mode())
		fw, err := w.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", rel, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		if _, err := fw.Write(data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", rel, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}
