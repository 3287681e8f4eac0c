package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitelift/sitelift/internal/domain"
)

// Manager owns job-specific build directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Prepare creates an isolated directory for the provided job identifier,
// discarding any leftover from a previous crashed run.
func (m *Manager) Prepare(jobID string) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := filepath.Join(m.root, jobID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes the workspace directory.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Ensure we only remove directories within the configured root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// Sweep removes every job directory under the root. Used on worker start
// to reclaim workspaces orphaned by a crash.
func (m *Manager) Sweep() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("read workspace root: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			return fmt.Errorf("sweep workspace %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// resolvePath validates that rel stays inside dir and returns the absolute
// target. Absolute paths and any form of parent escape are refused.
func resolvePath(dir, rel string) (string, error) {
	name := strings.TrimSpace(rel)
	if name == "" {
		return "", domain.Validationf("empty file path")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return "", domain.Traversalf("absolute path %q is not allowed", rel)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.Traversalf("path %q escapes the workspace", rel)
	}
	target := filepath.Join(dir, clean)
	if target != dir && !strings.HasPrefix(target, dir+string(filepath.Separator)) {
		return "", domain.Traversalf("path %q escapes the workspace", rel)
	}
	return target, nil
}

// WriteAttachments copies attachments into dir verbatim. Oversized or
// undecodable payloads are validation failures.
func WriteAttachments(dir string, attachments []domain.Attachment, limitBytes int64) error {
	for _, attachment := range attachments {
		payload, err := attachment.Decode()
		if err != nil {
			return err
		}
		if int64(len(payload)) > limitBytes {
			return domain.Validationf("attachment %s exceeds limit of %d bytes", attachment.Name, limitBytes)
		}
		target, err := resolvePath(dir, attachment.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create attachment dir: %w", err)
		}
		if err := os.WriteFile(target, payload, 0o644); err != nil {
			return fmt.Errorf("write attachment %s: %w", attachment.Name, err)
		}
	}
	return nil
}

// WriteManifest materializes manifest files into dir. Written after
// attachments so manifest entries win on name collision.
func WriteManifest(dir string, manifest *domain.Manifest) error {
	for _, file := range manifest.Files {
		target, err := resolvePath(dir, file.Path)
		if err != nil {
			return err
		}
		payload, err := file.Bytes()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create manifest dir: %w", err)
		}
		mode := os.FileMode(0o644)
		if file.Executable {
			mode = 0o755
		}
		if err := os.WriteFile(target, payload, mode); err != nil {
			return fmt.Errorf("write manifest file %s: %w", file.Path, err)
		}
	}
	if manifest.Readme != "" {
		if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(manifest.Readme), 0o644); err != nil {
			return fmt.Errorf("write manifest readme: %w", err)
		}
	}
	return nil
}

// EnsureReadme writes a fallback README when the manifest supplied none.
func EnsureReadme(dir, content string) error {
	path := filepath.Join(dir, "README.md")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
