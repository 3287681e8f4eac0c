package blob

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zeebo/blake3"

	"github.com/sitelift/sitelift/internal/domain"
)

var refPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is a content-addressed artifact store on the local filesystem.
// The reference of an artifact is the BLAKE3-256 digest of its bytes, so
// writes are idempotent and reads are verifiable.
type Store struct {
	root string
}

// New ensures the artifact root exists.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Ref computes the content address for data.
func Ref(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its reference. Storing the same bytes twice
// is a no-op.
func (s *Store) Put(data []byte) (string, error) {
	ref := Ref(data)
	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return "", fmt.Errorf("stage artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return ref, nil
}

// Get reads an artifact and verifies it still matches its reference.
func (s *Store) Get(ref string) ([]byte, error) {
	if !refPattern.MatchString(ref) {
		return nil, domain.Validationf("malformed artifact reference")
	}
	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return nil, domain.Validationf("artifact %s not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if Ref(data) != ref {
		return nil, domain.Integrityf("artifact %s failed content verification", ref)
	}
	return data, nil
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(ref string) bool {
	if !refPattern.MatchString(ref) {
		return false
	}
	_, err := os.Stat(s.path(ref))
	return err == nil
}

func (s *Store) path(ref string) string {
	return filepath.Join(s.root, ref+".zip")
}
