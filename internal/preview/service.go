package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sitelift/sitelift/internal/blob"
	"github.com/sitelift/sitelift/internal/workspace"
	"github.com/sitelift/sitelift/pkg/jwt"
)

// Serve outcomes.
var (
	ErrExpired  = errors.New("preview: lease expired")
	ErrNotFound = errors.New("preview: not found")
)

// Lease is a time-boxed read-only view of one artifact.
type Lease struct {
	Token     string
	URL       string
	ExpiresAt time.Time
}

// Service issues and serves preview leases. Content is resolved purely
// statically from the stored ZIP; nothing in the artifact ever executes
// server-side.
type Service struct {
	blobs      *blob.Store
	leases     LeaseStore
	logger     *slog.Logger
	signingKey string
	baseURL    string
	ttl        time.Duration
}

// New returns a preview service.
func New(blobs *blob.Store, leases LeaseStore, logger *slog.Logger, signingKey, baseURL string, ttl time.Duration) *Service {
	return &Service{
		blobs:      blobs,
		leases:     leases,
		logger:     logger,
		signingKey: signingKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		ttl:        ttl,
	}
}

// Create allocates a lease for the artifact. The artifact itself is only
// referenced, never copied.
func (s *Service) Create(ctx context.Context, artifactRef string) (Lease, error) {
	if !s.blobs.Exists(artifactRef) {
		return Lease{}, ErrNotFound
	}
	leaseID := uuid.NewString()
	token, err := jwt.GenerateLeaseToken(leaseID, artifactRef, s.signingKey, s.ttl)
	if err != nil {
		return Lease{}, fmt.Errorf("sign lease token: %w", err)
	}
	if err := s.leases.Put(ctx, leaseID, s.ttl); err != nil {
		return Lease{}, fmt.Errorf("record lease: %w", err)
	}
	expires := time.Now().Add(s.ttl)
	s.logger.Info("preview lease created", "artifact_ref", artifactRef, "expires_at", expires)
	return Lease{
		Token:     token,
		URL:       s.baseURL + "/preview/" + token + "/",
		ExpiresAt: expires,
	}, nil
}

// Serve resolves requestedPath inside the leased artifact. Expired or
// purged leases return ErrExpired; a forged token or missing file returns
// ErrNotFound.
func (s *Service) Serve(ctx context.Context, token, requestedPath string) ([]byte, string, error) {
	claims, err := jwt.ParseLeaseToken(token, s.signingKey)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, "", ErrExpired
		}
		return nil, "", ErrNotFound
	}
	live, err := s.leases.Exists(ctx, claims.LeaseID)
	if err != nil {
		return nil, "", err
	}
	if !live {
		return nil, "", ErrExpired
	}

	data, err := s.blobs.Get(claims.ArtifactRef)
	if err != nil {
		return nil, "", ErrNotFound
	}
	files, err := workspace.Unpack(data)
	if err != nil {
		return nil, "", fmt.Errorf("unpack artifact: %w", err)
	}

	name := normalizePath(requestedPath)
	content, ok := files[name]
	if !ok {
		// Directory request: fall back to its index document.
		indexName := name + "/index.html"
		if idx, found := files[indexName]; found {
			return idx, contentType(indexName, idx), nil
		}
		return nil, "", ErrNotFound
	}
	return content, contentType(name, content), nil
}

// normalizePath maps a request path onto a ZIP entry name. Traversal
// segments are stripped by path.Clean; empty paths fall back to the site
// entry point.
func normalizePath(requested string) string {
	cleaned := path.Clean("/" + strings.TrimSpace(requested))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "index.html"
	}
	return cleaned
}

func contentType(name string, content []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}
