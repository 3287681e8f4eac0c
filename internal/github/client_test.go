package github

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sitelift/sitelift/internal/domain"
)

var testCreds = domain.GitHubCredentials{AccessToken: "gho_test", Username: "octocat"}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(log, srv.URL, 5*time.Second, 3)
	c.retryBase = time.Millisecond
	return c, srv
}

func TestResolveRepositoryReusesExisting(t *testing.T) {
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octocat/my-site", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gho_test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		writeRepo(w, http.StatusOK, "my-site", false)
	})
	c, _ := newTestClient(t, mux)

	handle, err := c.ResolveRepository(context.Background(), testCreds, "my-site", "desc", false)
	if err != nil {
		t.Fatalf("ResolveRepository returned error: %v", err)
	}
	if !handle.Existing {
		t.Fatal("expected an existing repository handle")
	}
	if handle.FullName != "octocat/my-site" {
		t.Fatalf("unexpected full name %q", handle.FullName)
	}
}

func TestResolveRepositoryRetriesNameCollision(t *testing.T) {
	var createdNames []string
	mux := newTestMux()
	mux.HandleFunc("GET /repos/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /user/repos", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		createdNames = append(createdNames, payload.Name)
		if len(createdNames) == 1 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		writeRepo(w, http.StatusCreated, payload.Name, false)
	})
	c, _ := newTestClient(t, mux)

	handle, err := c.ResolveRepository(context.Background(), testCreds, "my-site", "desc", false)
	if err != nil {
		t.Fatalf("ResolveRepository returned error: %v", err)
	}
	if len(createdNames) != 2 {
		t.Fatalf("expected 2 create attempts, got %d", len(createdNames))
	}
	if createdNames[0] != "my-site" {
		t.Fatalf("first attempt should use the requested name, got %q", createdNames[0])
	}
	if !strings.HasPrefix(createdNames[1], "my-site-") || len(createdNames[1]) != len("my-site-")+6 {
		t.Fatalf("collision retry should append a 6 char suffix, got %q", createdNames[1])
	}
	if handle.Existing {
		t.Fatal("created repository must not be marked existing")
	}
	if handle.Name != createdNames[1] {
		t.Fatalf("handle name %q does not match created name %q", handle.Name, createdNames[1])
	}
}

func TestPushBuildsFullTreeAndForceUpdatesRef(t *testing.T) {
	var treePayload struct {
		BaseTree *string `json:"base_tree"`
		Tree     []struct {
			Path string `json:"path"`
			Mode string `json:"mode"`
		} `json:"tree"`
	}
	var refPayload struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	blobCount := 0

	mux := newTestMux()
	mux.HandleFunc("POST /repos/octocat/my-site/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		blobCount++
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "blob-sha"})
	})
	mux.HandleFunc("POST /repos/octocat/my-site/git/trees", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&treePayload)
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "tree-sha"})
	})
	mux.HandleFunc("POST /repos/octocat/my-site/git/commits", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Parents []string `json:"parents"`
			Tree    string   `json:"tree"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if len(payload.Parents) != 0 {
			t.Errorf("commit must not reference parents, got %v", payload.Parents)
		}
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "commit-sha"})
	})
	mux.HandleFunc("PATCH /repos/octocat/my-site/git/refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&refPayload)
		writeJSONStatus(w, http.StatusOK, map[string]string{"ref": "refs/heads/main"})
	})
	c, _ := newTestClient(t, mux)

	handle := RepoHandle{Owner: "octocat", Name: "my-site", FullName: "octocat/my-site"}
	files := map[string][]byte{
		"index.html": []byte("<h1>hi</h1>"),
		"app.js":     []byte("console.log(1)"),
	}
	sha, err := c.Push(context.Background(), testCreds, handle, "main", files)
	if err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	if sha != "commit-sha" {
		t.Fatalf("unexpected commit sha %q", sha)
	}
	// index.html, app.js and the injected LICENSE.
	if blobCount != 3 {
		t.Fatalf("expected 3 blobs, got %d", blobCount)
	}
	if treePayload.BaseTree != nil {
		t.Fatal("tree must be full, not incremental")
	}
	paths := make(map[string]bool, len(treePayload.Tree))
	for _, entry := range treePayload.Tree {
		paths[entry.Path] = true
	}
	for _, want := range []string{"index.html", "app.js", "LICENSE"} {
		if !paths[want] {
			t.Fatalf("tree missing %s, got %v", want, treePayload.Tree)
		}
	}
	if !refPayload.Force {
		t.Fatal("ref update must be forced")
	}
	if refPayload.SHA != "commit-sha" {
		t.Fatalf("ref update carries wrong sha %q", refPayload.SHA)
	}
}

func TestPushCreatesBranchWhenMissing(t *testing.T) {
	refCreated := false
	mux := newTestMux()
	mux.HandleFunc("POST /repos/octocat/my-site/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "blob-sha"})
	})
	mux.HandleFunc("POST /repos/octocat/my-site/git/trees", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "tree-sha"})
	})
	mux.HandleFunc("POST /repos/octocat/my-site/git/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "commit-sha"})
	})
	mux.HandleFunc("PATCH /repos/octocat/my-site/git/refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /repos/octocat/my-site/git/refs", func(w http.ResponseWriter, r *http.Request) {
		refCreated = true
		writeJSONStatus(w, http.StatusCreated, map[string]string{"ref": "refs/heads/main"})
	})
	c, _ := newTestClient(t, mux)

	handle := RepoHandle{Owner: "octocat", Name: "my-site", FullName: "octocat/my-site"}
	sha, err := c.Push(context.Background(), testCreds, handle, "main", map[string][]byte{"index.html": []byte("x")})
	if err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	if sha != "commit-sha" {
		t.Fatalf("unexpected commit sha %q", sha)
	}
	if !refCreated {
		t.Fatal("expected branch creation fallback")
	}
}

// The caller owns push retries and their attempt accounting, so a
// transient failure inside the push sequence must surface after exactly
// one request to the failing endpoint.
func TestPushSurfacesTransientFailureAfterSingleCall(t *testing.T) {
	refHits := 0
	mux := newTestMux()
	mux.HandleFunc("POST /repos/octocat/my-site/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "blob-sha"})
	})
	mux.HandleFunc("POST /repos/octocat/my-site/git/trees", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "tree-sha"})
	})
	mux.HandleFunc("POST /repos/octocat/my-site/git/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusCreated, map[string]string{"sha": "commit-sha"})
	})
	mux.HandleFunc("PATCH /repos/octocat/my-site/git/refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
		refHits++
		w.WriteHeader(http.StatusBadGateway)
	})
	c, _ := newTestClient(t, mux)

	handle := RepoHandle{Owner: "octocat", Name: "my-site", FullName: "octocat/my-site"}
	_, err := c.Push(context.Background(), testCreds, handle, "main", map[string][]byte{"index.html": []byte("x")})
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if refHits != 1 {
		t.Fatalf("ref update must be attempted once per push, got %d", refHits)
	}
}

func TestPushSkipsLicenseWhenPresent(t *testing.T) {
	files := map[string][]byte{
		"index.html": []byte("x"),
		"LICENSE.md": []byte("custom license"),
	}
	ensureLicense(files, "octocat")
	if _, ok := files["LICENSE"]; ok {
		t.Fatal("existing license must not be overridden")
	}
}

func TestCallRetriesTransientStatuses(t *testing.T) {
	hits := 0
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octocat/my-site", func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeRepo(w, http.StatusOK, "my-site", false)
	})
	c, _ := newTestClient(t, mux)

	if _, err := c.GetRepository(context.Background(), testCreds, "octocat/my-site"); err != nil {
		t.Fatalf("GetRepository returned error: %v", err)
	}
	if hits != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits)
	}
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	hits := 0
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octocat/my-site", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.GetRepository(context.Background(), testCreds, "octocat/my-site")
	if domain.KindOf(err) != domain.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if hits != 1 {
		t.Fatalf("auth failures must not be retried, got %d attempts", hits)
	}
}

func TestRateLimitExhaustionIsTransient(t *testing.T) {
	hits := 0
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octocat/my-site", func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeRepo(w, http.StatusOK, "my-site", false)
	})
	c, _ := newTestClient(t, mux)

	if _, err := c.GetRepository(context.Background(), testCreds, "octocat/my-site"); err != nil {
		t.Fatalf("GetRepository returned error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected rate limit retry, got %d attempts", hits)
	}
}

func TestEnablePagesRefusesPrivateRepository(t *testing.T) {
	c, _ := newTestClient(t, http.NewServeMux())
	handle := RepoHandle{Owner: "octocat", Name: "secret", FullName: "octocat/secret", Private: true}
	_, err := c.EnablePages(context.Background(), testCreds, handle, "main", "/")
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnablePagesReturnsExistingConfiguration(t *testing.T) {
	mutated := false
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octocat/my-site/pages", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusOK, map[string]any{
			"html_url": "https://octocat.github.io/my-site/",
			"source":   map[string]string{"branch": "main", "path": "/"},
		})
	})
	mux.HandleFunc("POST /repos/octocat/my-site/pages", func(w http.ResponseWriter, r *http.Request) {
		mutated = true
	})
	mux.HandleFunc("PUT /repos/octocat/my-site/pages", func(w http.ResponseWriter, r *http.Request) {
		mutated = true
	})
	c, _ := newTestClient(t, mux)

	handle := RepoHandle{Owner: "octocat", Name: "my-site", FullName: "octocat/my-site"}
	url, err := c.EnablePages(context.Background(), testCreds, handle, "main", "/")
	if err != nil {
		t.Fatalf("EnablePages returned error: %v", err)
	}
	if url != "https://octocat.github.io/my-site/" {
		t.Fatalf("unexpected pages URL %q", url)
	}
	if mutated {
		t.Fatal("matching configuration must not be rewritten")
	}
}

func TestEnablePagesCreatesConfiguration(t *testing.T) {
	created := false
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octocat/my-site/pages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /repos/octocat/my-site/pages", func(w http.ResponseWriter, r *http.Request) {
		created = true
		writeJSONStatus(w, http.StatusCreated, map[string]any{})
	})
	mux.HandleFunc("GET /repos/octocat/my-site/pages/builds/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "built"})
	})
	c, _ := newTestClient(t, mux)

	handle := RepoHandle{Owner: "octocat", Name: "my-site", FullName: "octocat/my-site"}
	url, err := c.EnablePages(context.Background(), testCreds, handle, "main", "/")
	if err != nil {
		t.Fatalf("EnablePages returned error: %v", err)
	}
	if !created {
		t.Fatal("expected pages to be created")
	}
	if url != "https://octocat.github.io/my-site/" {
		t.Fatalf("unexpected fallback pages URL %q", url)
	}
}

func writeRepo(w http.ResponseWriter, status int, name string, private bool) {
	writeJSONStatus(w, status, map[string]any{
		"name":      name,
		"full_name": "octocat/" + name,
		"private":   private,
		"owner":     map[string]string{"login": "octocat"},
	})
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
