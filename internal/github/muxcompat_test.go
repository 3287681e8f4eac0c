package github

// http.ServeMux only understands method-prefixed patterns and {wildcard}
// segments from Go 1.22 onward. These tests register handlers in that
// style, so under the Go 1.21 toolchain they need this small router that
// implements the same matching for the patterns the tests use.

import (
	"net/http"
	"strings"
)

type testMux struct {
	routes []testRoute
}

type testRoute struct {
	method   string
	segments []string
	prefix   bool
	handler  http.HandlerFunc
}

func newTestMux() *testMux { return &testMux{} }

func (m *testMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		method, path = "", pattern
	}
	prefix := strings.HasSuffix(path, "/")
	m.routes = append(m.routes, testRoute{
		method:   method,
		segments: splitPathSegments(path),
		prefix:   prefix,
		handler:  handler,
	})
}

func (m *testMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := splitPathSegments(r.URL.Path)
	for _, route := range m.routes {
		if route.method != "" && route.method != r.Method {
			continue
		}
		if route.prefix {
			if len(segments) < len(route.segments) {
				continue
			}
		} else if len(segments) != len(route.segments) {
			continue
		}
		matched := true
		for i, want := range route.segments {
			if strings.HasPrefix(want, "{") && strings.HasSuffix(want, "}") {
				continue
			}
			if want != segments[i] {
				matched = false
				break
			}
		}
		if matched {
			route.handler(w, r)
			return
		}
	}
	http.NotFound(w, r)
}

func splitPathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
