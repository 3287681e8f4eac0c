package domain

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
)

// Manifest encodings.
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// ManifestFile is one generated file: a relative path plus its content,
// either literal text or base64 for binary assets.
type ManifestFile struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Encoding   string `json:"encoding,omitempty"`
	Executable bool   `json:"executable,omitempty"`
}

// Bytes decodes the file content.
func (f ManifestFile) Bytes() ([]byte, error) {
	if f.Encoding == EncodingBase64 {
		data, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, Validationf("manifest file %s: invalid base64 content", f.Path)
		}
		return data, nil
	}
	return []byte(f.Content), nil
}

// Manifest is the validated output of one generation call: a file set
// describing a directly deployable static site. Commands are carried for
// audit only; shell execution is disabled.
type Manifest struct {
	Files    []ManifestFile `json:"files"`
	Readme   string         `json:"readme,omitempty"`
	Commands []string       `json:"commands,omitempty"`
}

var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// ParseManifest extracts and validates a manifest from a raw model
// completion. Models often wrap JSON in prose or fences, so the first
// top-level JSON object is taken.
func ParseManifest(raw string) (*Manifest, error) {
	candidate := jsonBlock.FindString(raw)
	if candidate == "" {
		return nil, Validationf("generation response did not contain a JSON manifest")
	}
	var m Manifest
	if err := json.Unmarshal([]byte(candidate), &m); err != nil {
		return nil, Wrap(KindValidation, err, "generation response is not valid manifest JSON")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the manifest schema: at least one file, non-empty
// relative paths, known encodings, decodable base64.
func (m *Manifest) Validate() error {
	if len(m.Files) == 0 {
		return Validationf("manifest contains no files")
	}
	for _, f := range m.Files {
		path := strings.TrimSpace(f.Path)
		if path == "" {
			return Validationf("manifest contains a file with an empty path")
		}
		switch f.Encoding {
		case "", EncodingText, EncodingBase64:
		default:
			return Validationf("manifest file %s: unsupported encoding %q", f.Path, f.Encoding)
		}
		if f.Encoding == EncodingBase64 {
			if _, err := base64.StdEncoding.DecodeString(f.Content); err != nil {
				return Validationf("manifest file %s: invalid base64 content", f.Path)
			}
		}
	}
	return nil
}
