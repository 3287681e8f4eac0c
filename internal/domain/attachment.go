package domain

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// Attachment is a user-supplied input file delivered inline as a data URL.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Decode extracts the attachment bytes. Only data: URLs are accepted;
// remote fetching happens upstream of submission.
func (a Attachment) Decode() ([]byte, error) {
	if !strings.HasPrefix(a.URL, "data:") {
		return nil, Validationf("attachment %s: unsupported URL scheme", a.Name)
	}
	header, data, ok := strings.Cut(a.URL, ",")
	if !ok {
		return nil, Validationf("attachment %s: malformed data URL", a.Name)
	}
	if strings.Contains(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, Validationf("attachment %s: invalid base64 payload", a.Name)
		}
		return decoded, nil
	}
	unescaped, err := url.QueryUnescape(data)
	if err != nil {
		return nil, Validationf("attachment %s: invalid percent encoding", a.Name)
	}
	return []byte(unescaped), nil
}

// MediaType returns the declared media type, defaulting to octet-stream.
func (a Attachment) MediaType() string {
	if !strings.HasPrefix(a.URL, "data:") {
		return "application/octet-stream"
	}
	header, _, _ := strings.Cut(a.URL, ",")
	mediaType, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	if mediaType == "" {
		return "application/octet-stream"
	}
	return mediaType
}
