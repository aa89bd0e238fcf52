package vision

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/abhisek/sheetsolver/internal/llm"
)

const fallbackMIME = "image/png"

var errEmptyPayload = errors.New("empty diagram payload")

// DecodeDiagram turns an opaque diagram payload into an image attachment.
// http(s) URLs are passed through for the provider to fetch; data: URIs and
// bare base64 are decoded and their MIME type taken from the URI or sniffed.
func DecodeDiagram(payload string) (llm.Image, error) {
	s := strings.TrimSpace(payload)
	if s == "" {
		return llm.Image{}, errEmptyPayload
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return llm.Image{URL: s}, nil
	}

	data, hint, err := decodeBase64MaybeDataURL(s)
	if err != nil {
		return llm.Image{}, err
	}
	if len(data) == 0 {
		return llm.Image{}, errEmptyPayload
	}
	return llm.Image{Data: data, MIMEType: pickMIME(hint, data)}, nil
}

func decodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	var hint string
	if strings.HasPrefix(s, "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			hint, _, _ = strings.Cut(meta, ";")
			s = s[idx+1:]
		}
	}

	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, hint, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, "", firstErr
}

func pickMIME(hint string, data []byte) string {
	if h := strings.TrimSpace(hint); strings.HasPrefix(h, "image/") {
		return h
	}
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return fallbackMIME
}
