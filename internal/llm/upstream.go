package llm

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/abhisek/sheetsolver/internal/fault"
)

// classifyStatus turns an HTTP failure reported by a provider SDK into the
// package's error types. status 0 means the SDK never got a response.
//
//	429            -> ErrRateLimit (honouring retryAfter)
//	401, 403       -> fault.MissingConfiguration, never retried
//	408, 5xx, 0    -> ErrProviderUnavailable
//	other 4xx      -> ErrInvalidResponse
func classifyStatus(provider string, status int, retryAfter time.Duration, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &ErrRateLimit{RetryAfter: retryAfter, Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.Wrap(fault.MissingConfiguration, provider+".auth", err)
	case status == 0 || status == http.StatusRequestTimeout || status >= 500:
		return &ErrProviderUnavailable{Err: err}
	case status >= 400:
		return &ErrInvalidResponse{Err: err}
	}
	return &ErrProviderUnavailable{Err: err}
}

// retryAfterSeconds reads a Retry-After header given in seconds.
func retryAfterSeconds(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// finishStructured applies the structured-output rules every provider
// shares: a truncated answer to a schema request is ErrMaxTokensExceeded
// carrying what was produced, anything else must satisfy the schema.
func finishStructured(req Request, content json.RawMessage, truncated bool) error {
	if req.Schema == nil {
		return nil
	}
	if truncated {
		return &ErrMaxTokensExceeded{Content: content}
	}
	return validateResponse(req.Schema, content)
}

// base64Data returns the inline payload of a page or diagram image.
func (i Image) base64Data() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// dataURI renders the image as a URL: the remote URL as-is, inline bytes as
// a data URI.
func (i Image) dataURI() string {
	if !i.Inline() {
		return i.URL
	}
	return "data:" + i.MIMEType + ";base64," + i.base64Data()
}
