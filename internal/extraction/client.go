// Package extraction talks to the document extraction service: it submits a
// worksheet, polls the resulting job and normalizes the pages it returns into
// problem records.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/resilience"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
	statusError     = "error"

	// maxErrorBody caps how much of an error response ends up in messages.
	maxErrorBody = 512
)

// errPending is the synthetic error the poll loop retries on.
var errPending = errors.New("job still pending")

// Client is an extraction service client. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for cfg. Missing credentials are reported here as
// fault.MissingConfiguration rather than on the first call.
func New(cfg Config, log zerolog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fault.Wrap(fault.MissingConfiguration, "extraction", err)
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = DefaultFormats
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		log:  log.With().Str("component", "extraction").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ExtractProblems submits document, waits for the job to complete and
// returns its problems in document order.
func (c *Client) ExtractProblems(ctx context.Context, document []byte, filename string) ([]worksheet.ProblemRecord, error) {
	started := time.Now()

	jobID, err := c.submit(ctx, document, filename)
	if err != nil {
		return nil, err
	}
	log := c.log.With().Str("job_id", jobID).Logger()
	log.Info().Str("filename", filename).Int("bytes", len(document)).Msg("extraction.submitted")

	data, err := c.wait(ctx, jobID, log)
	if err != nil {
		log.Error().Err(err).Msg("extraction.failed")
		return nil, err
	}

	problems, err := NormalizeJSON(data)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamProtocol, "extraction.decode", err)
	}
	log.Info().
		Int("problems", len(problems)).
		Dur("elapsed", time.Since(started)).
		Msg("extraction.completed")
	return problems, nil
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) submit(ctx context.Context, document []byte, filename string) (string, error) {
	const op = "extraction.submit"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(document); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	opts, err := json.Marshal(map[string]any{"formats": c.cfg.Formats})
	if err != nil {
		return "", fmt.Errorf("marshal options: %w", err)
	}
	if err := mw.WriteField("options_json", string(opts)); err != nil {
		return "", fmt.Errorf("write options: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/documents", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out submitResponse
	if err := c.do(req, op, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fault.New(fault.UpstreamProtocol, op, "response carries no job id")
	}
	return out.JobID, nil
}

// wait polls the job until it leaves the pending state or the poll budget
// is spent.
func (c *Client) wait(ctx context.Context, jobID string, log zerolog.Logger) (json.RawMessage, error) {
	policy := c.cfg.Poll
	policy.Retryable = func(err error) bool {
		return errors.Is(err, errPending) || fault.Is(err, fault.UpstreamUnavailable)
	}
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		ev := log.Debug()
		if !errors.Is(err, errPending) {
			ev = log.Warn().Err(err)
		}
		ev.Int("attempt", attempt).Dur("delay", delay).Msg("extraction.poll.pending")
	}

	data, err := resilience.Retry(ctx, policy, func(ctx context.Context) (json.RawMessage, error) {
		return c.status(ctx, jobID)
	})
	if errors.Is(err, errPending) {
		return nil, fault.New(fault.UpstreamTimeout, "extraction.poll",
			"job %s still pending after %d attempts", jobID, policy.Retries+1)
	}
	return data, err
}

func (c *Client) status(ctx context.Context, jobID string) (json.RawMessage, error) {
	const op = "extraction.poll"

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/documents/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	var out statusResponse
	if err := c.do(req, op, &out); err != nil {
		return nil, err
	}

	switch out.Status {
	case statusCompleted:
		return out.Data, nil
	case statusPending, "processing", "received":
		return nil, errPending
	case statusError:
		msg := out.Error
		if msg == "" {
			msg = "job reported an error"
		}
		return nil, fault.New(fault.UpstreamProcessingFailed, op, "job %s: %s", jobID, msg)
	default:
		return nil, fault.New(fault.UpstreamProtocol, op, "unknown job status %q", out.Status)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("app_id", c.cfg.AppID)
	req.Header.Set("app_key", c.cfg.AppKey)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a JSON body into out, classifying failures.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fault.Wrap(fault.UpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.UpstreamUnavailable, op, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fault.New(fault.UpstreamUnavailable, op, "status %d: %s", resp.StatusCode, truncate(body))
	case resp.StatusCode >= 400:
		return fault.New(fault.UpstreamProtocol, op, "status %d: %s", resp.StatusCode, truncate(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fault.Wrap(fault.UpstreamProtocol, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
