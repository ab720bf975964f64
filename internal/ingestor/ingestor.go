// Package ingestor retrieves workflow run and job logs and turns them into
// text ready for scanning.
package ingestor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/jenian/iswith/internal/model"
)

const (
	// MaxLogBytes bounds the decoded size of a single log (64MB)
	MaxLogBytes = 64 * 1024 * 1024
	// DefaultTimeout applies to a single blob download
	DefaultTimeout = 2 * time.Minute
)

// LogLocator resolves where the log of a run or job can be downloaded.
// Implementations follow at most one redirect from the API.
type LogLocator interface {
	RunLogURL(ctx context.Context, owner, repo string, runID int64) (*url.URL, error)
	JobLogURL(ctx context.Context, owner, repo string, jobID int64) (*url.URL, error)
}

// Log is decoded log text plus how it was obtained
type Log struct {
	Text string
	// Bytes is the number of bytes read from the blob store
	Bytes int
	// Truncated is set when the decoded text exceeded MaxLogBytes
	Truncated bool
	// Bounded is set when reading stopped early after the Inputs group
	Bounded bool
}

// Retriever downloads logs from the blob store the API redirects to
type Retriever struct {
	locator   LogLocator
	client    *http.Client
	log       zerolog.Logger
	maxBytes  int64
	chunkSize int
}

// Option configures a Retriever
type Option func(*Retriever)

// WithHTTPClient replaces the client used for blob downloads. Redirects are
// never followed by the retriever whatever the client's policy.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Retriever) {
		copied := *c
		copied.CheckRedirect = noRedirects
		r.client = &copied
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Retriever) { r.log = l }
}

// WithMaxBytes overrides MaxLogBytes
func WithMaxBytes(n int64) Option {
	return func(r *Retriever) { r.maxBytes = n }
}

// WithChunkSize overrides DefaultChunkSize for streamed job logs
func WithChunkSize(n int) Option {
	return func(r *Retriever) { r.chunkSize = n }
}

func noRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// NewRetriever creates a Retriever resolving log locations through locator
func NewRetriever(locator LogLocator, opts ...Option) *Retriever {
	r := &Retriever{
		locator:   locator,
		client:    &http.Client{Timeout: DefaultTimeout, CheckRedirect: noRedirects},
		log:       zerolog.Nop(),
		maxBytes:  MaxLogBytes,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchRunLog downloads and decodes the full log archive of a run
func (r *Retriever) FetchRunLog(ctx context.Context, ref model.LogRef) (*Log, error) {
	u, err := r.locator.RunLogURL(ctx, ref.Repo.Owner, ref.Repo.Name, ref.RunID)
	if err != nil {
		return nil, err
	}
	body, err := r.open(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading run %d log: %w", model.ErrTransport, ref.RunID, err)
	}
	text, truncated, err := Decode(data, r.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", ref.RunID, err)
	}
	if truncated {
		r.log.Warn().Int64("run_id", ref.RunID).Int64("limit", r.maxBytes).Msg("run log truncated")
	}
	return &Log{Text: text, Bytes: len(data), Truncated: truncated}, nil
}

// FetchJobLog streams a job log and stops reading once its Inputs group has
// been read. If the group never closes the whole stream is returned.
func (r *Retriever) FetchJobLog(ctx context.Context, ref model.LogRef) (*Log, error) {
	u, err := r.locator.JobLogURL(ctx, ref.Repo.Owner, ref.Repo.Name, ref.JobID)
	if err != nil {
		return nil, err
	}
	body, err := r.open(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	counted := &countingReader{r: body}
	stream, isZip, err := decodeStream(counted)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", ref.JobID, err)
	}
	if isZip {
		data, err := io.ReadAll(stream)
		if err != nil {
			return nil, fmt.Errorf("%w: reading job %d log: %w", model.ErrTransport, ref.JobID, err)
		}
		text, truncated, err := Decode(data, r.maxBytes)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", ref.JobID, err)
		}
		return &Log{Text: text, Bytes: counted.n, Truncated: truncated}, nil
	}

	limited := io.LimitReader(stream, r.maxBytes+1)
	data, stopped, err := ReadUntil(Chunks(limited, r.chunkSize), InputsSectionRead())
	if err != nil {
		return nil, fmt.Errorf("%w: reading job %d log: %w", model.ErrParse, ref.JobID, err)
	}
	data, truncated := keepWholeLines(data, r.maxBytes)
	text, err := toText(data)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", ref.JobID, err)
	}
	r.log.Debug().Int64("job_id", ref.JobID).Int("bytes", counted.n).Bool("bounded", stopped).Msg("job log read")
	return &Log{Text: text, Bytes: counted.n, Truncated: truncated, Bounded: stopped}, nil
}

func (r *Retriever) open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrLogUnavailable, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading log: %w", model.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: blob store answered %s", model.ErrLogUnavailable, resp.Status)
	}
	return resp.Body, nil
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// IngestFromReader reads a log that was saved locally, compressed or not
func IngestFromReader(r io.Reader) (*Log, error) {
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(io.LimitReader(r, MaxLogBytes*4)); err != nil {
		return nil, err
	}
	text, truncated, err := Decode(buffer.Bytes(), MaxLogBytes)
	if err != nil {
		return nil, err
	}
	return &Log{Text: text, Bytes: buffer.Len(), Truncated: truncated}, nil
}
