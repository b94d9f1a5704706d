package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/resumable_transfer/internal/logctx"
	"github.com/italolelis/resumable_transfer/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	DefaultTimeout       = 60 * time.Second
	defaultRetryInterval = 500 * time.Millisecond

	// responses of chunk and merge requests are small acknowledgements
	maxResponseBody = 1 << 20
)

// Client is the HTTP implementation of transfer.Transport.
type Client struct {
	httpClient    *http.Client
	base          http.RoundTripper
	token         string
	timeout       time.Duration
	maxRetries    uint
	retryInterval time.Duration
}

type Option func(*Client)

// WithToken authenticates every request with a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout bounds chunk and merge requests. Ranged downloads are streamed and only
// bounded by the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a request is retried after a transport error,
// a 429 or a 5xx response. Zero disables retries.
func WithMaxRetries(n uint) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithRoundTripper replaces the base round tripper, mostly for tests.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.base = rt
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		base:          http.DefaultTransport,
		timeout:       DefaultTimeout,
		retryInterval: defaultRetryInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	rt := otelhttp.NewTransport(c.base)
	if c.token != "" {
		rt = otelhttp.NewTransport(&oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token}),
			Base:   c.base,
		})
	}

	c.httpClient = &http.Client{Transport: rt}

	return c
}

var _ transfer.Transport = (*Client)(nil)

// GetRange issues a GET with a Range header. The returned body is not bounded by the
// request timeout.
func (c *Client) GetRange(ctx context.Context, rawURL string, offset, end int64) (*transfer.StreamResponse, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-", offset)
	if end >= 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", offset, end)
	}

	resp, err := c.do(ctx, "get_range", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Range", rangeHeader)

		return req, nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return &transfer.StreamResponse{
				StatusCode:    se.statusCode,
				Body:          io.NopCloser(bytes.NewReader(se.body)),
				ContentLength: int64(len(se.body)),
				TotalSize:     -1,
			}, nil
		}

		return nil, err
	}

	total := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if total < 0 && resp.StatusCode == http.StatusOK {
		total = resp.ContentLength
	}

	return &transfer.StreamResponse{
		StatusCode:    resp.StatusCode,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		TotalSize:     total,
	}, nil
}

// SendChunk streams the chunk file as multipart/form-data. The file is reopened on
// every attempt.
func (c *Client) SendChunk(ctx context.Context, rawURL string, chunk transfer.ChunkUpload) (*transfer.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(ctx, "send_chunk", func(ctx context.Context) (*http.Request, error) {
		f, err := os.Open(chunk.Path)
		if err != nil {
			return nil, &transfer.NotFoundError{Path: chunk.Path, Err: err}
		}

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)

		go func() {
			defer f.Close()

			pw.CloseWithError(writeChunkForm(mw, f, chunk))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, pr)
		if err != nil {
			pr.Close()

			return nil, err
		}

		req.Header.Set("Content-Type", mw.FormDataContentType())

		return req, nil
	})

	return c.readResponse(resp, err)
}

func writeChunkForm(mw *multipart.Writer, f io.Reader, chunk transfer.ChunkUpload) error {
	fields := [][2]string{
		{transfer.FieldFileID, chunk.FileID},
		{transfer.FieldChunkIndex, strconv.Itoa(chunk.Index)},
		{transfer.FieldTotalChunks, strconv.Itoa(chunk.TotalChunks)},
	}

	for _, field := range fields {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile(transfer.FieldChunkFile, filepath.Base(chunk.Path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, f); err != nil {
		return err
	}

	return mw.Close()
}

// NotifyMerge posts the merge request as an url-encoded form.
func (c *Client) NotifyMerge(ctx context.Context, rawURL string, mr transfer.MergeRequest) (*transfer.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	form := url.Values{}
	form.Set(transfer.FieldFileID, mr.FileID)
	form.Set(transfer.FieldTotalChunks, strconv.Itoa(mr.TotalChunks))
	body := form.Encode()

	resp, err := c.do(ctx, "notify_merge", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		return req, nil
	})

	return c.readResponse(resp, err)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) readResponse(resp *http.Response, err error) (*transfer.Response, error) {
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return &transfer.Response{StatusCode: se.statusCode, Body: se.body}, nil
		}

		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &transfer.NetworkError{
			Operation:  "read_response",
			StatusCode: resp.StatusCode,
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	return &transfer.Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// statusError carries a retryable response that was still failing after the last
// attempt. Callers turn it back into a response.
type statusError struct {
	statusCode int
	body       []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote responded with HTTP %d", e.statusCode)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// do runs the request built by build, retrying transport errors and retryable statuses
// with exponential backoff. build is called once per attempt.
func (c *Client) do(ctx context.Context, operation string, build func(context.Context) (*http.Request, error)) (*http.Response, error) {
	logger := logctx.LoggerFromContext(ctx).With("operation", operation)

	op := func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()

		se := &statusError{statusCode: resp.StatusCode, body: body}

		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, errors.Join(backoff.RetryAfter(secs), se)
		}

		return nil, se
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "retrying request", "err", err, "next_attempt_in", next)
		}),
	)
	if err == nil {
		return resp, nil
	}

	var (
		se       *statusError
		notFound *transfer.NotFoundError
	)

	if errors.As(err, &se) || errors.As(err, &notFound) {
		return nil, err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &transfer.CancelledError{Operation: operation, Err: ctxErr}
	}

	return nil, &transfer.NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
}

// parseContentRangeTotal extracts the complete length from "bytes a-b/total" or
// "bytes */total". It returns -1 when the length is unknown or the header is malformed.
func parseContentRangeTotal(header string) int64 {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return -1
	}

	_, totalStr, ok := strings.Cut(rest, "/")
	if !ok || totalStr == "*" {
		return -1
	}

	total, err := strconv.ParseInt(strings.TrimSpace(totalStr), 10, 64)
	if err != nil || total < 0 {
		return -1
	}

	return total
}
