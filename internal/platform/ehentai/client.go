package ehentai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultUA is sent when no user agent is configured.
	DefaultUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

	// MaxMetadataBatch is the most galleries one gdata request may ask for.
	MaxMetadataBatch = 25

	rateLimitPause = 10 * time.Second
)

var (
	// ErrStatus is returned when the host answers with an unexpected status.
	ErrStatus = errors.New("unexpected response status")

	// ErrParse is returned when a page does not have the expected shape.
	ErrParse = errors.New("failed to parse response")

	// ErrTooManyGalleries is returned for metadata batches over MaxMetadataBatch.
	ErrTooManyGalleries = errors.New("too many galleries in one request")
)

// Options configures a Client.
type Options struct {
	// Ex selects exhentai.org instead of e-hentai.org.
	Ex bool

	// Cookies is sent verbatim as the Cookie header to the host.
	Cookies string

	UA      string
	Timeout time.Duration

	// BaseURL overrides the host, including scheme.
	BaseURL string

	Logger *slog.Logger
}

// Client talks to the content host. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	base    *url.URL
	api     string
	cookies string
	logger  *slog.Logger

	mu       sync.Mutex
	last429  time.Time
	sleepFor func(ctx context.Context, d time.Duration) error
}

// New creates a client from opts.
func New(opts Options) (*Client, error) {
	base := opts.BaseURL
	api := ""
	if base == "" {
		api = "https://api.e-hentai.org/api.php"
		base = "https://e-hentai.org"
		if opts.Ex {
			base = "https://exhentai.org"
		}
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if api == "" {
		api = u.String() + "/api.php"
	}
	if opts.UA == "" {
		opts.UA = DefaultUA
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		base:     u,
		api:      api,
		cookies:  opts.Cookies,
		logger:   opts.Logger.With("component", "ehentai_client"),
		sleepFor: sleepCtx,
	}
	c.http = resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UA).
		OnBeforeRequest(c.beforeRequest).
		OnAfterResponse(c.afterResponse)
	return c, nil
}

// Host returns the host name requests are sent to.
func (c *Client) Host() string {
	return c.base.Host
}

func (c *Client) url(format string, args ...any) string {
	return c.base.String() + fmt.Sprintf(format, args...)
}

// isHost reports whether rawURL points at the content host or one of its
// image servers.
func (c *Client) isHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	h := u.Hostname()
	if h == c.base.Hostname() {
		return true
	}
	for _, d := range []string{"e-hentai.org", "exhentai.org"} {
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}

func (c *Client) beforeRequest(_ *resty.Client, r *resty.Request) error {
	if !c.isHost(r.URL) {
		return nil
	}
	if c.cookies != "" {
		r.SetHeader("Cookie", c.cookies)
	}
	c.mu.Lock()
	wait := time.Until(c.last429.Add(rateLimitPause))
	c.mu.Unlock()
	if wait > 0 {
		c.logger.Debug("waiting after rate limit", "wait", wait)
		return c.sleepFor(r.Context(), wait)
	}
	return nil
}

func (c *Client) afterResponse(_ *resty.Client, r *resty.Response) error {
	if r.StatusCode() == http.StatusTooManyRequests && c.isHost(r.Request.URL) {
		c.mu.Lock()
		c.last429 = time.Now()
		c.mu.Unlock()
		c.logger.Warn("rate limited by host", "url", r.Request.URL)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getText fetches rawURL and returns the body, failing on non-200 answers.
func (c *Client) getText(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %w: %s", rawURL, ErrStatus, resp.Status())
	}
	return resp.String(), nil
}

// postJSON sends body to rawURL and decodes the answer into result.
func (c *Client) postJSON(ctx context.Context, rawURL string, body, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(result).
		ForceContentType("application/json").
		Post(rawURL)
	if err != nil {
		return fmt.Errorf("post %s: %w", rawURL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("post %s: %w: %s", rawURL, ErrStatus, resp.Status())
	}
	return nil
}

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server did not announce it.
type ProgressFunc func(written, total int64)

// Download streams rawURL into path. The body is written to a temporary
// file next to path and renamed once complete, so path only ever holds a
// whole image. It returns the number of bytes written.
func (c *Client) Download(ctx context.Context, rawURL, path string, onProgress ProgressFunc) (int64, error) {
	resp, err := c.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(rawURL)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("download %s: %w: %s", rawURL, ErrStatus, resp.Status())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	total := resp.RawResponse.ContentLength
	w := &progressWriter{w: f, total: total, onProgress: onProgress}
	n, copyErr := io.Copy(w, body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if total >= 0 && n != total {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("download %s: got %d of %d bytes: %w", rawURL, n, total, io.ErrUnexpectedEOF)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}

type progressWriter struct {
	w          io.Writer
	written    int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.onProgress != nil {
		p.onProgress(p.written, p.total)
	}
	return n, err
}
