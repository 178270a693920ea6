package source

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrRangeUnsupported is returned when the remote server ignores Range
// headers. Remote archive access cannot work without them.
var ErrRangeUnsupported = errors.New("source: server does not support range requests")

// HTTP is a DataSource backed by HTTP range requests against a remote
// archive file. It never downloads the whole file.
//
// The size is probed once at construction with a one-byte range request.
// The validators captured there (ETag, Last-Modified) are sent as
// preconditions on every subsequent read, so a remote archive swapped
// mid-session fails loudly instead of returning mixed bytes.
type HTTP struct {
	url          string
	client       *http.Client
	size         int64
	etag         string
	lastModified string
}

var _ DataSource = (*HTTP)(nil)

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) HTTPOption {
	return func(s *HTTP) {
		if client != nil {
			s.client = client
		}
	}
}

// OpenHTTP probes url and returns a range-request DataSource for it.
func OpenHTTP(url string, opts ...HTTPOption) (*HTTP, error) {
	s := &HTTP{url: url, client: http.DefaultClient}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.probe(); err != nil {
		return nil, err
	}
	return s, nil
}

// probe issues a one-byte range request to learn the content size and
// capture validators. A HEAD would also work, but some object stores answer
// HEAD without Content-Length while handling ranges fine.
func (s *HTTP) probe() error {
	req, err := s.newRequest()
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("source: probe %s: %w", s.url, err)
	}
	defer drainClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return fmt.Errorf("%w: %s", ErrRangeUnsupported, s.url)
	default:
		return fmt.Errorf("source: probe %s: unexpected status %s", s.url, resp.Status)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return fmt.Errorf("source: probe %s: %w", s.url, err)
	}
	s.size = size
	s.etag = resp.Header.Get("ETag")
	s.lastModified = resp.Header.Get("Last-Modified")
	return nil
}

// ReadAt fetches the requested byte range from the remote file.
func (s *HTTP) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("source: negative offset %d", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	expected := len(p)
	if end >= s.size {
		end = s.size - 1
		expected = int(end - off + 1)
	}

	req, err := s.newRequest()
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("source: read %s: %w", s.url, err)
	}
	defer drainClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case http.StatusOK:
		return 0, fmt.Errorf("%w: %s", ErrRangeUnsupported, s.url)
	case http.StatusPreconditionFailed:
		return 0, fmt.Errorf("source: %s changed on the server mid-session", s.url)
	default:
		return 0, fmt.Errorf("source: read %s: unexpected status %s", s.url, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:expected])
	if err != nil {
		return n, fmt.Errorf("source: read %s: %w", s.url, err)
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the remote content length.
func (s *HTTP) Size() int64 {
	return s.size
}

// Name returns the URL.
func (s *HTTP) Name() string {
	return s.url
}

// Close is a no-op; the HTTP client is shared and connections are pooled.
func (s *HTTP) Close() error {
	return nil
}

func (s *HTTP) newRequest() (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	// Ranges address raw bytes; transport compression would shift offsets.
	req.Header.Set("Accept-Encoding", "identity")
	if s.etag != "" {
		req.Header.Set("If-Match", s.etag)
	} else if s.lastModified != "" {
		req.Header.Set("If-Unmodified-Since", s.lastModified)
	}
	return req, nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
