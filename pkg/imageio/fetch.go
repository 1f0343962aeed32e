package imageio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxDownload bounds how much a single download may read
const DefaultMaxDownload = 32 << 20

var (
	ErrDownload       = errors.New("failed to download image")
	ErrNotAnImage     = errors.New("URL does not point to an image")
	ErrInvalidURL     = errors.New("invalid image URL")
	ErrHostNotAllowed = errors.New("image host is not allowed")
)

// Fetcher downloads images over HTTP(S)
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	maxSide   int
	allowed   HostList
}

// NewFetcher creates a fetcher with a 30 second timeout
func NewFetcher() *Fetcher {
	return NewFetcherWithClient(&http.Client{Timeout: 30 * time.Second})
}

// NewFetcherWithClient creates a fetcher around a copy of an existing HTTP
// client. Redirects are checked against the allowed hosts.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	f := &Fetcher{
		userAgent: "blur-background/1.0",
		maxBytes:  DefaultMaxDownload,
		maxSide:   DefaultMaxDimension,
	}
	c := *client
	c.CheckRedirect = f.checkRedirect
	f.client = &c
	return f
}

// SetAllowedHosts restricts downloads to hosts. An empty list allows any host.
func (f *Fetcher) SetAllowedHosts(hosts []string) {
	f.allowed = NewHostList(hosts)
}

// SetMaxDimension overrides the per-side pixel limit checked before decoding
func (f *Fetcher) SetMaxDimension(n int) {
	if n > 0 {
		f.maxSide = n
	}
}

// CheckURL reports whether imageURL may be downloaded
func (f *Fetcher) CheckURL(imageURL string) error {
	u, err := url.Parse(imageURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return f.checkTarget(u)
}

func (f *Fetcher) checkTarget(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q (only http and https are supported)", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if len(f.allowed) > 0 && !f.allowed.Allows(u) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Host)
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return errors.New("stopped after 5 redirects")
	}
	return f.checkTarget(req.URL)
}

// SetMaxBytes overrides the download size limit
func (f *Fetcher) SetMaxBytes(n int64) {
	if n > 0 {
		f.maxBytes = n
	}
}

// FetchBytes downloads the raw bytes behind imageURL
func (f *Fetcher) FetchBytes(ctx context.Context, imageURL string) ([]byte, error) {
	if err := f.CheckURL(imageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrHostNotAllowed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownload, resp.StatusCode)
	}

	// Some object stores answer with octet-stream, so only reject obvious non-images
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return nil, fmt.Errorf("%w (Content-Type: %s)", ErrNotAnImage, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrDownload, f.maxBytes)
	}
	return data, nil
}

// Fetch downloads and decodes an image, rejecting oversized ones from
// their header
func (f *Fetcher) Fetch(ctx context.Context, imageURL string) (image.Image, error) {
	data, err := f.FetchBytes(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	img, _, err := DecodeLimited(data, f.maxSide)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// HostList is a set of allowed hosts. "example.com" matches that host name on
// any port, "example.com:9000" only that port and "*.example.com" any subdomain.
type HostList []string

// NewHostList normalizes hosts and drops blanks
func NewHostList(hosts []string) HostList {
	var l HostList
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			l = append(l, h)
		}
	}
	return l
}

// Allows reports whether u points at an allowed host
func (l HostList) Allows(u *url.URL) bool {
	host := strings.ToLower(u.Host)
	name := strings.ToLower(u.Hostname())
	for _, entry := range l {
		switch {
		case strings.HasPrefix(entry, "*."):
			if strings.HasSuffix(name, entry[1:]) {
				return true
			}
		case strings.Contains(entry, ":"):
			if host == entry {
				return true
			}
		case name == entry:
			return true
		}
	}
	return false
}

// HostOf returns the host[:port] of rawURL, or "" when it has none
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
