// Package htmlfetch implements fetch.Browser over plain HTTP. Pages are
// downloaded with colly and queried with goquery; no JavaScript is run.
package htmlfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	colly "github.com/gocolly/colly/v2"

	"github.com/linnemanlabs/leadwatch/internal/fetch"
	"github.com/linnemanlabs/leadwatch/internal/source"
)

const (
	// DefaultTimeout bounds a single page load.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; leadwatch/1.0)"
)

// Options configures the browser.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Transport http.RoundTripper
}

// Browser opens colly-backed sessions.
type Browser struct {
	opts Options
}

// New returns a Browser with defaults filled in.
func New(opts Options) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Browser{opts: opts}
}

// Open creates the shared collector for a run.
func (b *Browser) Open(_ context.Context) (fetch.Session, error) {
	c := colly.NewCollector(
		colly.UserAgent(b.opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(b.opts.Timeout)

	transport := b.opts.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	c.WithTransport(transport)

	return &session{collector: c, transport: transport}, nil
}

type session struct {
	mu        sync.Mutex
	collector *colly.Collector
	transport http.RoundTripper
	closed    bool
}

// Fetch loads the source's base URL and returns its article containers.
func (s *session) Fetch(ctx context.Context, src source.Descriptor, limit int) ([]fetch.Element, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("htmlfetch: session closed")
	}
	c := s.collector.Clone()
	s.mu.Unlock()

	c.Context = ctx

	var (
		elements []fetch.Element
		fetchErr error
	)

	c.OnHTML(src.Selectors.Article, func(e *colly.HTMLElement) {
		if limit > 0 && len(elements) >= limit {
			return
		}
		elements = append(elements, element{sel: e.DOM})
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("htmlfetch: %s returned %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(src.BaseURL); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("htmlfetch: visit %s: %w", src.BaseURL, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("htmlfetch: %s %q: %w", src.BaseURL, src.Selectors.Article, fetch.ErrNoArticles)
	}
	return elements, nil
}

// Close releases idle connections held by the session transport.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if t, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

type element struct {
	sel *goquery.Selection
}

func (e element) Query(selector string) (fetch.Node, bool) {
	if strings.TrimSpace(selector) == "" {
		return nil, false
	}
	found := e.sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, false
	}
	return node{sel: found}, true
}

type node struct {
	sel *goquery.Selection
}

func (n node) Text() string {
	return n.sel.Text()
}

func (n node) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}
