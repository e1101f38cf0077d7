package source

import (
	"context"
	"net/http"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/client"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/retry"
)

// DefaultUserAgents are rotated across page loads.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// LoadRequest describes one page load.
type LoadRequest struct {
	Platform  string
	URL       string
	UserAgent string

	// Timeout bounds the load; zero leaves it to ctx.
	Timeout time.Duration

	// ThinkTime is waited after the page arrives and before it is read.
	ThinkTime time.Duration
}

// PageLoader fetches the document for a search URL.
type PageLoader interface {
	Load(ctx context.Context, req LoadRequest) (string, error)
}

// LoaderFunc adapts a function to PageLoader.
type LoaderFunc func(ctx context.Context, req LoadRequest) (string, error)

// Load implements PageLoader.
func (f LoaderFunc) Load(ctx context.Context, req LoadRequest) (string, error) {
	return f(ctx, req)
}

// HTTPLoader fetches pages with a plain GET. It sees only server-rendered
// markup, which is enough for storefronts that render listings server-side
// and for tests.
type HTTPLoader struct {
	client *client.Client
	sleep  retry.SleepFunc
}

// NewHTTPLoader returns a loader using c. A nil sleep uses retry.Sleep.
func NewHTTPLoader(c *client.Client, sleep retry.SleepFunc) *HTTPLoader {
	if sleep == nil {
		sleep = retry.Sleep
	}
	return &HTTPLoader{client: c, sleep: sleep}
}

// Load implements PageLoader.
func (l *HTTPLoader) Load(ctx context.Context, req LoadRequest) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	header.Set("Accept-Language", "en-IN,en;q=0.9")
	if req.UserAgent != "" {
		header.Set("User-Agent", req.UserAgent)
	}

	body, err := l.client.Get(ctx, req.Platform, req.URL, header)
	if err != nil {
		return "", err
	}
	if req.ThinkTime > 0 {
		if err := l.sleep(ctx, req.ThinkTime); err != nil {
			return "", err
		}
	}
	return string(body), nil
}
