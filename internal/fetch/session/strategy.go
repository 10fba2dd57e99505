package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/fetch"
)

// Name identifies this strategy in errors and logs.
const Name = "session_json"

// Config controls the headless session fetcher.
type Config struct {
	// BaseURL is the network's authenticated surface, navigated first to
	// establish browser context.
	BaseURL string
	// Host owns the seeded session cookies.
	Host string
	// SearchAPIPath is the internal JSON search endpoint path.
	SearchAPIPath string
	UserAgent     string
	NavTimeout    time.Duration
}

// Strategy implements fetch.Strategy using chromedp and headless Chrome.
type Strategy struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a session fetcher backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Strategy, error) {
	if cfg.BaseURL == "" || cfg.Host == "" {
		return nil, fmt.Errorf("session: base url and host are required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Strategy{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (s *Strategy) Close() {
	s.allocCancel()
}

// Name implements fetch.Strategy.
func (s *Strategy) Name() string {
	return Name
}

// envelope is the JSON handshake returned by the in-page request script.
type envelope struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Fetch seeds an isolated browser context with the credential's cookies,
// navigates the authenticated surface, then performs an in-page request to
// the internal JSON endpoint with the derived anti-forgery token. The tab
// context is always released, success or failure.
func (s *Strategy) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	token := CSRFToken(req.Credential)
	if token == "" {
		return fetch.Result{}, fetch.Fatal(Name, errors.New("no anti-forgery token derivable from credential"))
	}
	keywords, sid, ok := SearchParams(req.Target)
	if !ok {
		return fetch.Result{}, fetch.Fatal(Name, fmt.Errorf("target %q lacks required search parameters", req.Target))
	}

	tabCtx, cancelTab := chromedp.NewContext(s.allocator)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var raw string
	actions := []chromedp.Action{
		s.seedAction(req.Credential),
		chromedp.Navigate(s.cfg.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(s.requestScript(keywords, sid, req.Page, token), &raw,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fetch.Result{}, fetch.Transient(Name, fmt.Errorf("chromedp run: %w", err))
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fetch.Result{}, fetch.Transient(Name, fmt.Errorf("decode in-page response: %w", err))
	}
	switch {
	case env.Status == http.StatusUnauthorized || env.Status == http.StatusForbidden:
		return fetch.Result{}, fetch.Fatal(Name, fmt.Errorf("%w: status %d", fetch.ErrAuthExpired, env.Status))
	case env.Status < 200 || env.Status > 299:
		return fetch.Result{}, fetch.Fatal(Name, fmt.Errorf("search endpoint returned status %d", env.Status))
	}

	s.logger.Debug("session fetch succeeded",
		zap.Int("page", req.Page),
		zap.Int("status", env.Status),
		zap.Int("bytes", len(env.Body)),
	)
	return fetch.Result{Content: []byte(env.Body), StatusCode: env.Status}, nil
}

func (s *Strategy) seedAction(credential string) chromedp.Action {
	cookies := ParseCookies(credential)
	domain := "." + strings.TrimPrefix(s.cfg.Host, "www.")
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(domain).
				WithPath("/").
				WithSecure(true).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("seed cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// requestScript builds the in-page fetch executed inside the authenticated
// browser context. Returning a JSON envelope keeps status handling on the Go
// side.
func (s *Strategy) requestScript(keywords, sid string, page int, token string) string {
	endpoint := s.apiURL(keywords, sid, page)
	return fmt.Sprintf(`(async () => {
	const res = await fetch(%q, {
		headers: {"csrf-token": %q, "accept": "application/json"},
		credentials: "include",
	});
	const body = await res.text();
	return JSON.stringify({status: res.status, body: body});
})()`, endpoint, token)
}

func (s *Strategy) apiURL(keywords, sid string, page int) string {
	q := url.Values{}
	q.Set("keywords", keywords)
	q.Set("sid", sid)
	q.Set("origin", "GLOBAL_SEARCH_HEADER")
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	return strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.SearchAPIPath + "?" + q.Encode()
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
