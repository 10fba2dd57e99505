package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/fetch"
)

// ManagedName identifies the managed-task strategy.
const ManagedName = "proxy_managed"

// Task statuses reported by the managed scraping service.
const (
	taskStatusCompleted = "completed"
	taskStatusFailed    = "failed"
)

// ManagedConfig controls the managed-task fetcher.
type ManagedConfig struct {
	BaseURL    string
	APIKey     string
	Geography  string
	ProxyClass string
	UserAgent  string
	// PollInitial is the first poll delay; each subsequent delay grows by
	// half again, capped at PollCap, for up to MaxPolls attempts.
	PollInitial time.Duration
	PollCap     time.Duration
	MaxPolls    int
	HTTPTimeout time.Duration
}

// Managed submits a render task to the managed scraping service and, when
// the service answers asynchronously, polls the task until it resolves.
type Managed struct {
	cfg    ManagedConfig
	http   *http.Client
	logger *zap.Logger
}

// NewManaged constructs a managed-task fetcher.
func NewManaged(cfg ManagedConfig, logger *zap.Logger) (*Managed, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("managed: base url is required")
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = 2 * time.Second
	}
	if cfg.PollCap <= 0 {
		cfg.PollCap = 10 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 30
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Managed{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}, nil
}

// Name implements fetch.Strategy.
func (m *Managed) Name() string {
	return ManagedName
}

type taskRequest struct {
	URL        string `json:"url"`
	Render     bool   `json:"render"`
	Geography  string `json:"geography,omitempty"`
	ProxyClass string `json:"proxy_class,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Cookies    string `json:"cookies,omitempty"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	HTML   string `json:"html"`
	Error  string `json:"error"`
}

// Fetch submits the scrape task. A synchronous service returns the HTML in
// the submit response; otherwise the task is polled by id with a growing,
// capped delay until it completes, fails, or attempts run out.
func (m *Managed) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	pageURL, err := fetch.PageURL(req.Target, req.Page)
	if err != nil {
		return fetch.Result{}, fetch.Fatal(ManagedName, err)
	}

	task, err := m.submit(ctx, taskRequest{
		URL:        pageURL,
		Render:     true,
		Geography:  m.cfg.Geography,
		ProxyClass: m.cfg.ProxyClass,
		UserAgent:  m.cfg.UserAgent,
		Cookies:    req.Credential,
	})
	if err != nil {
		return fetch.Result{}, err
	}
	if task.HTML != "" {
		return fetch.Result{Content: []byte(task.HTML), StatusCode: http.StatusOK}, nil
	}
	if task.TaskID == "" {
		return fetch.Result{}, fetch.Fatal(ManagedName, errors.New("service returned neither html nor task id"))
	}
	return m.poll(ctx, task.TaskID)
}

func (m *Managed) submit(ctx context.Context, body taskRequest) (taskResponse, error) {
	var resp taskResponse
	if err := m.do(ctx, http.MethodPost, "/v1/tasks", body, &resp); err != nil {
		return taskResponse{}, err
	}
	return resp, nil
}

func (m *Managed) poll(ctx context.Context, taskID string) (fetch.Result, error) {
	delay := m.cfg.PollInitial
	for attempt := 0; attempt < m.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return fetch.Result{}, fetch.Transient(ManagedName, ctx.Err())
		case <-time.After(delay):
		}

		var resp taskResponse
		if err := m.do(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil, &resp); err != nil {
			return fetch.Result{}, err
		}
		switch resp.Status {
		case taskStatusCompleted:
			return fetch.Result{Content: []byte(resp.HTML), StatusCode: http.StatusOK}, nil
		case taskStatusFailed:
			return fetch.Result{}, fetch.Fatal(ManagedName, fmt.Errorf("task %s failed: %s", taskID, resp.Error))
		}

		m.logger.Debug("managed task still pending",
			zap.String("task_id", taskID),
			zap.Int("attempt", attempt+1),
			zap.Duration("next_delay", delay),
		)
		delay += delay / 2
		if delay > m.cfg.PollCap {
			delay = m.cfg.PollCap
		}
	}
	return fetch.Result{}, fetch.Transient(ManagedName,
		fmt.Errorf("task %s did not resolve within %d polls", taskID, m.cfg.MaxPolls))
}

func (m *Managed) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fetch.Fatal(ManagedName, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, reader)
	if err != nil {
		return fetch.Fatal(ManagedName, fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", m.cfg.APIKey)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return fetch.Transient(ManagedName, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fetch.Transient(ManagedName, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fetch.Fatal(ManagedName, fmt.Errorf("service returned status %d: %s", resp.StatusCode, truncate(payload, 256)))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fetch.Transient(ManagedName, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
