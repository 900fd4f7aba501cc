// Package vdi forwards delegated long-running browser tasks to the external
// automation agent, with bounded retry/backoff, progress heartbeats, and
// lifecycle telemetry.
package vdi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/unison-os/actuation/internal/log"
	"github.com/unison-os/actuation/internal/policy"
	"github.com/unison-os/actuation/internal/telemetry"
)

// Config holds the agent endpoint and resilience knobs.
type Config struct {
	AgentURL   string
	AgentToken string
	// RetryAttempts bounds agent calls per task (default 3).
	RetryAttempts int
	// BackoffBase seeds the exponential backoff base·2^(attempt-1)
	// (default 250ms), capped at BackoffMax (default 2s).
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RequestTimeout bounds each individual agent call (default 40s),
	// independent of backoff delays.
	RequestTimeout time.Duration
	// HeartbeatInterval <= 0 disables in_progress heartbeats.
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 40 * time.Second
	}
	return c
}

// Proxy forwards tasks to the agent.
type Proxy struct {
	cfg       Config
	gate      *policy.Gate
	publisher *telemetry.Publisher
	client    *http.Client
	logger    *slog.Logger
}

// NewProxy builds a Proxy, applying config defaults.
func NewProxy(cfg Config, gate *policy.Gate, publisher *telemetry.Publisher) *Proxy {
	cfg = cfg.withDefaults()
	return &Proxy{
		cfg:       cfg,
		gate:      gate,
		publisher: publisher,
		client:    &http.Client{},
		logger:    log.WithComponent("vdi"),
	}
}

// Browse proxies a browse task.
func (p *Proxy) Browse(ctx context.Context, task *BrowseTask) (json.RawMessage, error) {
	return p.run(ctx, "/tasks/browse", "vdi.browse", &task.BaseTask, task)
}

// FormSubmit proxies a form-submit task.
func (p *Proxy) FormSubmit(ctx context.Context, task *FormSubmitTask) (json.RawMessage, error) {
	return p.run(ctx, "/tasks/form-submit", "vdi.form_submit", &task.BaseTask, task)
}

// Download proxies a download task.
func (p *Proxy) Download(ctx context.Context, task *DownloadTask) (json.RawMessage, error) {
	return p.run(ctx, "/tasks/download", "vdi.download", &task.BaseTask, task)
}

// run drives one task through the full lifecycle: light policy gate,
// started telemetry, heartbeat loop alongside the retried agent call,
// completed/failed telemetry. The heartbeat is stopped and awaited on every
// exit path; it can never outlive the call that spawned it.
func (p *Proxy) run(ctx context.Context, path, intent string, base *BaseTask, task any) (_ json.RawMessage, err error) {
	base.EnsureDefaults()
	if verr := base.Validate(); verr != nil {
		return nil, verr
	}

	if gerr := p.gate.Check(ctx, intent, base.RiskLevel, base.PersonID); gerr != nil {
		return nil, gerr
	}

	p.publishEvent(ctx, base, intent, "pending", telemetry.LifecycleStarted, nil, "")

	done := make(chan struct{})
	var wg sync.WaitGroup
	if p.cfg.HeartbeatInterval > 0 {
		wg.Add(1)
		go p.heartbeat(ctx, base, intent, done, &wg)
	}
	defer func() {
		close(done)
		wg.Wait()
	}()

	payload, perr := forwardPayload(task)
	if perr != nil {
		p.publishEvent(ctx, base, intent, "error", telemetry.LifecycleFailed, nil, perr.Error())
		return nil, perr
	}

	body, err := p.call(ctx, path, payload)
	if err != nil {
		p.publishEvent(ctx, base, intent, "error", telemetry.LifecycleFailed, nil, err.Error())
		return nil, err
	}

	p.publishEvent(ctx, base, intent, "ok", telemetry.LifecycleCompleted, nil, "")
	return body, nil
}

// heartbeat emits an in_progress event with elapsed time on every interval
// tick until done is closed.
func (p *Proxy) heartbeat(ctx context.Context, base *BaseTask, intent string, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	start := time.Now()
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			extra := map[string]any{"elapsed_ms": time.Since(start).Milliseconds()}
			p.publishEvent(ctx, base, intent, "pending", telemetry.LifecycleInProgress, extra, "")
		}
	}
}

// call posts the payload to the agent with bounded retry. Transport errors
// and 429/5xx responses are retried with exponential backoff; any other 4xx
// fails immediately; exhaustion yields an unavailable UpstreamError with the
// last observed detail.
func (p *Proxy) call(ctx context.Context, path string, payload map[string]any) (json.RawMessage, error) {
	lastDetail := "unknown_error"

	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		body, status, err := p.post(ctx, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastDetail = err.Error()
			p.logger.Warn("vdi agent call failed", "path", path, "attempt", attempt, "error", err)
			if attempt >= p.cfg.RetryAttempts {
				break
			}
			if serr := p.sleepBackoff(ctx, attempt); serr != nil {
				return nil, serr
			}
			continue
		}

		if status == http.StatusTooManyRequests || status >= 500 {
			lastDetail = string(body)
			p.logger.Warn("vdi agent returned retryable status", "path", path, "attempt", attempt, "status", status)
			if attempt >= p.cfg.RetryAttempts {
				return nil, &UpstreamError{StatusCode: status, Detail: lastDetail, Unavailable: true}
			}
			if serr := p.sleepBackoff(ctx, attempt); serr != nil {
				return nil, serr
			}
			continue
		}

		if status >= 400 {
			return nil, &UpstreamError{StatusCode: status, Detail: string(body)}
		}

		return body, nil
	}

	return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Detail: lastDetail, Unavailable: true}
}

// post performs a single agent call bounded by the configured request
// timeout.
func (p *Proxy) post(ctx context.Context, path string, payload map[string]any) (json.RawMessage, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal task payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.cfg.AgentURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.AgentToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.AgentToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read agent response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// sleepBackoff waits min(cap, base·2^(attempt-1)) or until ctx is done.
func (p *Proxy) sleepBackoff(ctx context.Context, attempt int) error {
	delay := p.cfg.BackoffBase << (attempt - 1)
	if delay > p.cfg.BackoffMax {
		delay = p.cfg.BackoffMax
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Proxy) publishEvent(ctx context.Context, base *BaseTask, intent, status, lifecycle string, extra map[string]any, detail string) {
	tele := map[string]any{
		"person_id":  base.PersonID,
		"session_id": base.SessionID,
		"url":        base.URL,
		"trace_id":   base.TraceID,
	}
	for k, v := range extra {
		tele[k] = v
	}
	p.publisher.Publish(ctx, telemetry.Event{
		ActionID:    base.ActionID,
		Status:      status,
		Lifecycle:   lifecycle,
		DeviceID:    "vdi",
		DeviceClass: "browser",
		Intent:      intent,
		Telemetry:   tele,
		Detail:      detail,
	}, base.TelemetryChannel)
}

// forwardPayload strips gateway-local fields from the task before it is sent
// to the agent.
func forwardPayload(task any) (map[string]any, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	delete(m, "action_id")
	delete(m, "trace_id")
	delete(m, "telemetry_channel")
	return m, nil
}
