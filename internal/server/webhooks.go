package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"svcdesk/internal/config"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher forwards newly appended audit entries to the configured
// webhooks. Each hook starts at the trail's latest entry and keeps its own
// cursor; a failed delivery is retried from the same entry on the next tick.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
	cursors  map[int]int64
}

// NewWebhookDispatcher returns nil when no webhook is enabled.
func NewWebhookDispatcher(e engine.Engine, logger *slog.Logger) *WebhookDispatcher {
	if e.Config == nil {
		return nil
	}
	var hooks []config.WebhookConfig
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		hooks = append(hooks, hook)
	}
	if len(hooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{},
		logger:   logger.With("component", "webhooks"),
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run dispatches until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers every pending entry once per hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.webhooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	entries, err := d.engine.Audit.After(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger.Error("fetch audit entries failed", "error", err)
		return
	}
	filter := newModuleFilter(hook.Modules)
	for _, entry := range entries {
		if filter.match(entry.Module) {
			if err := d.post(ctx, hook, entry); err != nil {
				d.logger.Warn("delivery failed", "url", hook.URL, "audit_id", entry.ID, "error", err)
				return
			}
		}
		d.cursors[idx] = entry.ID
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) (int64, bool) {
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.engine.Audit.LatestID(ctx)
	if err != nil {
		d.logger.Error("init cursor failed", "error", err)
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in
// X-Svcdesk-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, entry domain.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Svcdesk-Module", entry.Module)
	req.Header.Set("X-Svcdesk-Action", entry.Action)
	req.Header.Set("X-Svcdesk-Delivery", fmt.Sprintf("%d", entry.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Svcdesk-Signature", Sign(hook.Secret, data))
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type moduleFilter struct {
	all bool
	set map[string]struct{}
}

func newModuleFilter(modules []string) moduleFilter {
	set := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		if key := strings.TrimSpace(m); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return moduleFilter{all: true}
	}
	return moduleFilter{set: set}
}

func (f moduleFilter) match(module string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[module]
	return ok
}
