// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package webhook delivers workflow lifecycle events to outbound
// webhook URLs and verifies inbound webhook requests.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tombee/workflow-engine/pkg/workflow"
)

// DefaultTimeout bounds one outbound delivery attempt.
const DefaultTimeout = 30 * time.Second

type registration struct {
	workflowName string
	configs      []workflow.WebhookConfig
}

// Notifier implements runner.WebhookNotifier: while a run is
// registered, every event the Publisher emits for that run is POSTed
// as JSON to each matching WebhookConfig.URL.
type Notifier struct {
	pub    *workflow.Publisher
	client *http.Client
	secret string
	logger *slog.Logger

	mu      sync.Mutex
	runs    map[string]*registration
	cancels map[string]func()
}

// NewNotifier returns a Notifier publishing deliveries signed with
// secret (empty disables signing). logger may be nil.
func NewNotifier(pub *workflow.Publisher, secret string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pub:     pub,
		client:  &http.Client{Timeout: DefaultTimeout},
		secret:  secret,
		logger:  logger.With(slog.String("component", "webhook-notifier")),
		runs:    make(map[string]*registration),
		cancels: make(map[string]func()),
	}
}

// RegisterWebhooks implements runner.WebhookNotifier.
func (n *Notifier) RegisterWebhooks(runID, workflowName string, configs []workflow.WebhookConfig) {
	if len(configs) == 0 {
		return
	}
	n.mu.Lock()
	n.runs[runID] = &registration{workflowName: workflowName, configs: configs}
	unsubscribe := n.pub.Subscribe(func(ev workflow.Event) {
		if ev.RunID != runID {
			return
		}
		n.deliver(runID, ev)
	})
	n.cancels[runID] = unsubscribe
	n.mu.Unlock()
}

// UnregisterWebhooks implements runner.WebhookNotifier.
func (n *Notifier) UnregisterWebhooks(runID string) {
	n.mu.Lock()
	cancel, ok := n.cancels[runID]
	delete(n.cancels, runID)
	delete(n.runs, runID)
	n.mu.Unlock()
	if ok {
		cancel()
	}
}

func (n *Notifier) deliver(runID string, ev workflow.Event) {
	n.mu.Lock()
	reg, ok := n.runs[runID]
	n.mu.Unlock()
	if !ok {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("failed to marshal webhook event", slog.Any("error", err))
		return
	}

	for _, cfg := range reg.configs {
		if !eventMatches(cfg.Events, ev.Kind) {
			continue
		}
		go n.post(cfg.URL, body)
	}
}

func eventMatches(allowed []string, kind workflow.EventKind) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, string(kind)) {
			return true
		}
	}
	return false
}

func (n *Notifier) post(url string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to build webhook request", slog.String("url", url), slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", slog.String("url", url), slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook delivery rejected", slog.String("url", url), slog.Int("status", resp.StatusCode))
	}
}

// sign computes the "sha256=<hex>" digest the listener's
// verification accepts via X-Webhook-Signature.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
