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

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/tombee/workflow-engine/internal/trigger"
	"github.com/tombee/workflow-engine/internal/util"
)

// slackMaxClockSkew bounds how stale a Slack request timestamp may be,
// the replay-attack guard Slack's own signing-secret docs require.
const slackMaxClockSkew = 5 * time.Minute

// Listener is the inbound webhook HTTP surface: generic signed
// webhooks under /webhooks/* and a Slack Events API endpoint under
// /slack/events, both dispatching matched messages through a
// trigger.Dispatcher.
type Listener struct {
	Dispatcher   *trigger.Dispatcher
	Rules        []trigger.TriggerRule
	GenericSecret string
	SlackSigningSecret string
	Logger       *slog.Logger
}

// Router builds the chi router for this Listener.
func (l *Listener) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/webhooks/{name}", l.handleGeneric)
	r.Post("/slack/events", l.handleSlackEvent)

	return r
}

// reconnectRateLimit is the hard ceiling on how often Serve will retry
// a failed ListenAndServe, independent of the exponential delay
// util.Backoff computes: a flapping listen address (port held by
// another process, transient DNS failure on a load balancer health
// check, ...) must never be allowed to spin the retry loop faster than
// this.
var reconnectRateLimit = rate.Every(time.Second)

// Serve runs the listener's HTTP server until ctx is cancelled,
// restarting it with exponential backoff (base 1s, factor 2, cap 60s,
// 30% jitter) whenever it exits unexpectedly. A rate.Limiter gates the
// reconnect loop itself so repeated immediate failures can't retry
// faster than one attempt per second.
func (l *Listener) Serve(ctx context.Context, addr string) error {
	limiter := rate.NewLimiter(reconnectRateLimit, 1)
	backoff := util.NewBackoff()

	for {
		srv := &http.Server{Addr: addr, Handler: l.Router()}
		stopWatch := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			case <-stopWatch:
			}
		}()

		err := srv.ListenAndServe()
		close(stopWatch)

		if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		l.logger().Warn("trigger listener disconnected, reconnecting",
			slog.Any("error", err), slog.String("addr", addr))

		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff.Next()):
		}
	}
}

func (l *Listener) handleGeneric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if l.GenericSecret != "" {
		if err := verifyGeneric(r, body, l.GenericSecret); err != nil {
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
			return
		}
	}

	msg := trigger.Message{
		Text:        string(body),
		Source:      "http",
		ChannelName: name,
		MessageID:   r.Header.Get("X-Request-Id"),
	}
	l.dispatch(w, r.Context(), msg)
}

// verifyGeneric tries X-Webhook-Signature, then X-Signature, then a
// Bearer token, in that order, rejecting the request if none validate.
func verifyGeneric(r *http.Request, body []byte, secret string) error {
	if sig := r.Header.Get("X-Webhook-Signature"); sig != "" {
		return verifyHMAC(sig, body, secret)
	}
	if sig := r.Header.Get("X-Signature"); sig != "" {
		return verifyHMAC("sha256="+sig, body, secret)
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if hmac.Equal([]byte(token), []byte(secret)) {
			return nil
		}
		return fmt.Errorf("invalid token")
	}
	return fmt.Errorf("no signature header found")
}

func verifyHMAC(signature string, body []byte, secret string) error {
	parts := strings.SplitN(signature, "=", 2)
	algo, sig := "sha256", signature
	if len(parts) == 2 {
		algo, sig = parts[0], parts[1]
	}
	if algo != "sha256" {
		return fmt.Errorf("unsupported algorithm: %s", algo)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

type slackEvent struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		User    string `json:"user"`
		Channel string `json:"channel"`
		Ts      string `json:"ts"`
	} `json:"event"`
}

func (l *Listener) handleSlackEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if l.SlackSigningSecret != "" {
		if err := verifySlack(r, body, l.SlackSigningSecret); err != nil {
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
			return
		}
	}

	var ev slackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// URL verification handshake: echo the challenge back unsigned JSON.
	if ev.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": ev.Challenge})
		return
	}

	if ev.Event.Type != "message" {
		w.WriteHeader(http.StatusOK)
		return
	}

	msg := trigger.Message{
		Text:      ev.Event.Text,
		Source:    "slack",
		UserID:    ev.Event.User,
		ChannelID: ev.Event.Channel,
		MessageID: ev.Event.Ts,
	}
	l.dispatch(w, r.Context(), msg)
}

// verifySlack checks the "v0:<timestamp>:<body>" HMAC-SHA256 scheme
// Slack's Events API uses, rejecting requests whose timestamp is more
// than slackMaxClockSkew away from now (Slack's own replay-prevention
// recommendation).
func verifySlack(r *http.Request, body []byte, signingSecret string) error {
	ts := r.Header.Get("X-Slack-Request-Timestamp")
	sig := r.Header.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return fmt.Errorf("missing Slack signature headers")
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if skew := time.Since(time.Unix(sec, 0)); skew > slackMaxClockSkew || skew < -slackMaxClockSkew {
		return fmt.Errorf("timestamp outside allowed clock skew")
	}

	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (l *Listener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Listener) dispatch(w http.ResponseWriter, ctx context.Context, msg trigger.Message) {
	result, err := l.Dispatcher.Handle(ctx, l.Rules, msg, msg.Source)
	if err != nil {
		l.logger().Error("trigger dispatch failed", slog.Any("error", err))
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Matched {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"matched": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"matched":  true,
		"runId":    result.RunID,
		"response": result.Response,
	})
}
