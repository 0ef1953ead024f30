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

// Package webhook implements Webhook Admission (C8): the six-step gate an
// inbound trigger request passes through before it reaches the Execution
// Engine — method/secret/header/param checks, HMAC + replay detection,
// and per-workflow rate limiting.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // sha1 is an admitted hmac_algorithm option, not used for its collision resistance
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ShaojieJiang/orcheo/pkg/canonicaljson"
	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// Algorithm selects the hash used to compute an HMAC signature.
type Algorithm string

const (
	AlgoSHA1   Algorithm = "sha1"
	AlgoSHA256 Algorithm = "sha256"
	AlgoSHA512 Algorithm = "sha512"
)

func (a Algorithm) newHash() (func() hash.Hash, error) {
	switch a {
	case AlgoSHA1:
		return sha1.New, nil
	case AlgoSHA256, "":
		return sha256.New, nil
	case AlgoSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("webhook: unsupported hmac_algorithm %q", a)
	}
}

// HMACConfig configures step 5 of the admission algorithm. Header is the
// signature header name; Secret is shared with the caller out of band.
type HMACConfig struct {
	Header          string
	Algorithm       Algorithm
	Secret          string
	TimestampHeader string
	ToleranceSecs   int64
}

// RateLimitConfig configures step 6: at most Limit accepted requests per
// sliding Interval, tracked per workflow.
type RateLimitConfig struct {
	Limit    int
	Interval time.Duration
}

// Config is the full per-workflow admission configuration.
type Config struct {
	AllowedMethods      []string
	SharedSecret        string
	SharedSecretHeader  string
	RequiredHeaders     map[string]string
	RequiredQueryParams map[string]string
	HMAC                *HMACConfig
	RateLimit           *RateLimitConfig
}

// Request is the inbound trigger request the admission algorithm gates.
type Request struct {
	Method      string
	Headers     http.Header
	QueryParams map[string][]string
	Payload     any // a map[string]any (mapping) or []byte/string (raw)
}

// maxSeenSignatures bounds the replay-detection set per workflow so a
// long-lived process handling steady webhook traffic doesn't grow it
// without limit, per the "seen_signatures (bounded set)" requirement.
const maxSeenSignatures = 10000

// state is the process-lifetime, per-workflow admission state: seen
// signatures (replay detection) and the rate-limit window. Neither is
// persisted — a single-leader admission process is assumed (§1 Non-goals).
type state struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	seenOrder []string // insertion order, for bounded eviction
	accepted  []time.Time
}

// recordSignature remembers sig as seen, evicting the oldest entries once
// the set exceeds maxSeenSignatures and purging anything older than
// staleAfter (the HMAC timestamp tolerance, when configured, doubled as a
// safety margin — a signature whose timestamp has aged out of tolerance
// could never pass the timestamp check again anyway).
func (st *state) recordSignature(sig string, staleAfter time.Duration) {
	now := time.Now()
	if staleAfter > 0 {
		cutoff := now.Add(-staleAfter)
		kept := st.seenOrder[:0]
		for _, s := range st.seenOrder {
			if t, ok := st.seen[s]; ok && t.After(cutoff) {
				kept = append(kept, s)
			} else {
				delete(st.seen, s)
			}
		}
		st.seenOrder = kept
	}
	for len(st.seenOrder) >= maxSeenSignatures {
		oldest := st.seenOrder[0]
		st.seenOrder = st.seenOrder[1:]
		delete(st.seen, oldest)
	}
	st.seen[sig] = now
	st.seenOrder = append(st.seenOrder, sig)
}

// Gate admits requests for one workflow's webhook trigger according to
// Config, across however many workflows share the process.
type Gate struct {
	mu     sync.Mutex
	byWflw map[string]*state
}

// NewGate builds an empty Gate.
func NewGate() *Gate {
	return &Gate{byWflw: make(map[string]*state)}
}

func (g *Gate) stateFor(workflowID string) *state {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.byWflw[workflowID]
	if !ok {
		s = &state{seen: make(map[string]time.Time)}
		g.byWflw[workflowID] = s
	}
	return s
}

// Admit runs the six-step admission algorithm (§4.8) for req against cfg,
// scoped to workflowID's independent rate-limit/replay state. On success
// it returns a scrubbed header map with the shared-secret header removed,
// suitable as trigger input metadata.
func (g *Gate) Admit(workflowID string, cfg Config, req Request) (http.Header, error) {
	if err := checkMethod(cfg, req); err != nil {
		return nil, err
	}
	if err := checkSharedSecret(cfg, req); err != nil {
		return nil, err
	}
	if err := checkRequiredHeaders(cfg, req); err != nil {
		return nil, err
	}
	if err := checkRequiredQueryParams(cfg, req); err != nil {
		return nil, err
	}

	st := g.stateFor(workflowID)

	if cfg.HMAC != nil {
		if err := checkHMAC(st, *cfg.HMAC, req); err != nil {
			return nil, err
		}
	}
	if cfg.RateLimit != nil {
		if err := checkRateLimit(st, *cfg.RateLimit); err != nil {
			return nil, err
		}
	}

	return scrubHeaders(req.Headers, cfg.SharedSecretHeader), nil
}

func checkMethod(cfg Config, req Request) error {
	if len(cfg.AllowedMethods) == 0 {
		return nil
	}
	for _, m := range cfg.AllowedMethods {
		if strings.EqualFold(m, req.Method) {
			return nil
		}
	}
	return orcheoerrors.NewWebhookValidationError(fmt.Sprintf("method %s not allowed", req.Method))
}

func checkSharedSecret(cfg Config, req Request) error {
	if cfg.SharedSecret == "" {
		return nil
	}
	got := req.Headers.Get(cfg.SharedSecretHeader)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(cfg.SharedSecret)) != 1 {
		return orcheoerrors.NewWebhookAuthenticationError("shared secret mismatch")
	}
	return nil
}

func checkRequiredHeaders(cfg Config, req Request) error {
	for name, want := range cfg.RequiredHeaders {
		if got := req.Headers.Get(name); got != want {
			return orcheoerrors.NewWebhookValidationError(fmt.Sprintf("required header %s mismatch", name))
		}
	}
	return nil
}

func checkRequiredQueryParams(cfg Config, req Request) error {
	for name, want := range cfg.RequiredQueryParams {
		vals, ok := req.QueryParams[name]
		if !ok || len(vals) == 0 || vals[0] != want {
			return orcheoerrors.NewWebhookValidationError(fmt.Sprintf("required query param %s mismatch", name))
		}
	}
	return nil
}

// checkHMAC implements step 5: timestamp tolerance, signature recompute
// and constant-time compare, and replay rejection via seen_signatures.
func checkHMAC(st *state, cfg HMACConfig, req Request) error {
	newHash, err := cfg.Algorithm.newHash()
	if err != nil {
		return orcheoerrors.NewWebhookValidationError(err.Error())
	}

	var tsBytes []byte
	if cfg.TimestampHeader != "" {
		raw := req.Headers.Get(cfg.TimestampHeader)
		if raw == "" {
			return orcheoerrors.NewWebhookAuthenticationError("missing timestamp header")
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return orcheoerrors.NewWebhookAuthenticationError("malformed timestamp header")
		}
		if cfg.ToleranceSecs > 0 {
			delta := time.Now().Unix() - ts
			if delta < 0 {
				delta = -delta
			}
			if delta > cfg.ToleranceSecs {
				return orcheoerrors.NewWebhookAuthenticationError("timestamp outside tolerance")
			}
		}
		tsBytes = []byte(raw)
	}

	payloadBytes, err := payloadBytes(req.Payload)
	if err != nil {
		return orcheoerrors.NewWebhookValidationError(err.Error())
	}

	mac := hmac.New(newHash, []byte(cfg.Secret))
	mac.Write(tsBytes)
	mac.Write([]byte("."))
	mac.Write(payloadBytes)
	expected := hex.EncodeToString(mac.Sum(nil))

	got := req.Headers.Get(cfg.Header)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return orcheoerrors.NewWebhookAuthenticationError("signature mismatch")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, seen := st.seen[got]; seen {
		return orcheoerrors.NewWebhookAuthenticationError("replayed signature")
	}
	staleAfter := time.Duration(0)
	if cfg.ToleranceSecs > 0 {
		staleAfter = 2 * time.Duration(cfg.ToleranceSecs) * time.Second
	}
	st.recordSignature(got, staleAfter)
	return nil
}

// payloadBytes canonicalizes mapping payloads (sorted keys, compact) and
// passes strings/[]byte through verbatim (§4.8 step 5).
func payloadBytes(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case map[string]any:
		return canonicaljson.Marshal(v)
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("webhook: unsupported payload type %T", payload)
	}
}

// checkRateLimit implements step 6: purge stale timestamps, then reject
// if the window is already at capacity, else record acceptance.
func checkRateLimit(st *state, cfg RateLimitConfig) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-cfg.Interval)
	kept := st.accepted[:0]
	for _, t := range st.accepted {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.accepted = kept

	if len(st.accepted) >= cfg.Limit {
		return orcheoerrors.NewRateLimitExceeded(cfg.Limit, cfg.Interval.String())
	}
	st.accepted = append(st.accepted, now)
	return nil
}

func scrubHeaders(h http.Header, secretHeader string) http.Header {
	out := h.Clone()
	if secretHeader != "" {
		out.Del(secretHeader)
	}
	return out
}
