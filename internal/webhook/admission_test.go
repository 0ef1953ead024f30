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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaojieJiang/orcheo/pkg/canonicaljson"
	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

func sign(t *testing.T, secret string, ts int64, payload map[string]any) string {
	t.Helper()
	body, err := canonicaljson.Marshal(payload)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestAdmit_HMACAndReplay_ScenarioS5(t *testing.T) {
	gate := NewGate()
	cfg := Config{
		HMAC: &HMACConfig{
			Header:          "x-sig",
			Algorithm:       AlgoSHA256,
			Secret:          "s",
			TimestampHeader: "x-sig-ts",
			ToleranceSecs:   600,
		},
	}
	payload := map[string]any{"foo": "bar"}
	now := time.Now().Unix()
	sig := sign(t, "s", now, payload)

	req := Request{
		Method: "POST",
		Headers: http.Header{
			"X-Sig":    []string{sig},
			"X-Sig-Ts": []string{strconv.FormatInt(now, 10)},
		},
		Payload: payload,
	}

	_, err := gate.Admit("wf-1", cfg, req)
	require.NoError(t, err)

	_, err = gate.Admit("wf-1", cfg, req)
	require.Error(t, err)
	var authErr *orcheoerrors.WebhookAuthenticationError
	require.ErrorAs(t, err, &authErr)

	staleTs := now - 1000
	staleSig := sign(t, "s", staleTs, payload)
	staleReq := Request{
		Method: "POST",
		Headers: http.Header{
			"X-Sig":    []string{staleSig},
			"X-Sig-Ts": []string{strconv.FormatInt(staleTs, 10)},
		},
		Payload: payload,
	}
	_, err = gate.Admit("wf-1", cfg, staleReq)
	require.Error(t, err)
	require.ErrorAs(t, err, &authErr)
}

func TestAdmit_RateLimitBoundary(t *testing.T) {
	gate := NewGate()
	cfg := Config{RateLimit: &RateLimitConfig{Limit: 2, Interval: time.Hour}}
	req := Request{Method: "POST"}

	_, err := gate.Admit("wf-2", cfg, req)
	require.NoError(t, err)
	_, err = gate.Admit("wf-2", cfg, req)
	require.NoError(t, err)

	_, err = gate.Admit("wf-2", cfg, req)
	require.Error(t, err)
	var rateErr *orcheoerrors.RateLimitExceededError
	require.ErrorAs(t, err, &rateErr)
}

func TestAdmit_RateLimitResetsAfterInterval(t *testing.T) {
	gate := NewGate()
	cfg := Config{RateLimit: &RateLimitConfig{Limit: 1, Interval: 20 * time.Millisecond}}
	req := Request{Method: "POST"}

	_, err := gate.Admit("wf-3", cfg, req)
	require.NoError(t, err)
	_, err = gate.Admit("wf-3", cfg, req)
	require.Error(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = gate.Admit("wf-3", cfg, req)
	require.NoError(t, err)
}

func TestAdmit_MethodNotAllowed(t *testing.T) {
	gate := NewGate()
	cfg := Config{AllowedMethods: []string{"POST"}}
	_, err := gate.Admit("wf-4", cfg, Request{Method: "GET"})
	require.Error(t, err)
}

func TestAdmit_SharedSecretMismatch(t *testing.T) {
	gate := NewGate()
	cfg := Config{SharedSecret: "topsecret", SharedSecretHeader: "X-Shared-Secret"}
	req := Request{Method: "POST", Headers: http.Header{"X-Shared-Secret": []string{"wrong"}}}
	_, err := gate.Admit("wf-5", cfg, req)
	require.Error(t, err)
}

func TestAdmit_ScrubsSharedSecretHeader(t *testing.T) {
	gate := NewGate()
	cfg := Config{SharedSecret: "topsecret", SharedSecretHeader: "X-Shared-Secret"}
	req := Request{Method: "POST", Headers: http.Header{
		"X-Shared-Secret": []string{"topsecret"},
		"X-Other":         []string{"keep"},
	}}
	headers, err := gate.Admit("wf-6", cfg, req)
	require.NoError(t, err)
	assert.Empty(t, headers.Get("X-Shared-Secret"))
	assert.Equal(t, "keep", headers.Get("X-Other"))
}

func TestAdmit_RequiredHeadersAndQueryParams(t *testing.T) {
	gate := NewGate()
	cfg := Config{
		RequiredHeaders:     map[string]string{"X-Source": "github"},
		RequiredQueryParams: map[string]string{"token": "abc"},
	}
	ok := Request{
		Method:      "POST",
		Headers:     http.Header{"X-Source": []string{"github"}},
		QueryParams: map[string][]string{"token": {"abc"}},
	}
	_, err := gate.Admit("wf-7", cfg, ok)
	require.NoError(t, err)

	bad := ok
	bad.QueryParams = map[string][]string{"token": {"wrong"}}
	_, err = gate.Admit("wf-7", cfg, bad)
	require.Error(t, err)
}
