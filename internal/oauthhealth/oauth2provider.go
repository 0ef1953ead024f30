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

package oauthhealth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ShaojieJiang/orcheo/internal/vault"
)

// OAuth2ProviderConfig describes a standard OAuth2 refresh-token provider:
// refresh via the provider's token endpoint, validate via a lightweight
// authenticated probe request.
type OAuth2ProviderConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// Validate issues an authenticated request against the provider and
	// reports whether the access token is still accepted. A nil Validate
	// treats a successful refresh/non-expiry as healthy.
	Validate func(ctx context.Context, client *http.Client) error
}

// OAuth2Provider adapts golang.org/x/oauth2's TokenSource refresh flow to
// the ProviderHandler contract the health service registry expects.
type OAuth2Provider struct {
	cfg OAuth2ProviderConfig
}

// NewOAuth2Provider builds a ProviderHandler for a standard OAuth2 provider.
func NewOAuth2Provider(cfg OAuth2ProviderConfig) *OAuth2Provider {
	return &OAuth2Provider{cfg: cfg}
}

func (p *OAuth2Provider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Scopes:       p.cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: p.cfg.TokenURL},
	}
}

// RefreshTokens exchanges a refresh token for a new access token using the
// provider's token endpoint.
func (p *OAuth2Provider) RefreshTokens(ctx context.Context, md vault.Metadata, tokens vault.OAuthTokens) (*vault.OAuthTokens, error) {
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("oauthhealth: no refresh_token available for credential %s", md.ID)
	}

	src := p.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: tokens.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("oauthhealth: refresh token: %w", err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = tokens.RefreshToken
	}

	return &vault.OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        tokens.Scope,
	}, nil
}

// ValidateTokens probes the provider with the current access token, if a
// Validate callback was configured; otherwise treats a non-expired token as
// healthy.
func (p *OAuth2Provider) ValidateTokens(ctx context.Context, md vault.Metadata, tokens vault.OAuthTokens) (vault.HealthStatus, string, error) {
	if p.cfg.Validate == nil {
		if !tokens.ExpiresAt.IsZero() && !tokens.ExpiresAt.After(time.Now()) {
			return vault.HealthUnhealthy, "access token expired", nil
		}
		return vault.HealthHealthy, "", nil
	}

	client := p.oauthConfig().Client(ctx, &oauth2.Token{AccessToken: tokens.AccessToken, Expiry: tokens.ExpiresAt})
	if err := p.cfg.Validate(ctx, client); err != nil {
		return vault.HealthUnhealthy, err.Error(), nil
	}
	return vault.HealthHealthy, "", nil
}

var _ ProviderHandler = (*OAuth2Provider)(nil)
