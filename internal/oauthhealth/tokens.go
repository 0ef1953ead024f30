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
	"encoding/json"
	"fmt"

	"github.com/ShaojieJiang/orcheo/internal/vault"
)

// decodeTokens parses the plaintext secret of an OAUTH credential, which the
// vault stores as JSON-encoded vault.OAuthTokens (§4.1 "secret is... a
// JSON-encoded OAuthTokens for OAUTH").
func decodeTokens(plaintext string) (*vault.OAuthTokens, error) {
	var tokens vault.OAuthTokens
	if err := json.Unmarshal([]byte(plaintext), &tokens); err != nil {
		return nil, fmt.Errorf("oauthhealth: decode oauth tokens: %w", err)
	}
	return &tokens, nil
}
