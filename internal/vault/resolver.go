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

package vault

import (
	"context"
	"fmt"
	"regexp"
)

// credentialRefPattern matches "[[credential_name]]" tokens in node config
// strings (§4.1, §9 "Credential substitution").
var credentialRefPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// CredentialResolver is the only bridge from graph node config to
// plaintext secret material. It is attached to the active execution and
// scoped to a single workflow; node code never receives the vault itself.
type CredentialResolver struct {
	vault      Vault
	workflowID string
}

// NewCredentialResolver builds a resolver scoped to workflowID.
func NewCredentialResolver(v Vault, workflowID string) *CredentialResolver {
	return &CredentialResolver{vault: v, workflowID: workflowID}
}

// ResolveString substitutes every "[[name]]" occurrence in s with the
// referenced credential's plaintext secret. Missing credentials fail node
// construction with the underlying NotFound/WorkflowScopeError.
func (r *CredentialResolver) ResolveString(ctx context.Context, s string) (string, error) {
	var firstErr error
	result := credentialRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := credentialRefPattern.FindStringSubmatch(match)[1]
		cred, err := r.vault.FindByName(ctx, Context{WorkflowID: r.workflowID}, name)
		if err != nil {
			firstErr = fmt.Errorf("resolve credential %q: %w", name, err)
			return match
		}
		plaintext, err := r.vault.RevealSecret(ctx, cred.ID, Context{WorkflowID: r.workflowID})
		if err != nil {
			firstErr = fmt.Errorf("reveal credential %q: %w", name, err)
			return match
		}
		return plaintext
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// ResolveConfig walks every string field of a deserialized node config
// (maps and slices) and substitutes credential references in place. This
// is the registered transform run after deserialization, before node
// construction (§9 "Credential substitution").
func (r *CredentialResolver) ResolveConfig(ctx context.Context, config map[string]any) (map[string]any, error) {
	resolved, err := r.resolveValue(ctx, config)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func (r *CredentialResolver) resolveValue(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.ResolveString(ctx, val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}
