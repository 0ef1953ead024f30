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

package graphcompiler

import (
	"context"

	"github.com/ShaojieJiang/orcheo/internal/vault"
)

// noopNode always succeeds, producing {"ok": true}. It exists for tests
// and minimal example graphs; registries used in production wire their own
// node types through Registry.Register.
type noopNode struct {
	id string
}

func (n *noopNode) ID() string { return n.id }

func (n *noopNode) Run(ctx context.Context, state State) (State, error) {
	return State{"ok": true}, nil
}

func newNoopNode(ctx context.Context, id string, config map[string]any, resolver *vault.CredentialResolver) (Node, error) {
	return &noopNode{id: id}, nil
}

// RegisterBuiltins adds the node types every graph may rely on without
// explicit registration: currently just "Noop".
func RegisterBuiltins(r *Registry) {
	r.Register("Noop", newNoopNode)
}
