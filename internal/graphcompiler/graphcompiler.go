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

// Package graphcompiler implements the Graph Compiler (C5): it turns a
// graph document — structured JSON or a sandboxed langgraph-script — into a
// CompiledGraph the Execution Engine can drive.
package graphcompiler

import (
	"context"

	"github.com/ShaojieJiang/orcheo/internal/vault"
)

// Start and End are the sentinel vertex ids.
const (
	Start = "START"
	End   = "END"
)

// State is the mutable bag of values threaded through a run. The reserved
// "_messages" key carries LLM message objects out of the graph intact.
type State map[string]any

// Step is one emitted unit of graph progress: an object whose single
// top-level key is the node id producing it (or "status" for terminal
// steps emitted by the engine itself).
type Step map[string]any

// Node is a constructed, runnable graph vertex.
type Node interface {
	// ID returns the node's identifier as declared in the graph.
	ID() string
	// Run executes the node against the current state and returns the
	// (possibly partial) state delta it produced.
	Run(ctx context.Context, state State) (State, error)
}

// ConditionalEdge branches from a source node to one of several
// destinations based on a predicate evaluated against the current state.
type ConditionalEdge struct {
	From      string
	Predicate func(state State) (string, error)
	Branches  map[string]string
	Default   string
}

// Constructor builds a Node from a validated config. resolver is non-nil
// whenever the compiling workflow has a credential scope; constructors read
// `[[cred_name]]` references from config through it.
type Constructor func(ctx context.Context, id string, config map[string]any, resolver *vault.CredentialResolver) (Node, error)

// Registry resolves node type names to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry builds an empty node Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds (or replaces) the constructor for a node type name.
func (r *Registry) Register(typeName string, ctor Constructor) {
	r.constructors[typeName] = ctor
}

// Lookup returns the constructor registered for typeName, if any.
func (r *Registry) Lookup(typeName string) (Constructor, bool) {
	ctor, ok := r.constructors[typeName]
	return ctor, ok
}

// CompiledGraph is the Graph Compiler's output: a runnable, resumable
// representation of a workflow graph.
type CompiledGraph interface {
	// StartState builds the initial State from run inputs.
	StartState(inputs map[string]any) State
	// Stream drives execution from state, yielding one Step per node
	// transition (and, via the returned error, any terminal node error).
	// config carries the cooperative cancellation context and per-node
	// checkpointing hooks used for resume.
	Stream(ctx context.Context, state State, config RunConfig) (<-chan Step, <-chan error)
	// FinalState returns the state snapshot after Stream has drained.
	FinalState() State
	// GetSnapshot returns the state as of the given node id, used by
	// resumable checkpointing.
	GetSnapshot(nodeID string) (State, bool)
}

// Checkpointer receives per-node state snapshots keyed by
// (execution_id, node_id). Resume semantics: re-running with the same
// execution_id skips nodes with an existing snapshot and resumes state
// from the last one.
type Checkpointer interface {
	Save(executionID, nodeID string, state State) error
	Load(executionID, nodeID string) (State, bool)
}

// RunConfig carries the execution-scoped parameters threaded into Stream.
type RunConfig struct {
	ExecutionID  string
	StepBudget   int
	Checkpointer Checkpointer
}

// Compiler turns a graph document into a CompiledGraph.
type Compiler struct {
	registry *Registry
	resolver *vault.CredentialResolver
}

// New builds a Compiler backed by registry, optionally scoped to resolver
// for `[[cred_name]]` substitution (resolver may be nil).
func New(registry *Registry, resolver *vault.CredentialResolver) *Compiler {
	return &Compiler{registry: registry, resolver: resolver}
}

// Compile dispatches on graph["format"] to the structured or
// langgraph-script compiler.
func (c *Compiler) Compile(ctx context.Context, graph map[string]any) (CompiledGraph, error) {
	format, _ := graph["format"].(string)
	switch format {
	case "", "structured":
		return c.compileStructured(ctx, graph)
	case "langgraph-script":
		return c.compileScript(ctx, graph)
	default:
		return nil, &UnsupportedFormatError{Format: format}
	}
}

// UnsupportedFormatError reports an unrecognised graph["format"] value.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return "graphcompiler: unsupported graph format " + e.Format
}
