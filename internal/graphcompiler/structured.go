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
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

type structuredNodeSpec struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

type structuredEdgeSpec struct {
	From string
	To   string
}

// compileStructured parses the `{format: "structured", ...}` document and
// constructs every node through the registry.
func (c *Compiler) compileStructured(ctx context.Context, graph map[string]any) (CompiledGraph, error) {
	entry, _ := graph["entry"].(string)
	if entry == "" {
		return nil, orcheoerrors.NewScriptIngestionError("structured graph missing entry")
	}

	nodeSpecs, err := decodeNodeSpecs(graph["nodes"])
	if err != nil {
		return nil, err
	}
	edges, err := decodeEdges(graph["edges"])
	if err != nil {
		return nil, err
	}
	conditional, err := c.decodeConditionalEdges(graph["conditional_edges"])
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]Node, len(nodeSpecs))
	order := make([]string, 0, len(nodeSpecs))
	for _, spec := range nodeSpecs {
		ctor, ok := c.registry.Lookup(spec.Type)
		if !ok {
			return nil, orcheoerrors.NewScriptIngestionError(fmt.Sprintf("unknown node type %q for node %q", spec.Type, spec.ID))
		}
		resolvedConfig := spec.Config
		if c.resolver != nil && resolvedConfig != nil {
			resolvedConfig, err = c.resolver.ResolveConfig(ctx, resolvedConfig)
			if err != nil {
				return nil, err
			}
		}
		node, err := ctor(ctx, spec.ID, resolvedConfig, c.resolver)
		if err != nil {
			return nil, fmt.Errorf("graphcompiler: construct node %q: %w", spec.ID, err)
		}
		nodes[spec.ID] = node
		order = append(order, spec.ID)
	}

	adjacency := make(map[string][]string)
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	return &structuredGraph{
		nodes:       nodes,
		order:       order,
		entry:       entry,
		adjacency:   adjacency,
		conditional: conditional,
	}, nil
}

func decodeNodeSpecs(raw any) ([]structuredNodeSpec, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, orcheoerrors.NewScriptIngestionError("structured graph nodes must be a list")
	}
	out := make([]structuredNodeSpec, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, orcheoerrors.NewScriptIngestionError("structured graph node entry must be an object")
		}
		id, _ := m["id"].(string)
		typeName, _ := m["type"].(string)
		if id == "" || typeName == "" {
			return nil, orcheoerrors.NewScriptIngestionError("structured graph node requires id and type")
		}
		config, _ := m["config"].(map[string]any)
		out = append(out, structuredNodeSpec{ID: id, Type: typeName, Config: config})
	}
	return out, nil
}

func decodeEdges(raw any) ([]structuredEdgeSpec, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]structuredEdgeSpec, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case []any:
			if len(v) != 2 {
				return nil, orcheoerrors.NewScriptIngestionError("structured graph edge tuple must have two elements")
			}
			from, _ := v[0].(string)
			to, _ := v[1].(string)
			out = append(out, structuredEdgeSpec{From: from, To: to})
		case map[string]any:
			from, _ := v["from"].(string)
			to, _ := v["to"].(string)
			out = append(out, structuredEdgeSpec{From: from, To: to})
		default:
			return nil, orcheoerrors.NewScriptIngestionError("structured graph edge must be a tuple or object")
		}
	}
	return out, nil
}

func (c *Compiler) decodeConditionalEdges(raw any) ([]ConditionalEdge, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]ConditionalEdge, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, orcheoerrors.NewScriptIngestionError("conditional_edges entry must be an object")
		}
		from, _ := m["from"].(string)
		if from == "" {
			return nil, orcheoerrors.NewScriptIngestionError("conditional_edges entry requires from")
		}
		branchesRaw, _ := m["branches"].(map[string]any)
		branches := make(map[string]string, len(branchesRaw))
		for k, v := range branchesRaw {
			dest, _ := v.(string)
			branches[k] = dest
		}
		defaultDest, _ := m["default"].(string)
		predicateKey, _ := m["predicate_key"].(string)
		if predicateKey == "" {
			predicateKey = "status"
		}
		out = append(out, ConditionalEdge{
			From:     from,
			Branches: branches,
			Default:  defaultDest,
			Predicate: func(state State) (string, error) {
				v, ok := state[predicateKey]
				if !ok {
					return "", nil
				}
				s, _ := v.(string)
				return s, nil
			},
		})
	}
	return out, nil
}

// structuredGraph is a CompiledGraph driven by a sequential walk over
// adjacency/conditional edges, fanning out cooperatively when a node has
// more than one static successor.
type structuredGraph struct {
	nodes       map[string]Node
	order       []string
	entry       string
	adjacency   map[string][]string
	conditional []ConditionalEdge

	finalState State
	snapshots  map[string]State
}

func (g *structuredGraph) StartState(inputs map[string]any) State {
	state := make(State, len(inputs)+1)
	for k, v := range inputs {
		state[k] = v
	}
	g.snapshots = make(map[string]State)
	return state
}

func (g *structuredGraph) conditionalFor(nodeID string) (ConditionalEdge, bool) {
	for _, ce := range g.conditional {
		if ce.From == nodeID {
			return ce, true
		}
	}
	return ConditionalEdge{}, false
}

func (g *structuredGraph) nextNodes(nodeID string, state State) ([]string, error) {
	if ce, ok := g.conditionalFor(nodeID); ok {
		branch, err := ce.Predicate(state)
		if err != nil {
			return nil, err
		}
		if dest, ok := ce.Branches[branch]; ok && dest != "" {
			return []string{dest}, nil
		}
		if ce.Default != "" {
			return []string{ce.Default}, nil
		}
		return nil, nil
	}
	return g.adjacency[nodeID], nil
}

// Stream drives the graph from state starting at entry, honoring the
// step budget and cooperative cancellation via ctx.
func (g *structuredGraph) Stream(ctx context.Context, state State, cfg RunConfig) (<-chan Step, <-chan error) {
	steps := make(chan Step)
	errs := make(chan error, 1)

	budget := cfg.StepBudget
	if budget <= 0 {
		budget = 10000
	}

	go func() {
		defer close(steps)
		defer close(errs)

		frontier := []string{g.entry}
		executed := 0

		for len(frontier) > 0 {
			if err := ctx.Err(); err != nil {
				errs <- err
				return
			}
			if executed >= budget {
				errs <- orcheoerrors.NewStepBudgetExceeded(budget)
				return
			}

			nextFrontier := make(map[string]struct{})
			type result struct {
				id    string
				delta State
				err   error
			}
			results := make([]result, len(frontier))

			grp, gctx := errgroup.WithContext(ctx)
			for i, nodeID := range frontier {
				i, nodeID := i, nodeID
				if nodeID == End {
					continue
				}
				node, ok := g.nodes[nodeID]
				if !ok {
					results[i] = result{id: nodeID, err: fmt.Errorf("graphcompiler: unknown node %q in execution path", nodeID)}
					continue
				}
				grp.Go(func() error {
					if cfg.Checkpointer != nil {
						if snap, ok := cfg.Checkpointer.Load(cfg.ExecutionID, nodeID); ok {
							results[i] = result{id: nodeID, delta: snap}
							return nil
						}
					}
					delta, err := node.Run(gctx, cloneState(state))
					results[i] = result{id: nodeID, delta: delta, err: err}
					return err
				})
			}
			if err := grp.Wait(); err != nil {
				errs <- err
				return
			}

			for _, r := range results {
				if r.id == "" {
					continue
				}
				executed++
				for k, v := range r.delta {
					state[k] = v
				}
				g.snapshots[r.id] = cloneState(state)
				if cfg.Checkpointer != nil {
					_ = cfg.Checkpointer.Save(cfg.ExecutionID, r.id, cloneState(state))
				}

				step := Step{r.id: r.delta}
				select {
				case steps <- step:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}

				nexts, err := g.nextNodes(r.id, state)
				if err != nil {
					errs <- err
					return
				}
				for _, n := range nexts {
					if n != End {
						nextFrontier[n] = struct{}{}
					}
				}
			}

			frontier = frontier[:0]
			for n := range nextFrontier {
				frontier = append(frontier, n)
			}
		}

		g.finalState = state
	}()

	return steps, errs
}

func (g *structuredGraph) FinalState() State {
	return g.finalState
}

func (g *structuredGraph) GetSnapshot(nodeID string) (State, bool) {
	s, ok := g.snapshots[nodeID]
	return s, ok
}

func cloneState(state State) State {
	out := make(State, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

var _ CompiledGraph = (*structuredGraph)(nil)
