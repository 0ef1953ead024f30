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

	"github.com/dop251/goja"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// scriptGraphBuilder is the only host object a langgraph-script may build
// against. Its methods are the entire allow-listed API surface: there is no
// require(), no filesystem, no network — goja's default runtime exposes
// none of those, so nothing else is reachable from script code.
type scriptGraphBuilder struct {
	entry       string
	nodes       []structuredNodeSpec
	edges       []structuredEdgeSpec
	conditional []map[string]any
}

func (b *scriptGraphBuilder) AddNode(id, typeName string, config map[string]any) {
	b.nodes = append(b.nodes, structuredNodeSpec{ID: id, Type: typeName, Config: config})
}

func (b *scriptGraphBuilder) AddEdge(from, to string) {
	b.edges = append(b.edges, structuredEdgeSpec{From: from, To: to})
}

func (b *scriptGraphBuilder) AddConditionalEdge(from string, branches map[string]any, defaultDest string) {
	b.conditional = append(b.conditional, map[string]any{
		"from": from, "branches": branches, "default": defaultDest,
	})
}

func (b *scriptGraphBuilder) SetEntry(id string) {
	b.entry = id
}

// compileScript executes a `{format: "langgraph-script", source, entrypoint?}`
// document in a restricted goja runtime and compiles the resulting graph
// description the same way the structured format is compiled.
func (c *Compiler) compileScript(ctx context.Context, graph map[string]any) (CompiledGraph, error) {
	source, _ := graph["source"].(string)
	if source == "" {
		return nil, orcheoerrors.NewScriptIngestionError("langgraph-script graph missing source")
	}
	entrypoint, _ := graph["entrypoint"].(string)

	vm := goja.New()
	builders := make(map[string]*scriptGraphBuilder)

	newGraph := func(call goja.ConstructorCall) *goja.Object {
		b := &scriptGraphBuilder{}
		obj := vm.NewObject()
		_ = obj.Set("add_node", func(id, typeName string, config map[string]any) { b.AddNode(id, typeName, config) })
		_ = obj.Set("add_edge", func(from, to string) { b.AddEdge(from, to) })
		_ = obj.Set("add_conditional_edge", func(from string, branches map[string]any, defaultDest string) {
			b.AddConditionalEdge(from, branches, defaultDest)
		})
		_ = obj.Set("set_entry", func(id string) { b.SetEntry(id) })
		_ = obj.Set("__orcheo_builder_id__", fmt.Sprintf("%p", b))
		builders[fmt.Sprintf("%p", b)] = b
		return obj
	}

	if err := vm.Set("GraphBuilder", newGraph); err != nil {
		return nil, orcheoerrors.NewScriptIngestionError("failed to install GraphBuilder: " + err.Error())
	}
	if err := vm.Set("validate", func(ok bool, message string) {
		if !ok {
			panic(vm.NewGoError(fmt.Errorf("%s", message)))
		}
	}); err != nil {
		return nil, orcheoerrors.NewScriptIngestionError("failed to install validate: " + err.Error())
	}

	val, err := vm.RunString("(function(){" + source + "\n})()")
	if err != nil {
		return nil, orcheoerrors.NewScriptIngestionError("script execution failed: " + err.Error())
	}

	builder, err := resolveBuilder(vm, val, entrypoint, builders)
	if err != nil {
		return nil, err
	}
	if builder.entry == "" {
		return nil, orcheoerrors.NewScriptIngestionError("langgraph-script left no entry set on its graph builder")
	}

	compiled := map[string]any{
		"format": "structured",
		"entry":  builder.entry,
	}
	nodes := make([]any, len(builder.nodes))
	for i, n := range builder.nodes {
		nodes[i] = map[string]any{"id": n.ID, "type": n.Type, "config": n.Config}
	}
	compiled["nodes"] = nodes
	edges := make([]any, len(builder.edges))
	for i, e := range builder.edges {
		edges[i] = []any{e.From, e.To}
	}
	compiled["edges"] = edges
	conditional := make([]any, len(builder.conditional))
	for i, ce := range builder.conditional {
		conditional[i] = ce
	}
	compiled["conditional_edges"] = conditional

	return c.compileStructured(ctx, compiled)
}

// resolveBuilder finds the graph-builder object left in scope by the
// script: either its return value directly, a zero-arg factory that
// returns one, or — if ambiguous and no entrypoint was named — fails.
func resolveBuilder(vm *goja.Runtime, val goja.Value, entrypoint string, builders map[string]*scriptGraphBuilder) (*scriptGraphBuilder, error) {
	if entrypoint != "" {
		global := vm.GlobalObject()
		candidate := global.Get(entrypoint)
		if candidate == nil || goja.IsUndefined(candidate) {
			return nil, orcheoerrors.NewScriptIngestionError("named entrypoint " + entrypoint + " not found")
		}
		val = candidate
	}

	if fn, ok := goja.AssertFunction(val); ok {
		result, err := fn(goja.Undefined())
		if err != nil {
			return nil, orcheoerrors.NewScriptIngestionError("entrypoint factory failed: " + err.Error())
		}
		val = result
	}

	obj := val.ToObject(vm)
	if obj == nil {
		return nil, orcheoerrors.NewScriptIngestionError("script did not leave a graph-builder object in scope")
	}
	idVal := obj.Get("__orcheo_builder_id__")
	if idVal == nil || goja.IsUndefined(idVal) {
		return nil, orcheoerrors.NewScriptIngestionError("script did not leave a graph-builder object in scope")
	}
	b, ok := builders[idVal.String()]
	if !ok {
		return nil, orcheoerrors.NewScriptIngestionError("script left an unrecognised object in scope")
	}

	if entrypoint == "" && len(builders) > 1 {
		return nil, orcheoerrors.NewScriptIngestionError("multiple candidate graph objects exist and no entrypoint was named")
	}
	return b, nil
}
