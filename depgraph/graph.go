/*
 * MIT License
 *
 * Copyright (c) 2026 The corelib Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package depgraph builds an entity dependency graph from a migration schema
// and partitions it into import tiers. Nodes live in a flat arena indexed by
// integer position; edges reference nodes by index rather than pointer, so
// cycle detection and tiering operate entirely over indices with no node
// mutation required to break a cycle — only edges are ever marked deferred.
package depgraph

import (
	"fmt"

	"github.com/dvbulk/corelib/contract"
)

// Edge is one dependency edge between two entities.
type Edge struct {
	From     string
	To       string
	Field    string
	Required bool
	// Deferred marks an edge removed from tiering to break a cycle; its
	// field is written in the importer's second pass instead.
	Deferred bool
}

// Graph is the built dependency graph: nodes, edges, and derived tiering.
type Graph struct {
	nodes []string       // arena of entity names, stable index order
	index map[string]int // entity name -> arena index
	edges []Edge

	Tiers          [][]string
	CircularRefs   []Edge
	DeferredFields map[string][]string
}

// Build constructs a Graph from schema: one edge per declared relationship,
// an intersect-entity node (depending on both sides) for many-to-many
// relationships, then computes SCCs, a deferred edge per cycle, and the
// resulting topological tiers.
func Build(schema contract.MigrationSchema) (*Graph, error) {
	g := &Graph{index: map[string]int{}}

	for _, e := range schema.Entities {
		g.addNode(e.Name)
	}

	for _, e := range schema.Entities {
		for _, rel := range e.Relationships {
			if rel.ManyToMany {
				intersect := rel.IntersectEntity
				if intersect == "" {
					intersect = fmt.Sprintf("%s_%s_%s", e.Name, rel.Target, rel.Name)
				}
				g.addNode(intersect)
				g.addEdge(Edge{From: intersect, To: e.Name, Field: rel.Name, Required: true})
				g.addEdge(Edge{From: intersect, To: rel.Target, Field: rel.Name, Required: true})
				continue
			}
			if _, ok := g.index[rel.Target]; !ok {
				g.addNode(rel.Target)
			}
			g.addEdge(Edge{From: e.Name, To: rel.Target, Field: rel.Field, Required: rel.Mandatory})
		}
	}

	if err := g.tier(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Graph) addNode(name string) int {
	if idx, ok := g.index[name]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, name)
	g.index[name] = idx
	return idx
}

func (g *Graph) addEdge(e Edge) {
	g.edges = append(g.edges, e)
}

// outgoingNonDeferred returns the non-deferred edges originating at node idx.
func (g *Graph) outgoingNonDeferred(idx int) []Edge {
	var out []Edge
	name := g.nodes[idx]
	for _, e := range g.edges {
		if e.From == name && !e.Deferred {
			out = append(out, e)
		}
	}
	return out
}
