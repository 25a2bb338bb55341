// Package scenarios keeps the sample-data scenarios the language server
// publishes for a transformation and exposes them as a tree.
package scenarios

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"jardav/internal/errdefs"
	"jardav/internal/events"
	"jardav/pkg/types"
)

const (
	// OpenCommand is attached to nodes that name a document.
	OpenCommand = "vscode.open"
	// RefreshAddress is the address refresh events are published under.
	RefreshAddress = "scenarios:"
)

// Node contexts, one per level of the tree.
const (
	ContextTransformation = "transformationItem"
	ContextScenario       = "scenario"
	ContextActiveScenario = "activeScenario"
	ContextInputs         = "inputs"
	ContextInput          = "inputItem"
	ContextOutputs        = "outputs"
	ContextOutput         = "outputItem"
)

const (
	inputsSegment  = "inputs"
	outputsSegment = "outputs"
)

// SampleInput is one input document of a scenario.
type SampleInput struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// Scenario is a named set of sample inputs and the expected output.
type Scenario struct {
	Active    bool          `json:"active"`
	Name      string        `json:"name"`
	URI       string        `json:"uri"`
	Inputs    []SampleInput `json:"inputsUri"`
	OutputURI string        `json:"outputsUri"`
}

// Set is the payload of a publishScenarios notification.
type Set struct {
	NameIdentifier string     `json:"nameIdentifier"`
	Scenarios      []Scenario `json:"scenarios"`
}

// TreeItem is a node of the scenario tree. ID is what Children takes to
// expand the node.
type TreeItem struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Context     string `json:"context"`
	URI         string `json:"uri,omitempty"`
	Collapsible bool   `json:"collapsible"`
	Command     string `json:"command,omitempty"`
}

type Registry struct {
	mu  sync.RWMutex
	set *Set
	hub *events.Hub
}

// NewRegistry builds a registry. hub may be nil.
func NewRegistry(hub *events.Hub) *Registry {
	return &Registry{hub: hub}
}

// Publish replaces the scenarios and announces a refresh.
func (r *Registry) Publish(_ context.Context, set Set) error {
	if set.NameIdentifier == "" {
		return fmt.Errorf("%w: nameIdentifier is required", errdefs.ErrInvalidParams)
	}

	cp := set
	cp.Scenarios = make([]Scenario, len(set.Scenarios))
	for i, s := range set.Scenarios {
		s.Inputs = append([]SampleInput(nil), s.Inputs...)
		cp.Scenarios[i] = s
	}

	r.mu.Lock()
	r.set = &cp
	r.mu.Unlock()

	if r.hub != nil {
		r.hub.Publish(types.ChangeEvent{Type: types.Changed, Address: RefreshAddress})
	}
	return nil
}

// Current returns the published scenarios.
func (r *Registry) Current() (Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.set == nil {
		return Set{}, false
	}
	return *r.set, true
}

// Roots returns the transformation node, or nothing before the first
// Publish.
func (r *Registry) Roots() []TreeItem {
	set, ok := r.Current()
	if !ok {
		return []TreeItem{}
	}
	parts := strings.Split(set.NameIdentifier, "::")
	return []TreeItem{{
		ID:          joinID(set.NameIdentifier),
		Label:       parts[len(parts)-1],
		Context:     ContextTransformation,
		Collapsible: true,
	}}
}

// Children expands the node with the given id.
func (r *Registry) Children(_ context.Context, id string) ([]TreeItem, error) {
	set, ok := r.Current()
	if !ok {
		return nil, fmt.Errorf("%w: no scenarios published", errdefs.ErrEntryNotFound)
	}
	segs, err := splitID(id)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 || segs[0] != set.NameIdentifier {
		return nil, fmt.Errorf("%w: scenario node %q", errdefs.ErrEntryNotFound, id)
	}

	if len(segs) == 1 {
		items := make([]TreeItem, 0, len(set.Scenarios))
		for _, s := range set.Scenarios {
			item := TreeItem{
				ID:          joinID(set.NameIdentifier, s.Name),
				Label:       s.Name,
				Context:     ContextScenario,
				URI:         s.URI,
				Collapsible: true,
				Command:     OpenCommand,
			}
			if s.Active {
				item.Context = ContextActiveScenario
			}
			items = append(items, item)
		}
		return items, nil
	}

	scenario, ok := find(set.Scenarios, segs[1])
	if !ok {
		return nil, fmt.Errorf("%w: scenario %q", errdefs.ErrEntryNotFound, segs[1])
	}

	switch {
	case len(segs) == 2:
		return []TreeItem{
			{ID: joinID(segs[0], segs[1], inputsSegment), Label: "Inputs", Context: ContextInputs, Collapsible: true},
			{ID: joinID(segs[0], segs[1], outputsSegment), Label: "Outputs", Context: ContextOutputs, Collapsible: true},
		}, nil

	case len(segs) == 3 && segs[2] == inputsSegment:
		items := make([]TreeItem, 0, len(scenario.Inputs))
		for _, in := range scenario.Inputs {
			items = append(items, TreeItem{
				ID:      joinID(segs[0], segs[1], inputsSegment, in.Name),
				Label:   in.Name,
				Context: ContextInput,
				URI:     in.URI,
				Command: OpenCommand,
			})
		}
		return items, nil

	case len(segs) == 3 && segs[2] == outputsSegment:
		if scenario.OutputURI == "" {
			return []TreeItem{}, nil
		}
		name := baseName(scenario.OutputURI)
		return []TreeItem{{
			ID:      joinID(segs[0], segs[1], outputsSegment, name),
			Label:   name,
			Context: ContextOutput,
			URI:     scenario.OutputURI,
			Command: OpenCommand,
		}}, nil

	case len(segs) == 4 && (segs[2] == inputsSegment || segs[2] == outputsSegment):
		return []TreeItem{}, nil
	}

	return nil, fmt.Errorf("%w: scenario node %q", errdefs.ErrEntryNotFound, id)
}

func find(list []Scenario, name string) (Scenario, bool) {
	for _, s := range list {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

func baseName(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(uri)
}

// Node ids are path-escaped segments joined by "/", so names may contain
// any character.
func joinID(segs ...string) string {
	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

func splitID(id string) ([]string, error) {
	if id == "" {
		return nil, nil
	}
	parts := strings.Split(id, "/")
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("%w: scenario node %q", errdefs.ErrEntryNotFound, id)
		}
		parts[i] = s
	}
	return parts, nil
}
