// Package notify routes language server notifications to the components
// that consume them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"jardav/internal/dependencies"
	"jardav/internal/errdefs"
	"jardav/internal/jobs"
	"jardav/internal/preview"
	"jardav/internal/scenarios"
)

// Notification methods.
const (
	MethodPublishDependencies = "weave/workspace/publishDependencies"
	MethodPublishScenarios    = "weave/workspace/publishScenarios"
	MethodShowPreviewResult   = "weave/workspace/showPreviewResult"
	MethodJobStarted          = "weave/workspace/notifyJobStarted"
	MethodJobEnded            = "weave/workspace/notifyJobEnded"
)

// Client command ids.
const (
	CommandOpenFile            = dependencies.OpenFileCommand
	CommandRefreshDependencies = dependencies.RefreshCommand
	CommandOpen                = scenarios.OpenCommand
)

// PublishDependenciesParams is the payload of MethodPublishDependencies.
type PublishDependenciesParams struct {
	Dependencies []dependencies.Definition `json:"dependencies"`
}

type Router struct {
	deps      *dependencies.Registry
	scenarios *scenarios.Registry
	preview   *preview.FS
	jobs      *jobs.Tracker
	logger    *zap.Logger
}

// NewRouter builds a router. Notifications for a nil component fail with
// ErrUnknownMethod.
func NewRouter(deps *dependencies.Registry, scen *scenarios.Registry, p *preview.FS, j *jobs.Tracker, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{deps: deps, scenarios: scen, preview: p, jobs: j, logger: logger}
}

// Methods lists the notifications the router accepts.
func (r *Router) Methods() []string {
	var out []string
	if r.deps != nil {
		out = append(out, MethodPublishDependencies)
	}
	if r.scenarios != nil {
		out = append(out, MethodPublishScenarios)
	}
	if r.preview != nil {
		out = append(out, MethodShowPreviewResult)
	}
	if r.jobs != nil {
		out = append(out, MethodJobStarted, MethodJobEnded)
	}
	return out
}

// Dispatch decodes params for method and hands them to its consumer.
func (r *Router) Dispatch(ctx context.Context, method string, params json.RawMessage) error {
	r.logger.Debug("Notification received", zap.String("method", method))

	switch {
	case method == MethodPublishDependencies && r.deps != nil:
		var p PublishDependenciesParams
		if err := decode(method, params, &p); err != nil {
			return err
		}
		return r.deps.Publish(ctx, p.Dependencies)

	case method == MethodPublishScenarios && r.scenarios != nil:
		var p scenarios.Set
		if err := decode(method, params, &p); err != nil {
			return err
		}
		return r.scenarios.Publish(ctx, p)

	case method == MethodShowPreviewResult && r.preview != nil:
		var p preview.Result
		if err := decode(method, params, &p); err != nil {
			return err
		}
		r.preview.Show(p)
		return nil

	case method == MethodJobStarted && r.jobs != nil:
		var p jobs.Started
		if err := decode(method, params, &p); err != nil {
			return err
		}
		r.jobs.Start(p)
		return nil

	case method == MethodJobEnded && r.jobs != nil:
		var p jobs.Ended
		if err := decode(method, params, &p); err != nil {
			return err
		}
		if !r.jobs.End(p.ID) {
			r.logger.Debug("Unknown job ended", zap.String("id", p.ID))
		}
		return nil
	}

	return fmt.Errorf("%w: %s", errdefs.ErrUnknownMethod, method)
}

func decode(method string, params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: %s has no params", errdefs.ErrInvalidParams, method)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %s: %v", errdefs.ErrInvalidParams, method, err)
	}
	return nil
}
