package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corewave-ai/voicegateway/auth"
	"github.com/corewave-ai/voicegateway/schema"
	"github.com/corewave-ai/voicegateway/security"
)

// ExecuteRequest is one dispatch call (spec §4.8 execute(req)).
type ExecuteRequest struct {
	SiteID     string
	TenantID   string
	Subject    string // authorizing principal (user id)
	ActionName string
	Parameters map[string]any
	DryRun     bool
}

// ToolExecution is one retained history entry, pairing the request with its
// outcome.
type ToolExecution struct {
	Request ExecuteRequest
	Result  schema.ToolResult
}

// Dispatcher validates, authorizes, and executes actions registered in a
// Registry (C8).
type Dispatcher struct {
	registry *Registry
	policy   auth.Policy // nil disables authorization (e.g. tests)
	security *security.Service
	history  *history
}

// NewDispatcher creates a Dispatcher. policy and sec may be nil to disable
// their respective checks.
func NewDispatcher(registry *Registry, policy auth.Policy, sec *security.Service) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		policy:   policy,
		security: sec,
		history:  newHistory(),
	}
}

// Lookup returns the registered Action for (siteID, name) without executing
// it, so a caller can inspect its side-effect/risk metadata before deciding
// whether execution needs confirmation (spec §4.7/§4.8).
func (d *Dispatcher) Lookup(siteID, name string) (Action, bool) {
	return d.registry.Get(siteID, name)
}

// Execute validates req's parameters against the registered Action's
// ParamSpecs, runs the security pipeline over the serialized arguments,
// checks the calling subject's authorization, then invokes the action's handler
// (or simulates it, for DryRun). The outcome is retained in the per-site
// history regardless of success.
func (d *Dispatcher) Execute(ctx context.Context, req ExecuteRequest) (schema.ToolResult, error) {
	result := schema.ToolResult{ToolName: req.ActionName, Input: req.Parameters, StartedAt: time.Now()}

	action, ok := d.registry.Get(req.SiteID, req.ActionName)
	if !ok {
		err := schema.NewError("dispatcher.execute", schema.ErrActionNotFound,
			fmt.Sprintf("action %q is not registered for site %q", req.ActionName, req.SiteID), nil)
		return d.fail(req, result, err)
	}

	if err := validateParameters(action, req.Parameters); err != nil {
		wrapped := schema.NewError("dispatcher.execute", schema.ErrValidation, err.Error(), err)
		return d.fail(req, result, wrapped)
	}

	if d.security != nil {
		argsJSON, _ := json.Marshal(req.Parameters)
		if err := d.security.ValidateTool(ctx, req.ActionName, string(argsJSON)); err != nil {
			return d.fail(req, result, err)
		}
	}

	if d.policy != nil {
		allowed, err := d.policy.Authorize(ctx, req.Subject, auth.PermToolExec, req.ActionName)
		if err != nil {
			return d.fail(req, result, fmt.Errorf("dispatcher: authorize: %w", err))
		}
		if !allowed {
			err := schema.NewError("dispatcher.execute", schema.ErrActionFailed,
				fmt.Sprintf("subject %q is not authorized to execute %q", req.Subject, req.ActionName), nil)
			return d.fail(req, result, err)
		}
	}

	if req.DryRun {
		result.Success = true
		result.Output = map[string]any{"dryRun": true, "action": req.ActionName}
		result.DurationMs = time.Since(result.StartedAt).Milliseconds()
		d.history.record(req.SiteID, ToolExecution{Request: req, Result: result})
		return result, nil
	}

	out, err := action.Handler(ctx, req.Parameters)
	result.DurationMs = time.Since(result.StartedAt).Milliseconds()
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		d.history.record(req.SiteID, ToolExecution{Request: req, Result: result})
		return result, schema.NewError("dispatcher.execute", schema.ErrActionFailed, err.Error(), err)
	}

	result.Success = true
	result.Output = out
	if action.SideEffect != "" && action.SideEffect != schema.EffectSafe {
		result.SideEffects = []string{string(action.SideEffect)}
	}
	d.history.record(req.SiteID, ToolExecution{Request: req, Result: result})
	return result, nil
}

// History returns the most recent n executions recorded for siteID.
func (d *Dispatcher) History(siteID string, n int) []ToolExecution {
	return d.history.Recent(siteID, n)
}

func (d *Dispatcher) fail(req ExecuteRequest, result schema.ToolResult, err error) (schema.ToolResult, error) {
	result.Success = false
	result.Error = err.Error()
	result.DurationMs = time.Since(result.StartedAt).Milliseconds()
	d.history.record(req.SiteID, ToolExecution{Request: req, Result: result})
	return result, err
}

func validateParameters(action Action, params map[string]any) error {
	for name, spec := range action.Parameters {
		val, present := params[name]
		if !present {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if !typeMatches(spec.Type, val) {
			return fmt.Errorf("parameter %q: expected %s", name, spec.Type)
		}
	}
	for name := range params {
		if _, known := action.Parameters[name]; !known {
			return fmt.Errorf("unknown parameter %q", name)
		}
	}
	return nil
}

func typeMatches(want string, val any) bool {
	switch want {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}
