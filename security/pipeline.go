package security

import (
	"context"
	"fmt"

	"github.com/corewave-ai/voicegateway/guard"
	"github.com/corewave-ai/voicegateway/schema"
)

// Service composes origin, rate-limit, and guard enforcement with privacy
// auditing into the single policy surface spec §4.6 exposes to the
// orchestrator and gateway.
type Service struct {
	pipeline *guard.Pipeline
	limiter  *RateLimiter
	origin   OriginPolicy
	audit    *Auditor
}

// NewService creates a Service. limiter may be nil to disable rate
// limiting (e.g. in tests).
func NewService(pipeline *guard.Pipeline, limiter *RateLimiter, origin OriginPolicy, audit *Auditor) *Service {
	return &Service{pipeline: pipeline, limiter: limiter, origin: origin, audit: audit}
}

// AllowOrigin reports whether origin is acceptable.
func (s *Service) AllowOrigin(origin string) bool {
	return s.origin.Allow(origin)
}

// CheckRateLimit enforces the per-scope limit for id, returning a
// schema.Error with ErrRateLimitExceeded when it is exceeded.
func (s *Service) CheckRateLimit(ctx context.Context, scope schema.Scope, id string) error {
	if s.limiter == nil {
		return nil
	}
	bucket, ok, err := s.limiter.Allow(ctx, scope, id)
	if err != nil {
		return err
	}
	if !ok {
		msg := fmt.Sprintf("rate limit exceeded for %s %s, resets at %s", scope, id, bucket.ResetAt.Format("15:04:05"))
		return schema.NewRateLimitError("security.rate_limit", msg, bucket.ResetAt)
	}
	return nil
}

// CheckRateLimits runs CheckRateLimit across every scope that has a
// non-empty id, in tenant/user/ip/session order, returning on the first
// scope that rejects (spec §4.6: tenant/user/ip/session buckets are
// independent, any one tripping blocks the request).
func (s *Service) CheckRateLimits(ctx context.Context, auth schema.Auth, sessionID string) error {
	scoped := []struct {
		scope schema.Scope
		id    string
	}{
		{schema.ScopeTenant, auth.TenantID},
		{schema.ScopeUser, auth.UserID},
		{schema.ScopeIP, auth.IP},
		{schema.ScopeSession, sessionID},
	}
	for _, sc := range scoped {
		if sc.id == "" {
			continue
		}
		if err := s.CheckRateLimit(ctx, sc.scope, sc.id); err != nil {
			return err
		}
	}
	return nil
}

// Validate runs input content through the guard pipeline, returning the
// sanitized content. A PII match is recorded to the audit trail but does not
// block the turn; a blocking guard (attack detector, prompt injection)
// returns UNSAFE_INPUT.
func (s *Service) Validate(ctx context.Context, tenantID, content string) (string, error) {
	result, err := s.pipeline.ValidateInput(ctx, content)
	if err != nil {
		return "", err
	}
	if result.Modified != "" {
		s.audit.RecordPIIDetected(tenantID, []string{result.GuardName})
	}
	if !result.Allowed {
		return "", schema.NewError("security.validate", schema.ErrUnsafeInput, result.Reason, nil)
	}
	if result.Modified != "" {
		return result.Modified, nil
	}
	return content, nil
}

// ValidateTool runs a tool call's serialized arguments through the tool
// guard stage, used as the dispatcher's pre-execution defense against
// injection payloads carried in function arguments.
func (s *Service) ValidateTool(ctx context.Context, toolName, args string) error {
	result, err := s.pipeline.ValidateTool(ctx, toolName, args)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return schema.NewError("security.validate_tool", schema.ErrUnsafeInput, result.Reason, nil)
	}
	return nil
}

// Compliance records a named compliance check outcome to the audit trail
// and returns an error if it failed.
func (s *Service) Compliance(tenantID, check string, passed bool) error {
	s.audit.RecordComplianceCheck(tenantID, check, passed)
	if !passed {
		return schema.NewError("security.compliance", schema.ErrUnsafeInput, "compliance check failed: "+check, nil)
	}
	return nil
}

// Erase records a right-to-erasure request against the audit trail. Actual
// deletion of tenant data is the responsibility of the storage layer this
// call accompanies.
func (s *Service) Erase(tenantID, subjectID string) {
	s.audit.RecordRightToErasure(tenantID, subjectID)
}

// AuditEntries returns the current audit trail snapshot.
func (s *Service) AuditEntries() []schema.PrivacyAuditEntry {
	return s.audit.Entries()
}
