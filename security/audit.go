package security

import (
	"time"

	"github.com/corewave-ai/voicegateway/schema"
)

// Audit actions recorded by the privacy audit trail (spec §3, §4.6).
const (
	AuditPIIDetected     = "pii_detected"
	AuditComplianceCheck = "compliance_check"
	AuditRightToErasure  = "right_to_erasure"
)

// Auditor wraps a schema.AuditRing with the typed append helpers the
// security pipeline and its callers use, so the ring's entries always carry
// a consistent action vocabulary.
type Auditor struct {
	ring *schema.AuditRing
}

// NewAuditor creates an Auditor backed by a fresh ring buffer.
func NewAuditor() *Auditor {
	return &Auditor{ring: schema.NewAuditRing()}
}

// RecordPIIDetected appends an entry noting which PII patterns matched.
func (a *Auditor) RecordPIIDetected(tenantID string, patterns []string) {
	a.ring.Append(schema.PrivacyAuditEntry{
		Ts:       time.Now(),
		Action:   AuditPIIDetected,
		TenantID: tenantID,
		Details:  map[string]any{"patterns": patterns},
	})
}

// RecordComplianceCheck appends an entry noting a policy evaluation outcome.
func (a *Auditor) RecordComplianceCheck(tenantID, check string, passed bool) {
	a.ring.Append(schema.PrivacyAuditEntry{
		Ts:       time.Now(),
		Action:   AuditComplianceCheck,
		TenantID: tenantID,
		Details:  map[string]any{"check": check, "passed": passed},
	})
}

// RecordRightToErasure appends an entry noting a data-erasure request for
// the given subject within a tenant.
func (a *Auditor) RecordRightToErasure(tenantID, subjectID string) {
	a.ring.Append(schema.PrivacyAuditEntry{
		Ts:       time.Now(),
		Action:   AuditRightToErasure,
		TenantID: tenantID,
		Details:  map[string]any{"subject_id": subjectID},
	})
}

// Entries returns a snapshot of every entry currently retained.
func (a *Auditor) Entries() []schema.PrivacyAuditEntry {
	return a.ring.Snapshot()
}
