// ABOUTME: Common types shared across the docksentry daemon.
// ABOUTME: Defines data structures for snapshots, risks, scan summaries, and alert records.

package types

import "encoding/json"

// Severity levels used by risk findings and alert records.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Alert status lifecycle values. A record without a status is treated as open.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// ContainerSnapshot is a point-in-time inspection of a container. Immutable
// once captured; produced by the runtime collaborator.
type ContainerSnapshot struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Image        string   `json:"image"`
	ImageDigest  string   `json:"image_digest,omitempty"`
	Created      string   `json:"created,omitempty"`
	Mounts       []string `json:"volumesMounted"`
	CapAdd       []string `json:"capabilitiesAdded"`
	CapDrop      []string `json:"capabilitiesDropped,omitempty"`
	Privileged   bool     `json:"privileged"`
	User         string   `json:"user"`
	SecurityOpts []string `json:"securityOptions,omitempty"`
	Networks     []string `json:"networks,omitempty"`
	EnvNames     []string `json:"environmentVariables,omitempty"`
}

// RiskFinding is one detected configuration risk.
type RiskFinding struct {
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// RiskAssessment is the ordered list of findings for one inspected container.
type RiskAssessment struct {
	Container *ContainerSnapshot `json:"metadata"`
	Findings  []RiskFinding      `json:"risks"`
}

// VulnerabilityRecord is a single entry in a scan summary sample.
type VulnerabilityRecord struct {
	ID       string `json:"id"`
	Package  string `json:"pkg"`
	Version  string `json:"ver"`
	Severity string `json:"sev"`
}

// VulnerabilitySummary is the result of scanning one image. Cached by image
// digest (preferred) or reference for the lifetime of the process.
type VulnerabilitySummary struct {
	Count          int                   `json:"count"`
	HighOrCritical int                   `json:"high_or_critical"`
	Sample         []VulnerabilityRecord `json:"sample"`
}

// ApprovalEntry is a manual trust override for an image key (digest or
// reference). At most one live entry per key; last write wins.
type ApprovalEntry struct {
	ImageKey  string `json:"image_key"`
	Approved  bool   `json:"approved"`
	Timestamp string `json:"ts"`
}

// GateResult records the blocking decision embedded in a blocked alert.
type GateResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// FalcoContainer is the fallback container object of a Falco payload.
type FalcoContainer struct {
	ID string `json:"id"`
}

// FalcoContext is the fallback context object of a Falco payload.
type FalcoContext struct {
	ContainerID string `json:"container_id"`
}

// FalcoPayload is the inbound intrusion-alert shape accepted by the ingest
// endpoint, matching the Falco webhook format.
type FalcoPayload struct {
	Rule         string          `json:"rule"`
	Output       string          `json:"output"`
	Priority     string          `json:"priority"`
	OutputFields map[string]any  `json:"output_fields"`
	Container    *FalcoContainer `json:"container,omitempty"`
	Context      *FalcoContext   `json:"context,omitempty"`
}

// ContainerID extracts the container identifier from the payload, trying the
// structured fields first and the container/context objects as fallbacks.
func (p *FalcoPayload) ContainerID() string {
	if p.OutputFields != nil {
		if v, ok := p.OutputFields["container.id"].(string); ok && v != "" {
			return v
		}
		if v, ok := p.OutputFields["containerId"].(string); ok && v != "" {
			return v
		}
	}
	if p.Container != nil && p.Container.ID != "" {
		return p.Container.ID
	}
	if p.Context != nil {
		return p.Context.ContainerID
	}
	return ""
}

func (p *FalcoPayload) stringField(key string) string {
	if p.OutputFields == nil {
		return ""
	}
	v, _ := p.OutputFields[key].(string)
	return v
}

// ProcessName returns the proc.name output field, if present.
func (p *FalcoPayload) ProcessName() string { return p.stringField("proc.name") }

// UserName returns the user.name output field, if present.
func (p *FalcoPayload) UserName() string { return p.stringField("user.name") }

// AlertContainer is the enrichment sub-object embedded in falco-sourced
// alert records.
type AlertContainer struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Image      string   `json:"image,omitempty"`
	User       string   `json:"user,omitempty"`
	Privileged bool     `json:"privileged"`
	CapAdd     []string `json:"cap_add,omitempty"`
	Mounts     []string `json:"mounts,omitempty"`
}

// AlertRecord is the unit of persistence in the alert log. Records are
// line-delimited JSON; readers tolerate unknown fields and skip lines that
// fail to parse.
type AlertRecord struct {
	ID        string `json:"id,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Status    string `json:"status,omitempty"`

	// Daemon-origin fields.
	Action      string             `json:"action,omitempty"`
	ContainerID string             `json:"container_id,omitempty"`
	Image       string             `json:"image,omitempty"`
	Metadata    *ContainerSnapshot `json:"metadata,omitempty"`
	Risks       []RiskFinding      `json:"risks,omitempty"`
	Gate        *GateResult        `json:"gate,omitempty"`

	// Falco-origin fields.
	Rule          string          `json:"rule,omitempty"`
	Container     *AlertContainer `json:"container,omitempty"`
	DetectedRisks []string        `json:"detected_risks,omitempty"`
	Process       string          `json:"process,omitempty"`
	User          string          `json:"user,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`

	Trivy            *VulnerabilitySummary `json:"trivy,omitempty"`
	ActionTaken      string                `json:"action_taken,omitempty"`
	ActionTakenError string                `json:"action_taken_error,omitempty"`
}

// AuditEntry is the immutable record of a status-changing action. It has no
// "id" field on purpose: compaction passes id-less lines through unchanged.
type AuditEntry struct {
	AlertID    string `json:"alert_id"`
	OriginalID string `json:"original_id"`
	Action     string `json:"action"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"`
}
