// ABOUTME: Block/allow policy engine for container create events.
// ABOUTME: Combines scan summaries, approval overrides, and configured thresholds.

package policy

import (
	"fmt"

	"github.com/docksentry/docksentry/internal/config"
	"github.com/docksentry/docksentry/internal/types"
)

// Decision is the outcome of evaluating one image against the gate policy.
type Decision struct {
	Block  bool
	Reason string
}

// Decide evaluates the gate policy for an image.
//
// An approved entry never blocks, regardless of scan results. Without an
// approval, the image blocks when the scan's high-or-critical count reaches
// the configured threshold. A nil summary never blocks under the default
// fail-open posture; with gate.fail_closed set, a nil summary blocks
// unapproved images instead.
func Decide(summary *types.VulnerabilitySummary, approval *types.ApprovalEntry, cfg *config.Config) Decision {
	if approval != nil && approval.Approved {
		return Decision{Reason: "image approved by operator"}
	}

	if summary == nil {
		if cfg.Gate.FailClosed {
			return Decision{Block: true, Reason: "scan unavailable and gate is fail-closed"}
		}
		return Decision{Reason: "scan unavailable, failing open"}
	}

	threshold := cfg.Trivy.BlockIfHighOrCritical
	if summary.HighOrCritical >= threshold {
		return Decision{
			Block: true,
			Reason: fmt.Sprintf("%d high/critical vulnerabilities at or above threshold %d",
				summary.HighOrCritical, threshold),
		}
	}

	return Decision{Reason: fmt.Sprintf("%d high/critical vulnerabilities below threshold %d",
		summary.HighOrCritical, threshold)}
}
