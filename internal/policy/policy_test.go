// ABOUTME: Unit tests for the block/allow policy engine.
// ABOUTME: Covers threshold boundaries, approval overrides, and fail-open/fail-closed.

package policy

import (
	"testing"

	"github.com/docksentry/docksentry/internal/config"
	"github.com/docksentry/docksentry/internal/types"
)

func enforceConfig(threshold int) *config.Config {
	cfg := config.Default()
	cfg.Gate.Mode = config.ModeEnforce
	cfg.Trivy.Enabled = true
	cfg.Trivy.BlockIfHighOrCritical = threshold
	return cfg
}

func TestDecideThresholdBoundary(t *testing.T) {
	cfg := enforceConfig(3)

	t.Run("below threshold never blocks", func(t *testing.T) {
		d := Decide(&types.VulnerabilitySummary{HighOrCritical: 2}, nil, cfg)
		if d.Block {
			t.Errorf("high_or_critical=2 with threshold 3 must not block: %+v", d)
		}
	})

	t.Run("at threshold always blocks", func(t *testing.T) {
		d := Decide(&types.VulnerabilitySummary{HighOrCritical: 3}, nil, cfg)
		if !d.Block {
			t.Errorf("high_or_critical=3 with threshold 3 must block: %+v", d)
		}
	})

	t.Run("above threshold blocks", func(t *testing.T) {
		d := Decide(&types.VulnerabilitySummary{HighOrCritical: 5}, nil, cfg)
		if !d.Block {
			t.Errorf("high_or_critical=5 with threshold 3 must block: %+v", d)
		}
	})
}

func TestDecideApprovalOverride(t *testing.T) {
	cfg := enforceConfig(3)
	approved := &types.ApprovalEntry{ImageKey: "nginx:latest", Approved: true}
	denied := &types.ApprovalEntry{ImageKey: "nginx:latest", Approved: false}

	t.Run("approved image never blocks regardless of scan", func(t *testing.T) {
		d := Decide(&types.VulnerabilitySummary{HighOrCritical: 50}, approved, cfg)
		if d.Block {
			t.Errorf("Approved image must never block: %+v", d)
		}
	})

	t.Run("denied entry does not override the threshold", func(t *testing.T) {
		d := Decide(&types.VulnerabilitySummary{HighOrCritical: 5}, denied, cfg)
		if !d.Block {
			t.Errorf("approved=false entry must not suppress blocking: %+v", d)
		}
	})
}

func TestDecideScanUnavailable(t *testing.T) {
	t.Run("fail-open default never blocks on nil summary", func(t *testing.T) {
		d := Decide(nil, nil, enforceConfig(1))
		if d.Block {
			t.Errorf("nil summary must fail open: %+v", d)
		}
	})

	t.Run("fail-closed blocks unapproved images on nil summary", func(t *testing.T) {
		cfg := enforceConfig(1)
		cfg.Gate.FailClosed = true
		d := Decide(nil, nil, cfg)
		if !d.Block {
			t.Errorf("nil summary must block under fail-closed: %+v", d)
		}
	})

	t.Run("fail-closed still honors approvals", func(t *testing.T) {
		cfg := enforceConfig(1)
		cfg.Gate.FailClosed = true
		approved := &types.ApprovalEntry{ImageKey: "nginx:latest", Approved: true}
		d := Decide(nil, approved, cfg)
		if d.Block {
			t.Errorf("Approved image must not block even under fail-closed: %+v", d)
		}
	})
}

func TestDecideScenario(t *testing.T) {
	// nginx:latest unapproved, scan reports 5 high/critical, threshold 3.
	cfg := enforceConfig(3)
	summary := &types.VulnerabilitySummary{Count: 12, HighOrCritical: 5}

	d := Decide(summary, nil, cfg)
	if !d.Block {
		t.Fatalf("Expected block=true, got %+v", d)
	}

	// Same image explicitly approved afterwards.
	approval := &types.ApprovalEntry{ImageKey: "nginx:latest", Approved: true}
	d = Decide(summary, approval, cfg)
	if d.Block {
		t.Fatalf("Expected block=false after approval, got %+v", d)
	}
}
