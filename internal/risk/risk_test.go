// ABOUTME: Unit tests for the static risk-rule evaluator.
// ABOUTME: Covers rule completeness, first-match mounts, and degradation on empty input.

package risk

import (
	"testing"

	"github.com/docksentry/docksentry/internal/types"
)

func findingBySeverity(findings []types.RiskFinding, severity string) int {
	count := 0
	for _, f := range findings {
		if f.Severity == severity {
			count++
		}
	}
	return count
}

func TestAnalyzeRuleCompleteness(t *testing.T) {
	snapshot := &types.ContainerSnapshot{
		ID:         "abc123",
		Image:      "nginx:latest",
		Privileged: true,
		User:       "root",
		CapAdd:     []string{"SYS_ADMIN"},
		Mounts:     []string{"/var/run/docker.sock:/var/run/docker.sock"},
	}

	assessment := Analyze(snapshot)

	if len(assessment.Findings) < 4 {
		t.Fatalf("Expected at least 4 findings, got %d: %+v", len(assessment.Findings), assessment.Findings)
	}
	if got := findingBySeverity(assessment.Findings, types.SeverityHigh); got != 2 {
		t.Errorf("Expected 2 high findings (privileged, SYS_ADMIN), got %d", got)
	}
	if got := findingBySeverity(assessment.Findings, types.SeverityCritical); got != 1 {
		t.Errorf("Expected 1 critical finding (docker.sock), got %d", got)
	}
	if got := findingBySeverity(assessment.Findings, types.SeverityMedium); got < 1 {
		t.Errorf("Expected a medium finding for root user, got %d", got)
	}
	if assessment.Container != snapshot {
		t.Error("Assessment should carry the originating snapshot")
	}
}

func TestAnalyzeIndividualRules(t *testing.T) {
	t.Run("privileged", func(t *testing.T) {
		a := Analyze(&types.ContainerSnapshot{Privileged: true, User: "app"})
		if findingBySeverity(a.Findings, types.SeverityHigh) != 1 {
			t.Errorf("Expected one high finding, got %+v", a.Findings)
		}
	})

	t.Run("one high finding per dangerous capability", func(t *testing.T) {
		a := Analyze(&types.ContainerSnapshot{
			User:   "app",
			CapAdd: []string{"SYS_ADMIN", "NET_ADMIN", "CHOWN"},
		})
		if findingBySeverity(a.Findings, types.SeverityHigh) != 2 {
			t.Errorf("Expected two high findings for SYS_ADMIN and NET_ADMIN, got %+v", a.Findings)
		}
	})

	t.Run("sensitive mount fires once per mount", func(t *testing.T) {
		// /etc prefix on both host and container side must not double-fire.
		a := Analyze(&types.ContainerSnapshot{
			User:   "app",
			Mounts: []string{"/etc:/etc:ro"},
		})
		if findingBySeverity(a.Findings, types.SeverityMedium) != 1 {
			t.Errorf("Expected exactly one medium finding, got %+v", a.Findings)
		}
	})

	t.Run("runs as root variants", func(t *testing.T) {
		for _, user := range []string{"", "0", "root", "Root", " ROOT "} {
			a := Analyze(&types.ContainerSnapshot{User: user})
			if findingBySeverity(a.Findings, types.SeverityMedium) != 1 {
				t.Errorf("User %q: expected a runs-as-root finding, got %+v", user, a.Findings)
			}
		}
		a := Analyze(&types.ContainerSnapshot{User: "www-data"})
		if len(a.Findings) != 0 {
			t.Errorf("Non-root user should yield no findings, got %+v", a.Findings)
		}
	})

	t.Run("unconfined seccomp", func(t *testing.T) {
		a := Analyze(&types.ContainerSnapshot{
			User:         "app",
			SecurityOpts: []string{"seccomp=unconfined"},
		})
		if findingBySeverity(a.Findings, types.SeverityMedium) != 1 {
			t.Errorf("Expected one medium finding, got %+v", a.Findings)
		}
	})

	t.Run("nil snapshot degrades to no findings", func(t *testing.T) {
		a := Analyze(nil)
		if len(a.Findings) != 0 {
			t.Errorf("Expected no findings, got %+v", a.Findings)
		}
	})
}

func TestHighestSeverity(t *testing.T) {
	findings := []types.RiskFinding{
		{Severity: types.SeverityMedium},
		{Severity: types.SeverityCritical},
		{Severity: types.SeverityHigh},
	}
	if got := HighestSeverity(findings); got != types.SeverityCritical {
		t.Errorf("Expected critical, got %s", got)
	}
	if got := HighestSeverity(nil); got != types.SeverityLow {
		t.Errorf("Expected low for empty findings, got %s", got)
	}
}

func TestTags(t *testing.T) {
	snapshot := &types.ContainerSnapshot{
		Privileged: true,
		User:       "root",
		CapAdd:     []string{"SYS_PTRACE"},
		Mounts: []string{
			"/var/run/docker.sock:/var/run/docker.sock",
			"/etc:/host/etc",
		},
	}
	tags := Tags(snapshot)

	want := map[string]bool{
		"privileged":           false,
		"docker_sock_mount":    false,
		"sensitive_host_mount": false,
		"runs_as_root":         false,
		"cap_SYS_PTRACE":       false,
	}
	for _, tag := range tags {
		if _, ok := want[tag]; !ok {
			t.Errorf("Unexpected tag %q", tag)
		}
		want[tag] = true
	}
	for tag, seen := range want {
		if !seen {
			t.Errorf("Missing tag %q in %v", tag, tags)
		}
	}
}
