// ABOUTME: Static risk-rule evaluator for container configurations.
// ABOUTME: Pure mapping from an inspected snapshot to an ordered list of findings.

package risk

import (
	"fmt"
	"strings"

	"github.com/docksentry/docksentry/internal/types"
)

// dangerousCaps are added capabilities that allow host or kernel manipulation.
var dangerousCaps = map[string]bool{
	"SYS_ADMIN":  true,
	"SYS_PTRACE": true,
	"NET_ADMIN":  true,
}

// controlSocket is the runtime control socket; mounting it grants full host
// control.
const controlSocket = "docker.sock"

// sensitivePathHints are host path prefixes whose exposure inside a container
// is risky. Checked per mount, first match wins.
var sensitivePathHints = []string{
	"/etc",
	"/boot",
	"/dev",
	"/lib",
	"/proc",
	"/sys",
	"/usr",
}

// Analyze maps a container snapshot to a risk assessment. It is pure and
// deterministic: no I/O, no failure mode. Missing or malformed fields degrade
// to "no finding". All applicable rules fire; they are not mutually exclusive.
func Analyze(snapshot *types.ContainerSnapshot) types.RiskAssessment {
	assessment := types.RiskAssessment{Container: snapshot}
	if snapshot == nil {
		return assessment
	}

	if snapshot.Privileged {
		assessment.Findings = append(assessment.Findings, types.RiskFinding{
			Rule:        "Privileged mode enabled",
			Severity:    types.SeverityHigh,
			Description: "Container runs with the --privileged flag.",
		})
	}

	for _, cap := range snapshot.CapAdd {
		if dangerousCaps[cap] {
			assessment.Findings = append(assessment.Findings, types.RiskFinding{
				Rule:        fmt.Sprintf("Dangerous capability %s", cap),
				Severity:    types.SeverityHigh,
				Description: fmt.Sprintf("Capability %s may allow host or kernel manipulation.", cap),
			})
		}
	}

	for _, mount := range snapshot.Mounts {
		if strings.Contains(mount, controlSocket) {
			assessment.Findings = append(assessment.Findings, types.RiskFinding{
				Rule:        "Docker socket mount",
				Severity:    types.SeverityCritical,
				Description: "Mounting docker.sock exposes full host control.",
			})
		}
		for _, hint := range sensitivePathHints {
			if strings.HasPrefix(mount, hint) || strings.Contains(mount, ":"+hint) {
				assessment.Findings = append(assessment.Findings, types.RiskFinding{
					Rule:        fmt.Sprintf("Sensitive host path mount (%s)", hint),
					Severity:    types.SeverityMedium,
					Description: fmt.Sprintf("Container mounts sensitive host path %s.", hint),
				})
				break
			}
		}
	}

	if runsAsRoot(snapshot.User) {
		assessment.Findings = append(assessment.Findings, types.RiskFinding{
			Rule:        "Runs as root",
			Severity:    types.SeverityMedium,
			Description: "No non-root user configured in container.",
		})
	}

	for _, opt := range snapshot.SecurityOpts {
		if strings.Contains(opt, "seccomp=unconfined") {
			assessment.Findings = append(assessment.Findings, types.RiskFinding{
				Rule:        "Unconfined seccomp profile",
				Severity:    types.SeverityMedium,
				Description: "Container running with unconfined seccomp profile.",
			})
			break
		}
	}

	return assessment
}

func runsAsRoot(user string) bool {
	user = strings.TrimSpace(user)
	return user == "" || user == "0" || strings.EqualFold(user, "root")
}

// HighestSeverity returns the most severe level among findings, or low when
// the list is empty.
func HighestSeverity(findings []types.RiskFinding) string {
	rank := map[string]int{
		types.SeverityCritical: 4,
		types.SeverityHigh:     3,
		types.SeverityMedium:   2,
		types.SeverityLow:      1,
	}
	highest := types.SeverityLow
	for _, f := range findings {
		if rank[f.Severity] > rank[highest] {
			highest = f.Severity
		}
	}
	return highest
}

// Tags returns the short detected-risk tags used to annotate falco-sourced
// alerts, deduplicated in first-seen order.
func Tags(snapshot *types.ContainerSnapshot) []string {
	if snapshot == nil {
		return nil
	}

	var tags []string
	seen := map[string]bool{}
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	if snapshot.Privileged {
		add("privileged")
	}
	for _, mount := range snapshot.Mounts {
		if strings.Contains(mount, controlSocket) {
			add("docker_sock_mount")
		}
		for _, hint := range sensitivePathHints {
			if strings.HasPrefix(mount, hint) || strings.Contains(mount, ":"+hint) {
				add("sensitive_host_mount")
				break
			}
		}
	}
	if runsAsRoot(snapshot.User) {
		add("runs_as_root")
	}
	for _, cap := range snapshot.CapAdd {
		if dangerousCaps[cap] {
			add("cap_" + cap)
		}
	}
	return tags
}
