// ABOUTME: Vulnerability scan gateway around the Trivy binary.
// ABOUTME: Caches summaries by image digest and collapses duplicate concurrent scans.

package scanner

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/docksentry/docksentry/internal/metrics"
	"github.com/docksentry/docksentry/internal/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Scanner produces a vulnerability summary for an image, or nil when scanning
// is unavailable. Scanning is best-effort enrichment: implementations never
// return a hard failure to callers.
type Scanner interface {
	Scan(ctx context.Context, imageRef, imageDigest string) *types.VulnerabilitySummary
}

// sampleCap bounds the individual vulnerability records kept per summary.
const sampleCap = 5

// trivyOutput mirrors the JSON emitted by `trivy image --format json`.
type trivyOutput struct {
	Results []trivyResult `json:"Results"`
}

type trivyResult struct {
	Target          string               `json:"Target"`
	Vulnerabilities []trivyVulnerability `json:"Vulnerabilities"`
}

type trivyVulnerability struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	InstalledVersion string `json:"InstalledVersion"`
	Severity         string `json:"Severity"`
}

// runner abstracts command execution so tests can run without the binary.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// TrivyScanner invokes the external Trivy binary with a bounded timeout and
// caches successful summaries for the lifetime of the process.
type TrivyScanner struct {
	binary  string
	timeout time.Duration
	logger  *logrus.Logger
	metrics *metrics.Metrics
	run     runner

	mutex sync.RWMutex
	cache map[string]*types.VulnerabilitySummary
	group singleflight.Group
}

// NewTrivyScanner creates a scanner with the given scan timeout. A zero
// timeout falls back to 90 seconds. The metrics handle may be nil.
func NewTrivyScanner(timeout time.Duration, logger *logrus.Logger, m *metrics.Metrics) *TrivyScanner {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &TrivyScanner{
		binary:  "trivy",
		timeout: timeout,
		logger:  logger,
		metrics: m,
		run:     execRunner,
		cache:   make(map[string]*types.VulnerabilitySummary),
	}
}

// Scan returns the cached summary for the image, or invokes Trivy on a miss.
// The cache key is the digest when available so re-tags of an already-scanned
// digest hit the cache. All failure modes degrade to nil.
func (s *TrivyScanner) Scan(ctx context.Context, imageRef, imageDigest string) *types.VulnerabilitySummary {
	if imageRef == "" {
		return nil
	}

	key := imageDigest
	if key == "" {
		key = imageRef
	}

	s.mutex.RLock()
	cached, ok := s.cache[key]
	s.mutex.RUnlock()
	if ok {
		s.observe(metrics.ScanCacheHit)
		s.logger.WithField("image", imageRef).Debug("Scan cache hit")
		return cached
	}

	// Concurrent scans of the same key collapse into one invocation; scans
	// of different keys proceed independently.
	result, _, _ := s.group.Do(key, func() (any, error) {
		return s.scanImage(ctx, imageRef, key), nil
	})
	summary, _ := result.(*types.VulnerabilitySummary)
	return summary
}

func (s *TrivyScanner) scanImage(ctx context.Context, imageRef, key string) *types.VulnerabilitySummary {
	logger := s.logger.WithField("image", imageRef)

	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	out, err := s.run(scanCtx, s.binary, "image", "--quiet", "--format", "json", imageRef)
	if err != nil {
		s.observe(metrics.ScanFailed)
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			logger.Warn("Trivy binary not found in PATH, skipping scan")
		} else {
			logger.WithError(err).Warn("Trivy scan failed")
		}
		return nil
	}

	summary, err := parseTrivyOutput(out)
	if err != nil {
		s.observe(metrics.ScanFailed)
		logger.WithError(err).Warn("Trivy output not parseable")
		return nil
	}

	s.mutex.Lock()
	s.cache[key] = summary
	s.mutex.Unlock()

	s.observe(metrics.ScanOK)
	logger.WithFields(logrus.Fields{
		"duration":         time.Since(started),
		"count":            summary.Count,
		"high_or_critical": summary.HighOrCritical,
	}).Info("Image scan completed")

	return summary
}

func (s *TrivyScanner) observe(result string) {
	if s.metrics != nil {
		s.metrics.Scans.WithLabelValues(result).Inc()
	}
}

// parseTrivyOutput summarizes the Trivy JSON report: total count, count of
// high-or-critical findings, and a capped sample of individual records.
func parseTrivyOutput(out []byte) (*types.VulnerabilitySummary, error) {
	var report trivyOutput
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, err
	}

	summary := &types.VulnerabilitySummary{Sample: []types.VulnerabilityRecord{}}
	for _, result := range report.Results {
		for _, vuln := range result.Vulnerabilities {
			summary.Count++
			if vuln.Severity == "HIGH" || vuln.Severity == "CRITICAL" {
				summary.HighOrCritical++
			}
			if len(summary.Sample) < sampleCap {
				summary.Sample = append(summary.Sample, types.VulnerabilityRecord{
					ID:       vuln.VulnerabilityID,
					Package:  vuln.PkgName,
					Version:  vuln.InstalledVersion,
					Severity: vuln.Severity,
				})
			}
		}
	}
	return summary, nil
}

// CacheSize returns the number of cached summaries.
func (s *TrivyScanner) CacheSize() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.cache)
}
