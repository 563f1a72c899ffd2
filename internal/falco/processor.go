// ABOUTME: External intrusion-alert processor for Falco webhook payloads.
// ABOUTME: Enriches, optionally remediates, and persists; persistence never waits on remediation.

package falco

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docksentry/docksentry/internal/config"
	"github.com/docksentry/docksentry/internal/metrics"
	"github.com/docksentry/docksentry/internal/risk"
	"github.com/docksentry/docksentry/internal/runtime"
	"github.com/docksentry/docksentry/internal/scanner"
	"github.com/docksentry/docksentry/internal/store"
	"github.com/docksentry/docksentry/internal/types"

	"github.com/sirupsen/logrus"
)

// maxConcurrentAlerts bounds ingest workers independently of the runtime
// event pool so a flood of posts cannot starve event processing.
const maxConcurrentAlerts = 10

// shellProcesses are processes narrow enough to kill in place of stopping
// the whole container.
var shellProcesses = map[string]bool{
	"sh":   true,
	"bash": true,
	"dash": true,
	"ash":  true,
	"zsh":  true,
}

// Processor normalizes third-party intrusion alerts into alert records.
type Processor struct {
	runtime runtime.Client
	scanner scanner.Scanner
	alerts  *store.AlertStore
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *logrus.Logger
	dryRun  bool

	semaphore chan struct{}
	wg        sync.WaitGroup
}

// NewProcessor creates the external alert processor.
func NewProcessor(rt runtime.Client, sc scanner.Scanner, alerts *store.AlertStore, cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger, dryRun bool) *Processor {
	return &Processor{
		runtime:   rt,
		scanner:   sc,
		alerts:    alerts,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		dryRun:    dryRun,
		semaphore: make(chan struct{}, maxConcurrentAlerts),
	}
}

// Dispatch processes the payload on a bounded background worker so the
// ingest endpoint can acknowledge immediately.
func (p *Processor) Dispatch(ctx context.Context, payload *types.FalcoPayload) {
	if p.metrics != nil {
		p.metrics.IngestRequests.Inc()
	}
	p.semaphore <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.semaphore }()
		p.Process(ctx, payload)
	}()
}

// Process enriches the alert with a fresh container snapshot and a scan
// summary, attempts remediation for configured rules, and persists the
// record. Remediation failure is recorded, never fatal.
func (p *Processor) Process(ctx context.Context, payload *types.FalcoPayload) {
	priority := strings.ToLower(payload.Priority)
	if priority == "" {
		priority = "warning"
	}
	containerID := payload.ContainerID()

	logger := p.logger.WithFields(logrus.Fields{
		"component": "falco",
		"rule":      payload.Rule,
		"container": containerID,
	})
	logger.Info("Processing external alert")

	var (
		snapshot *types.ContainerSnapshot
		summary  *types.VulnerabilitySummary
	)
	if containerID != "" {
		var err error
		snapshot, err = p.runtime.Inspect(ctx, containerID)
		if err != nil {
			logger.WithError(err).Warn("Container inspect failed during enrichment")
		}
	}
	if snapshot != nil && snapshot.Image != "" && p.cfg.Trivy.Enabled {
		summary = p.scanner.Scan(ctx, snapshot.Image, snapshot.ImageDigest)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}

	record := &types.AlertRecord{
		Source:        "falco",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Rule:          payload.Rule,
		Summary:       payload.Output,
		Severity:      priority,
		Container:     containerFrom(containerID, snapshot),
		DetectedRisks: risk.Tags(snapshot),
		Process:       payload.ProcessName(),
		User:          payload.UserName(),
		Trivy:         summary,
		Raw:           raw,
	}

	if p.cfg.AutoStopRule(payload.Rule) && containerID != "" {
		p.remediate(ctx, record, containerID, payload.ProcessName(), logger)
	}

	if err := p.alerts.Append(record); err != nil {
		logger.WithError(err).Error("Failed to persist external alert")
		return
	}
	logger.Info("Persisted external alert")
}

// remediate acts as narrowly as possible: kill the offending process when it
// is a shell, otherwise stop the container.
func (p *Processor) remediate(ctx context.Context, record *types.AlertRecord, containerID, process string, logger *logrus.Entry) {
	if p.dryRun {
		if shellProcesses[process] {
			record.ActionTaken = fmt.Sprintf("would-kill process %s (DRY_RUN)", process)
		} else {
			record.ActionTaken = "would-auto-stop (DRY_RUN)"
		}
		p.observe("dry_run", "ok")
		return
	}

	if shellProcesses[process] {
		if err := p.runtime.KillProcess(ctx, containerID, process); err != nil {
			record.ActionTakenError = err.Error()
			p.observe("kill", "error")
			logger.WithError(err).Warn("Failed to kill process in container")
			return
		}
		record.ActionTaken = fmt.Sprintf("killed process %s", process)
		p.observe("kill", "ok")
		return
	}

	if err := p.runtime.Stop(ctx, containerID, p.cfg.Falco.StopGraceSeconds); err != nil {
		record.ActionTakenError = err.Error()
		p.observe("stop", "error")
		logger.WithError(err).Warn("Failed to stop container")
		return
	}
	record.ActionTaken = "auto-stopped"
	p.observe("stop", "ok")
}

func (p *Processor) observe(action, outcome string) {
	if p.metrics != nil {
		p.metrics.Remediations.WithLabelValues(action, outcome).Inc()
	}
}

// Wait blocks until all dispatched alerts have been processed.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func containerFrom(containerID string, snapshot *types.ContainerSnapshot) *types.AlertContainer {
	container := &types.AlertContainer{ID: containerID}
	if snapshot != nil {
		container.Name = snapshot.Name
		container.Image = snapshot.Image
		container.User = snapshot.User
		container.Privileged = snapshot.Privileged
		container.CapAdd = snapshot.CapAdd
		container.Mounts = snapshot.Mounts
	}
	return container
}
