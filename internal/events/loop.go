// ABOUTME: Runtime event ingestion loop: subscribes, dispatches, persists.
// ABOUTME: Bounded worker pool per event; stream errors reconnect, never terminate.

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docksentry/docksentry/internal/config"
	"github.com/docksentry/docksentry/internal/metrics"
	"github.com/docksentry/docksentry/internal/policy"
	"github.com/docksentry/docksentry/internal/risk"
	"github.com/docksentry/docksentry/internal/runtime"
	"github.com/docksentry/docksentry/internal/scanner"
	"github.com/docksentry/docksentry/internal/store"
	"github.com/docksentry/docksentry/internal/types"

	"github.com/sirupsen/logrus"
)

// maxConcurrentEvents bounds per-event workers so event bursts cannot
// exhaust resources.
const maxConcurrentEvents = 10

// reconnectDelay is the pause before reopening a disconnected event stream.
const reconnectDelay = 2 * time.Second

// Deps are the collaborators of the ingestion loop, constructed once by the
// composition root and passed by handle.
type Deps struct {
	Runtime   runtime.Client
	Scanner   scanner.Scanner
	Alerts    *store.AlertStore
	Approvals *store.ApprovalStore
	Recent    *RecentEvents
	Config    *config.Config
	// Metrics may be nil.
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
	DryRun  bool
}

// Loop consumes the runtime event stream and dispatches each relevant event
// through inspection, policy, risk assessment, and persistence.
type Loop struct {
	deps Deps

	semaphore      chan struct{}
	wg             sync.WaitGroup
	reconnectDelay time.Duration
}

// NewLoop creates the ingestion loop.
func NewLoop(deps Deps) *Loop {
	return &Loop{
		deps:           deps,
		semaphore:      make(chan struct{}, maxConcurrentEvents),
		reconnectDelay: reconnectDelay,
	}
}

// Run drives the event stream until the context is cancelled. Stream
// disconnections and malformed events are logged and survived; on shutdown
// the loop stops pulling events and waits for in-flight work to finish.
func (l *Loop) Run(ctx context.Context) {
	logger := l.deps.Logger.WithField("component", "event_loop")
	logger.Info("Starting runtime event loop")

	for {
		// Per-connection context: the stream adapter only exits via
		// cancellation after a disconnect, so every resubscribe must
		// cancel the previous subscription first.
		streamCtx, cancelStream := context.WithCancel(ctx)
		stream, errs := l.deps.Runtime.Events(streamCtx)

	consume:
		for {
			select {
			case <-ctx.Done():
				cancelStream()
				logger.Info("Event loop stopping, draining in-flight work")
				l.wg.Wait()
				return
			case ev, ok := <-stream:
				if !ok {
					break consume
				}
				l.dispatch(ctx, ev)
			case err, ok := <-errs:
				if !ok {
					break consume
				}
				if err != nil {
					logger.WithError(err).Warn("Runtime event stream error")
				}
				break consume
			}
		}
		cancelStream()

		if ctx.Err() != nil {
			l.wg.Wait()
			return
		}
		logger.WithField("delay", l.reconnectDelay).Warn("Event stream disconnected, reconnecting")
		time.Sleep(l.reconnectDelay)
	}
}

// relevant reports whether the event participates in processing.
func relevant(ev runtime.Event) bool {
	switch ev.Type {
	case runtime.TypeContainer:
		return ev.Action == runtime.ActionCreate || ev.Action == runtime.ActionStart || ev.Action == runtime.ActionRestart
	case runtime.TypeImage:
		return ev.Action == runtime.ActionPull
	}
	return false
}

// dispatch hands the event to a bounded worker so the stream consumer is
// never blocked on processing.
func (l *Loop) dispatch(ctx context.Context, ev runtime.Event) {
	if !relevant(ev) {
		return
	}

	l.semaphore <- struct{}{}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.semaphore }()
		l.process(ctx, ev)
	}()
}

func (l *Loop) process(ctx context.Context, ev runtime.Event) {
	if l.deps.Metrics != nil {
		l.deps.Metrics.EventsProcessed.WithLabelValues(ev.Action).Inc()
	}

	switch {
	case ev.Type == runtime.TypeImage:
		l.deps.Recent.Add("Image Pulled", fmt.Sprintf("Image '%s' pulled", ev.Image), "", "")
	case ev.Action == runtime.ActionCreate:
		l.processCreate(ctx, ev)
	default:
		l.processLifecycle(ev)
	}
}

// processLifecycle records start/restart as lightweight operational events
// with no blocking decision.
func (l *Loop) processLifecycle(ev runtime.Event) {
	l.deps.Recent.Add(
		"Container "+ev.Action,
		fmt.Sprintf("Container %s %s", shortID(ev.ID), ev.Action),
		fmt.Sprintf("Image: %s", ev.Image),
		shortID(ev.ID),
	)
}

func (l *Loop) processCreate(ctx context.Context, ev runtime.Event) {
	logger := l.deps.Logger.WithFields(logrus.Fields{
		"component": "event_loop",
		"container": shortID(ev.ID),
		"image":     ev.Image,
	})

	snapshot, err := l.deps.Runtime.Inspect(ctx, ev.ID)
	if err != nil {
		logger.WithError(err).Warn("Container inspect failed")
		l.deps.Recent.Add("Inspect Failed",
			fmt.Sprintf("Could not inspect container %s", shortID(ev.ID)), err.Error(), shortID(ev.ID))
		return
	}

	approval := l.approvalFor(snapshot)
	approved := approval != nil && approval.Approved

	var summary *types.VulnerabilitySummary
	scanned := false

	if l.deps.Config.Gate.Mode == config.ModeEnforce && !approved {
		if l.deps.Config.Trivy.Enabled {
			summary = l.deps.Scanner.Scan(ctx, snapshot.Image, snapshot.ImageDigest)
			scanned = true
		}
		decision := policy.Decide(summary, approval, l.deps.Config)
		if decision.Block {
			l.block(ctx, snapshot, summary, decision)
			return
		}
		logger.WithField("reason", decision.Reason).Debug("Gate allowed container")
	}

	assessment := risk.Analyze(snapshot)
	if !scanned && l.deps.Config.Trivy.Enabled {
		summary = l.deps.Scanner.Scan(ctx, snapshot.Image, snapshot.ImageDigest)
	}

	record := &types.AlertRecord{
		Source:      "daemon",
		Action:      runtime.ActionCreate,
		Severity:    risk.HighestSeverity(assessment.Findings),
		Summary:     fmt.Sprintf("Container %s created with image %s", shortID(snapshot.ID), snapshot.Image),
		ContainerID: snapshot.ID,
		Image:       snapshot.Image,
		Metadata:    snapshot,
		Risks:       assessment.Findings,
		Trivy:       summary,
	}
	if err := l.deps.Alerts.Append(record); err != nil {
		logger.WithError(err).Error("Failed to persist alert record")
	}

	l.deps.Recent.Add("Container Created",
		fmt.Sprintf("Container %s created", shortID(snapshot.ID)),
		fmt.Sprintf("Image: %s, risks: %d", snapshot.Image, len(assessment.Findings)),
		shortID(snapshot.ID))

	if len(assessment.Findings) > 0 {
		logger.WithField("risks", len(assessment.Findings)).Info("Risks found for container")
	}
}

// block performs the remediation for a gate-blocked container and persists
// the blocked alert. Risk assessment is skipped for blocked containers.
func (l *Loop) block(ctx context.Context, snapshot *types.ContainerSnapshot, summary *types.VulnerabilitySummary, decision policy.Decision) {
	logger := l.deps.Logger.WithFields(logrus.Fields{
		"component": "event_loop",
		"container": shortID(snapshot.ID),
		"image":     snapshot.Image,
		"reason":    decision.Reason,
	})
	logger.Warn("Gate blocked container")
	if l.deps.Metrics != nil {
		l.deps.Metrics.Blocks.Inc()
	}

	record := &types.AlertRecord{
		Source:      "daemon",
		Action:      "blocked",
		Severity:    types.SeverityCritical,
		Summary:     fmt.Sprintf("Blocked container %s (image %s): %s", shortID(snapshot.ID), snapshot.Image, decision.Reason),
		ContainerID: snapshot.ID,
		Image:       snapshot.Image,
		Gate:        &types.GateResult{Blocked: true, Reason: decision.Reason},
		Trivy:       summary,
	}

	switch {
	case l.deps.DryRun:
		record.ActionTaken = "would-remove (DRY_RUN)"
	case l.deps.Config.Gate.AutoRemoveBlockedContainer:
		if err := l.deps.Runtime.Remove(ctx, snapshot.ID); err != nil {
			record.ActionTakenError = err.Error()
			l.observe("remove", "error")
			logger.WithError(err).Error("Failed to remove blocked container")
		} else {
			record.ActionTaken = "removed"
			l.observe("remove", "ok")
		}
	}

	if err := l.deps.Alerts.Append(record); err != nil {
		logger.WithError(err).Error("Failed to persist blocked alert")
	}
	l.deps.Recent.Add("Container Blocked",
		fmt.Sprintf("Container %s blocked", shortID(snapshot.ID)),
		decision.Reason, shortID(snapshot.ID))
}

// approvalFor resolves the live approval entry, preferring the digest key
// and falling back to the image reference.
func (l *Loop) approvalFor(snapshot *types.ContainerSnapshot) *types.ApprovalEntry {
	if snapshot.ImageDigest != "" {
		if entry := l.deps.Approvals.Get(snapshot.ImageDigest); entry != nil {
			return entry
		}
	}
	return l.deps.Approvals.Get(snapshot.Image)
}

func (l *Loop) observe(action, outcome string) {
	if l.deps.Metrics != nil {
		l.deps.Metrics.Remediations.WithLabelValues(action, outcome).Inc()
	}
}

// Wait blocks until all in-flight event workers have finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
