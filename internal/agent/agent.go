// Package agent contains the synchronization core: the poll loop that fetches
// active problems from the remote API, detects material change, conditionally
// summarizes, and publishes consistent snapshots for the consumer process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zabbar/zabbar/internal/config"
	"github.com/zabbar/zabbar/internal/credentials"
	agenterrors "github.com/zabbar/zabbar/internal/errors"
	"github.com/zabbar/zabbar/internal/metrics"
	"github.com/zabbar/zabbar/internal/models"
	"github.com/zabbar/zabbar/internal/store"
	"github.com/zabbar/zabbar/internal/summary"
	"github.com/zabbar/zabbar/internal/zabbix"
)

// RemoteAPI is the slice of the API client the agent depends on. The concrete
// implementation is zabbix.Client; tests supply doubles.
type RemoteAPI interface {
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context) error
	ActiveProblems(ctx context.Context) ([]models.Alert, error)
	Hosts(ctx context.Context) ([]zabbix.Host, error)
	Acknowledge(ctx context.Context, eventID, message string) error
	SetToken(token string)
	Token() string
}

// pendingSummary carries everything needed to complete a deferred
// summarization: the signature it belongs to, the prompt, and the epoch the
// request was made in. The snapshot to publish is looked up at completion so
// the text attaches to the freshest cycle's state.
type pendingSummary struct {
	sig     string
	prompt  string
	timeout time.Duration
	epoch   uint64
}

// Agent owns all session and snapshot state. Every mutation happens under its
// mutex; cycles never overlap (in-flight flag) and effects of a cycle that
// straddled a logout are discarded (epoch check).
type Agent struct {
	client    RemoteAPI
	creds     credentials.Store
	store     store.Store
	configFn  func() *config.Config
	scheduler *Scheduler

	mu           sync.Mutex
	provider     summary.Provider
	state        models.AgentState
	epoch        uint64
	inFlight     bool
	lastSig      string
	lastSummary  string
	lastSnapshot models.Snapshot
	summarizing  bool
	pending      *pendingSummary
	lastErr      error
	lastCycle    time.Time
}

// New creates an agent. configFn must return the current immutable Config;
// the agent calls it once per cycle.
func New(client RemoteAPI, creds credentials.Store, snapStore store.Store, provider summary.Provider, configFn func() *config.Config) *Agent {
	a := &Agent{
		client:   client,
		creds:    creds,
		store:    snapStore,
		provider: provider,
		configFn: configFn,
		state:    models.StateLoggedOut,
	}
	a.scheduler = NewScheduler(a.TriggerCycle)
	return a
}

// Scheduler exposes the agent's scheduler for pause/resume control.
func (a *Agent) Scheduler() *Scheduler {
	return a.scheduler
}

// State returns the current session state.
func (a *Agent) State() models.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Status returns the side-channel status record.
func (a *Agent) Status() models.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Agent) statusLocked() models.AgentStatus {
	status := models.AgentStatus{
		State:         a.state,
		CycleInFlight: a.inFlight,
		LastCycle:     a.lastCycle,
	}
	if a.lastErr != nil {
		status.LastError = a.lastErr.Error()
	}
	return status
}

// publishStatus persists the status record; failures are logged, never fatal.
func (a *Agent) publishStatus() {
	a.mu.Lock()
	status := a.statusLocked()
	a.mu.Unlock()
	if err := a.store.SaveStatus(status); err != nil {
		log.Warn().Err(err).Msg("Failed to persist agent status")
	}
}

// RestoreSession installs a previously stored token, if any. Returns true
// when a session was restored.
func (a *Agent) RestoreSession() bool {
	cfg := a.configFn()
	token, err := a.creds.Get(cfg.ServerIdentity)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to read stored credential")
		}
		return false
	}

	a.client.SetToken(token)
	a.mu.Lock()
	a.state = models.StateAuthenticated
	a.mu.Unlock()
	metrics.Authenticated.Set(1)
	log.Info().Str("server", cfg.ServerIdentity).Msg("Restored stored session")
	return true
}

// Start restores any stored session and, when one exists, starts the
// scheduler and triggers an immediate cycle. Call after the process's main
// loop is running.
func (a *Agent) Start() {
	if !a.RestoreSession() {
		log.Info().Msg("No stored session; waiting for login")
		a.publishStatus()
		return
	}
	cfg := a.configFn()
	a.scheduler.Start(cfg.PollInterval)
	a.TriggerCycle()
}

// Shutdown aborts the effects of any in-flight cycle and stops the scheduler.
// The stored session survives for the next start.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	a.epoch++
	a.mu.Unlock()
	a.scheduler.Stop()
	log.Info().Msg("Agent shut down")
}

// Login exchanges credentials for a session. On success the token is stored,
// the scheduler starts and one cycle runs immediately. On failure the agent
// stays logged out and the error is surfaced verbatim; there is no automatic
// retry.
func (a *Agent) Login(ctx context.Context, username, password string) error {
	cfg := a.configFn()

	a.mu.Lock()
	a.state = models.StateAuthenticating
	a.mu.Unlock()
	a.publishStatus()

	token, err := a.client.Login(ctx, username, password)
	if err != nil {
		a.mu.Lock()
		a.state = models.StateLoggedOut
		a.lastErr = err
		a.mu.Unlock()
		a.publishStatus()
		return err
	}

	if err := a.creds.Save(cfg.ServerIdentity, token); err != nil {
		log.Warn().Err(err).Msg("Failed to store session token; session will not survive restart")
	}

	a.mu.Lock()
	a.state = models.StateAuthenticated
	a.lastErr = nil
	a.mu.Unlock()
	metrics.Authenticated.Set(1)
	a.publishStatus()
	log.Info().Str("server", cfg.ServerIdentity).Msg("Logged in")

	a.scheduler.Start(cfg.PollInterval)
	a.TriggerCycle()
	return nil
}

// Logout tears the session down: best-effort remote invalidation, synchronous
// credential removal, cleared in-memory alert state, stopped scheduler.
// Idempotent.
func (a *Agent) Logout() error {
	a.mu.Lock()
	if a.state == models.StateLoggedOut {
		a.mu.Unlock()
		return nil
	}
	a.state = models.StateLoggedOut
	a.epoch++
	a.lastSig = ""
	a.lastSummary = ""
	a.lastSnapshot = models.Snapshot{}
	a.pending = nil
	a.lastErr = nil
	a.mu.Unlock()

	// Remote invalidation is fire-and-forget; the server expires unused
	// sessions on its own.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.client.Logout(ctx); err != nil {
			log.Debug().Err(err).Msg("Remote logout failed (ignored)")
		}
	}()

	cfg := a.configFn()
	a.client.SetToken("")
	if err := a.creds.Delete(cfg.ServerIdentity); err != nil {
		log.Warn().Err(err).Msg("Failed to delete stored credential")
	}
	a.scheduler.Stop()
	metrics.Authenticated.Set(0)

	snapshot := models.Snapshot{
		ServerIdentity: cfg.ServerIdentity,
		Authenticated:  false,
		LastUpdate:     time.Now().UTC(),
		ActiveFilter:   cfg.SecondaryFilter.Levels(),
		SortPreference: cfg.SortPreference,
		ResultCap:      cfg.ResultCap,
	}
	if err := a.store.Save(snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to publish logged-out snapshot")
	}
	a.publishStatus()
	log.Info().Msg("Logged out")
	return nil
}

// TriggerCycle runs one cycle in the background. Used by the scheduler tick
// and by manual refresh actions.
func (a *Agent) TriggerCycle() {
	go func() {
		if err := a.RunCycle(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Sync cycle failed")
		}
	}()
}

// RunCycle performs one synchronization cycle. It is a no-op unless the agent
// is authenticated, and a no-op when another cycle is still in flight: a tick
// that fires mid-cycle is dropped, not queued.
func (a *Agent) RunCycle(ctx context.Context) error {
	a.mu.Lock()
	if a.state != models.StateAuthenticated {
		a.mu.Unlock()
		return nil
	}
	if a.inFlight {
		a.mu.Unlock()
		metrics.TicksSkippedTotal.WithLabelValues("overlap").Inc()
		log.Debug().Msg("Cycle already in flight, dropping tick")
		return nil
	}
	a.inFlight = true
	a.state = models.StateRefreshing
	epoch := a.epoch
	a.mu.Unlock()

	err := a.runCycle(ctx, epoch)

	a.mu.Lock()
	a.inFlight = false
	if a.epoch == epoch && a.state == models.StateRefreshing {
		a.state = models.StateAuthenticated
	}
	a.lastCycle = time.Now().UTC()
	a.lastErr = err
	a.mu.Unlock()
	a.publishStatus()
	return err
}

func (a *Agent) runCycle(ctx context.Context, epoch uint64) error {
	cfg := a.configFn()
	cycleID := uuid.NewString()[:8]
	started := time.Now()
	logger := log.With().Str("cycle", cycleID).Str("server", cfg.ServerIdentity).Logger()
	a.publishStatus()

	// The two fetches run concurrently and both always complete; a failure in
	// one never cancels the other.
	var (
		alerts    []models.Alert
		hosts     []zabbix.Host
		alertsErr error
		hostsErr  error
	)
	var g errgroup.Group
	g.Go(func() error {
		alerts, alertsErr = a.client.ActiveProblems(ctx)
		return alertsErr
	})
	g.Go(func() error {
		hosts, hostsErr = a.client.Hosts(ctx)
		return hostsErr
	})
	_ = g.Wait()

	if agenterrors.IsSessionExpired(alertsErr) || agenterrors.IsSessionExpired(hostsErr) {
		logger.Warn().Msg("Session expired mid-cycle, logging out")
		a.handleSessionExpiry(epoch, cfg)
		metrics.CyclesTotal.WithLabelValues("session_expired").Inc()
		if agenterrors.IsSessionExpired(alertsErr) {
			return alertsErr
		}
		return hostsErr
	}
	if alertsErr != nil || hostsErr != nil {
		// Partial results are discarded: a mixed-freshness snapshot is worse
		// than keeping the last good one until the next tick.
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		err := errors.Join(alertsErr, hostsErr)
		logger.Warn().Err(err).Msg("Cycle fetch failed, keeping last snapshot")
		return err
	}

	filtered := filterAlerts(alerts, cfg)
	unacked := 0
	for _, alert := range filtered {
		if !alert.Acknowledged {
			unacked++
		}
	}

	sig := Signature(filtered, cfg.SecondaryFilter)

	ordered := orderAlerts(filtered)
	capped := ordered
	if len(capped) > cfg.ResultCap {
		capped = capped[:cfg.ResultCap]
	}

	snapshot := models.Snapshot{
		Alerts:              capped,
		UnacknowledgedCount: unacked,
		LastUpdate:          time.Now().UTC(),
		ServerIdentity:      cfg.ServerIdentity,
		Authenticated:       true,
		ActiveFilter:        cfg.SecondaryFilter.Levels(),
		SortPreference:      cfg.SortPreference,
		ResultCap:           cfg.ResultCap,
	}

	a.mu.Lock()
	if a.epoch != epoch {
		// Logged out while fetching; nothing from this cycle may survive.
		a.mu.Unlock()
		logger.Debug().Msg("Cycle completed after logout, discarding results")
		return nil
	}
	changed := sig != a.lastSig
	a.lastSig = sig
	a.lastSnapshot = snapshot
	reusable := a.lastSummary
	provider := a.provider
	a.mu.Unlock()

	logger.Debug().
		Int("fetched", len(alerts)).
		Int("filtered", len(filtered)).
		Int("hosts", len(hosts)).
		Bool("changed", changed).
		Dur("elapsed", time.Since(started)).
		Msg("Cycle fetch complete")

	summarizing := cfg.Summary.Enabled && provider != nil && provider.Name() != "disabled"

	switch {
	case !changed:
		// Same alert set as last time: republish with the summary already on
		// hand, refreshing only timestamp and counts.
		snapshot.SummaryText = reusable
		a.publish(snapshot, epoch)

	case !summarizing:
		a.setSummary(epoch, "")
		a.publish(snapshot, epoch)

	default:
		// Material change: defer publication until the summary arrives. The
		// call runs off this goroutine so a slow backend never stalls
		// polling.
		a.enqueueSummary(&pendingSummary{
			sig:     sig,
			prompt:  buildPrompt(cfg.Summary.PromptTemplate, capped),
			timeout: cfg.Summary.Timeout,
			epoch:   epoch,
		})
	}

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	return nil
}

// handleSessionExpiry transitions to LoggedOut. The published alert data is
// kept (stale-but-valid beats erased state); only the authenticated flag is
// flipped so the consumer can tell the session ended.
func (a *Agent) handleSessionExpiry(epoch uint64, cfg *config.Config) {
	a.mu.Lock()
	if a.epoch != epoch {
		a.mu.Unlock()
		return
	}
	a.state = models.StateLoggedOut
	a.epoch++
	a.lastSig = ""
	a.lastSummary = ""
	a.lastSnapshot = models.Snapshot{}
	a.pending = nil
	a.mu.Unlock()

	a.client.SetToken("")
	if err := a.creds.Delete(cfg.ServerIdentity); err != nil {
		log.Warn().Err(err).Msg("Failed to delete expired credential")
	}
	a.scheduler.Stop()
	metrics.Authenticated.Set(0)

	snapshot, err := a.store.Load()
	if err == nil && snapshot.Authenticated {
		snapshot.Authenticated = false
		if err := a.store.Save(snapshot); err != nil {
			log.Warn().Err(err).Msg("Failed to mark published snapshot unauthenticated")
		}
	}
}

// publish writes the snapshot unless a logout invalidated the cycle.
func (a *Agent) publish(snapshot models.Snapshot, epoch uint64) {
	a.mu.Lock()
	stale := a.epoch != epoch
	a.mu.Unlock()
	if stale {
		return
	}
	if err := a.store.Save(snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to publish snapshot")
		return
	}
	metrics.PublishedAlerts.Set(float64(len(snapshot.Alerts)))
}

func (a *Agent) setSummary(epoch uint64, text string) {
	a.mu.Lock()
	if a.epoch == epoch {
		a.lastSummary = text
	}
	a.mu.Unlock()
}

// enqueueSummary records the latest signature needing a summary and launches
// a worker unless one is already outstanding. Only one summarization call is
// ever in flight; intermediate signatures are skipped (last-signature-wins).
func (a *Agent) enqueueSummary(p *pendingSummary) {
	a.mu.Lock()
	a.pending = p
	if a.summarizing {
		a.mu.Unlock()
		return
	}
	a.summarizing = true
	a.pending = nil
	provider := a.provider
	a.mu.Unlock()

	go a.summarizeWorker(provider, p)
}

func (a *Agent) summarizeWorker(provider summary.Provider, p *pendingSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	text, err := provider.Summarize(ctx, p.prompt)
	cancel()
	if err != nil {
		// A broken summarizer must never block alert publication.
		log.Warn().Err(err).Str("provider", provider.Name()).Msg("Summarization failed, using fallback text")
		text = summary.FallbackText
		metrics.SummarizationsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.SummarizationsTotal.WithLabelValues("ok").Inc()
	}

	a.mu.Lock()
	a.summarizing = false

	if a.epoch != p.epoch || p.sig != a.lastSig {
		// The session ended or a newer cycle produced a different signature
		// while this call was running; its result is stale. Pick up the
		// latest pending request instead of publishing outdated text. A
		// pending request is relaunched only when it still belongs to the
		// current epoch; one from before a logout is dropped.
		metrics.SummarizationsTotal.WithLabelValues("discarded").Inc()
		next := a.pending
		a.pending = nil
		if next != nil && next.epoch == a.epoch {
			a.summarizing = true
			provider = a.provider
			a.mu.Unlock()
			go a.summarizeWorker(provider, next)
			return
		}
		a.mu.Unlock()
		return
	}

	a.lastSummary = text
	a.pending = nil
	// Attach the text to the newest cycle's snapshot: a same-signature cycle
	// may have published fresher acknowledgement state since this call
	// started, and that state must not be rolled back.
	snapshot := a.lastSnapshot
	a.mu.Unlock()

	snapshot.SummaryText = text
	a.publish(snapshot, p.epoch)
}

// Acknowledge acknowledges a problem by event identity and then always runs
// one cycle so the consumer sees the new acknowledgement state promptly.
func (a *Agent) Acknowledge(ctx context.Context, eventID, message string) error {
	ackErr := a.client.Acknowledge(ctx, eventID, message)
	if err := a.RunCycle(ctx); err != nil {
		log.Warn().Err(err).Msg("Post-acknowledge refresh failed")
	}
	return ackErr
}

// ApplyConfig reacts to a configuration change: the summarization backend is
// rebuilt, the scheduler reconfigured and one cycle triggered so new filters
// take effect immediately.
func (a *Agent) ApplyConfig() {
	cfg := a.configFn()

	provider, err := summary.NewFromConfig(cfg.Summary)
	if err != nil {
		log.Warn().Err(err).Msg("Keeping previous summarization provider")
	} else {
		a.mu.Lock()
		a.provider = provider
		a.mu.Unlock()
	}

	a.scheduler.Reconfigure(cfg.PollInterval)
	if a.State() != models.StateLoggedOut {
		a.TriggerCycle()
	}
}

// filterAlerts applies the secondary ("widget") severity filter and the
// optional title pattern.
func filterAlerts(alerts []models.Alert, cfg *config.Config) []models.Alert {
	filtered := make([]models.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if !cfg.SecondaryFilter.Contains(alert.Severity) {
			continue
		}
		if cfg.TitlePattern != "" && !wildcard.Match(cfg.TitlePattern, alert.Title) {
			continue
		}
		filtered = append(filtered, alert)
	}
	return filtered
}

// orderAlerts sorts most severe first, then most recent.
func orderAlerts(alerts []models.Alert) []models.Alert {
	ordered := make([]models.Alert, len(alerts))
	copy(ordered, alerts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Severity != ordered[j].Severity {
			return ordered[i].Severity > ordered[j].Severity
		}
		return ordered[i].OccurredAt.After(ordered[j].OccurredAt)
	})
	return ordered
}

// buildPrompt renders the prompt template over the capped alert list.
func buildPrompt(template string, alerts []models.Alert) string {
	lines := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		ack := ""
		if alert.Acknowledged {
			ack = ", acknowledged"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (since %s%s)",
			models.SeverityName(alert.Severity), alert.Title,
			alert.OccurredAt.Format(time.RFC3339), ack))
	}
	if len(lines) == 0 {
		lines = append(lines, "- none")
	}
	return fmt.Sprintf(template, strings.Join(lines, "\n"))
}
