// Package control implements the Control Plane: the process-wide
// registry of live Campaign Executors plus the operations that start,
// pause, resume, stop and report on them; it does no caller
// authentication of its own. It is grounded on
// listmonk's internal/manager pipe registry (map[int]*pipe guarded by a
// sync.RWMutex), generalized from campaign "pipes" to campaign
// "executors".
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baseleldalil/morsel/internal/browsersession"
	"github.com/baseleldalil/morsel/internal/dedupe"
	"github.com/baseleldalil/morsel/internal/executor"
	"github.com/baseleldalil/morsel/internal/logging"
	"github.com/baseleldalil/morsel/internal/model"
	"github.com/baseleldalil/morsel/internal/pacing"
	"github.com/baseleldalil/morsel/internal/reporter"
	"github.com/baseleldalil/morsel/internal/store"
)

// handle is the registry's bookkeeping around one running Executor.
type handle struct {
	exec       *executor.Executor
	cancel     context.CancelFunc
	ownerID    string
	browserKnd model.BrowserKind
}

// RuleResolver supplies the three-tier pacing configuration for a
// campaign's owner, decoupling the Control Plane from wherever plan/user
// settings actually live — tiering itself is a pacing concern; this
// package only needs *a* source for it.
type RuleResolver interface {
	ResolveRules(ctx context.Context, ownerID string) (pacing.Rules, model.TimingMode, error)
}

// Plane is the process-wide registry of running executors.
type Plane struct {
	mu        sync.RWMutex
	executors map[string]*handle

	db       store.Store
	sessions *browsersession.Manager
	guard    *dedupe.Guard
	rules    RuleResolver
	log      zerolog.Logger

	reapInterval time.Duration
	stopReaper   chan struct{}
}

// New constructs a Plane. Call Close to stop its health-reaper goroutine.
func New(db store.Store, sessions *browsersession.Manager, rules RuleResolver, log zerolog.Logger) *Plane {
	p := &Plane{
		executors:    make(map[string]*handle),
		db:           db,
		sessions:     sessions,
		guard:        dedupe.New(db),
		rules:        rules,
		log:          log,
		reapInterval: 30 * time.Second,
		stopReaper:   make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Close stops the background reaper. It does not stop running campaigns.
func (p *Plane) Close() {
	close(p.stopReaper)
}

// Start begins a New or Pending campaign: it resolves pacing rules,
// acquires the owner's browser session, runs preflight (template
// validation + contact linking), performs the CAS to Running, and launches
// the executor goroutine. Calling
// Start on an already-Running campaign returns model.ErrAlreadyRunning
// rather than silently no-opping.
func (p *Plane) Start(ctx context.Context, campaignID string, contactIDs []string, browserKind model.BrowserKind) error {
	p.mu.Lock()
	if _, running := p.executors[campaignID]; running {
		p.mu.Unlock()
		return model.ErrAlreadyRunning
	}
	p.mu.Unlock()

	campaign, err := p.db.LoadCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status.Terminal() {
		return model.ErrCampaignStopped
	}
	if campaign.Status == model.CampaignRunning {
		return model.ErrAlreadyRunning
	}

	rules, mode, err := p.rules.ResolveRules(ctx, campaign.OwnerID)
	if err != nil {
		return fmt.Errorf("control: resolving pacing rules: %w", err)
	}

	sess, err := p.sessions.Acquire(ctx, campaign.OwnerID, browserKind)
	if err != nil {
		return fmt.Errorf("control: acquiring browser session: %w", err)
	}
	msgr := sess.Messenger(300 * time.Millisecond)

	ex := executor.New(campaign, p.db, msgr, p.guard, rules, mode,
		logging.ForCampaign(p.log, campaignID, campaign.OwnerID))

	if err := ex.Preflight(ctx, campaign, contactIDs); err != nil {
		return err
	}

	if err := p.db.UpdateCampaignStatus(ctx, campaignID,
		[]model.CampaignStatus{model.CampaignNew, model.CampaignPending}, model.CampaignRunning,
		func(c *model.Campaign) {
			now := time.Now()
			c.StartedAt = &now
		}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.executors[campaignID] = &handle{exec: ex, cancel: cancel, ownerID: campaign.OwnerID, browserKnd: browserKind}
	p.mu.Unlock()

	go ex.Run(runCtx)
	go p.awaitCompletion(campaignID)
	return nil
}

// awaitCompletion removes the executor from the registry once it exits,
// whether by completion, stop, or fatal error, so Progress and a future
// Start see an accurate view without waiting on the reaper.
func (p *Plane) awaitCompletion(campaignID string) {
	p.mu.RLock()
	h, ok := p.executors[campaignID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	<-h.exec.Done()
	p.mu.Lock()
	if cur, ok := p.executors[campaignID]; ok && cur == h {
		delete(p.executors, campaignID)
	}
	p.mu.Unlock()
}

// Pause requests the running campaign's executor pause at its next
// opportunity and records the transition. If no executor for campaignID
// is registered in this process (a separate `morseld campaign pause`
// invocation against a `serve` process hosting the actual executor — with
// no HTTP layer there is no other channel), the CAS alone is enough: the
// executor's own waitWhileControlled polls the stored status.
func (p *Plane) Pause(ctx context.Context, campaignID string) error {
	if err := p.db.UpdateCampaignStatus(ctx, campaignID,
		[]model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused,
		func(c *model.Campaign) {
			now := time.Now()
			c.PausedAt = &now
		}); err != nil {
		return err
	}
	if h, err := p.lookup(campaignID); err == nil {
		h.exec.Pause()
	}
	return nil
}

// Resume releases a paused campaign's executor, in-process or cross-process
// (see Pause).
func (p *Plane) Resume(ctx context.Context, campaignID string) error {
	if err := p.db.UpdateCampaignStatus(ctx, campaignID,
		[]model.CampaignStatus{model.CampaignPaused}, model.CampaignRunning,
		func(c *model.Campaign) { c.PausedAt = nil }); err != nil {
		return err
	}
	if h, err := p.lookup(campaignID); err == nil {
		h.exec.Resume()
	}
	return nil
}

// Stop requests the campaign's executor halt and, when this process owns
// the live executor, releases its browser session. Stop is terminal: a
// stopped campaign cannot be resumed or restarted.
func (p *Plane) Stop(ctx context.Context, campaignID string) error {
	if err := p.db.UpdateCampaignStatus(ctx, campaignID,
		[]model.CampaignStatus{model.CampaignRunning, model.CampaignPaused}, model.CampaignStopped,
		func(c *model.Campaign) {
			now := time.Now()
			c.StoppedAt = &now
		}); err != nil {
		return err
	}
	if h, err := p.lookup(campaignID); err == nil {
		h.exec.Stop()
		h.exec.Resume() // unblock a paused wait so Stop takes effect immediately
		h.cancel()
		p.sessions.Release(h.ownerID)
	}
	return nil
}

// ResendFailed re-stages a campaign's Failed entries back to Pending. It
// forgets each affected phone from the duplicate-guard ledger first, so
// the guard does not immediately re-reject the resend, then re-stages the
// entries. Works whether the campaign is currently running (the live
// executor picks the re-staged entries up on its next batch fetch) or
// paused.
func (p *Plane) ResendFailed(ctx context.Context, campaignID string) (int, error) {
	campaign, err := p.db.LoadCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	failed, err := p.db.ListEntries(ctx, campaignID, model.WorkflowFailed, 0, 1<<30)
	if err != nil {
		return 0, err
	}
	for _, entry := range failed {
		contact, err := p.db.GetContact(ctx, entry.ContactID)
		if err != nil {
			continue
		}
		if err := p.guard.Forget(ctx, campaign.OwnerID, contact.FormattedPhone); err != nil {
			p.log.Warn().Err(err).Str("entry_id", entry.ID).Msg("control: forgetting duplicate-guard entry before resend")
		}
	}
	return p.db.ResendFailed(ctx, campaignID)
}

// Progress computes a point-in-time snapshot from the store. The
// snapshot's OnBreak and BreakEndsAt fields are left zero-valued: running
// executors do not expose their break state.
func (p *Plane) Progress(ctx context.Context, campaignID string) (*reporter.Snapshot, error) {
	snap, err := reporter.Compute(ctx, p.db, campaignID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ForceCloseAll force-terminates every live browser session process-wide,
// independent of the executors' own lifecycle. Running executors are not
// notified or stopped: a send that fails afterwards marks only that entry
// Failed, and the loop moves on to the next entry.
func (p *Plane) ForceCloseAll() int {
	return p.sessions.ForceCloseAll()
}

func (p *Plane) lookup(campaignID string) (*handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.executors[campaignID]
	if !ok {
		return nil, model.ErrNotRunning
	}
	return h, nil
}

// reapLoop periodically prunes registry entries whose executor goroutine
// has already exited without going through awaitCompletion — a defensive
// backstop, not the primary cleanup path.
func (p *Plane) reapLoop() {
	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapDead()
		}
	}
}

func (p *Plane) reapDead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.executors {
		select {
		case <-h.exec.Done():
			if err := h.exec.Err(); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn().Err(err).Str("campaign_id", id).Msg("control: reaped dead executor")
			}
			delete(p.executors, id)
		default:
		}
	}
}
