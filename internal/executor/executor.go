// Package executor implements the Campaign Executor: the supervised
// per-campaign loop that claims workflow entries, renders and sends each
// message, records the outcome, and paces itself between sends. One
// Executor owns exactly one campaign for its lifetime; the Control Plane
// (internal/control) is the only thing that constructs, starts, pauses,
// resumes and stops one.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baseleldalil/morsel/internal/clock"
	"github.com/baseleldalil/morsel/internal/dedupe"
	"github.com/baseleldalil/morsel/internal/messenger"
	"github.com/baseleldalil/morsel/internal/model"
	"github.com/baseleldalil/morsel/internal/pacing"
	"github.com/baseleldalil/morsel/internal/store"
	"github.com/baseleldalil/morsel/internal/template"
)

// errStopped is returned internally by waitWhileControlled when Stop was
// called; Run treats it as a clean (non-fatal) exit.
var errStopped = errors.New("executor: stop requested")

// DefaultBatchSize is how many workflow entries Run claims from the store
// at a time.
const DefaultBatchSize = 25

// Executor runs one campaign's batch loop to completion, pause, or stop.
type Executor struct {
	campaignID string
	ownerID    string

	db    store.Store
	msgr  messenger.Messenger
	guard *dedupe.Guard

	src    *clock.Source
	clk    clock.Clock
	pacing *pacing.Engine
	rules  pacing.Rules

	batchSize int
	log       zerolog.Logger

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}

	done   chan struct{}
	runErr error
}

// New constructs an Executor for campaign, sending through msgr and
// guarding duplicates through guard. mode selects auto vs manual pacing;
// rules is the three-tier pacing configuration already resolved for this
// campaign's owner and plan.
func New(campaign *model.Campaign, db store.Store, msgr messenger.Messenger, guard *dedupe.Guard, rules pacing.Rules, mode model.TimingMode, log zerolog.Logger) *Executor {
	src := clock.NewProcessSeeded(campaign.ID)
	return &Executor{
		campaignID: campaign.ID,
		ownerID:    campaign.OwnerID,
		db:         db,
		msgr:       msgr,
		guard:      guard,
		src:        src,
		clk:        clock.Real,
		pacing:     pacing.NewEngine(src, mode),
		rules:      rules,
		batchSize:  DefaultBatchSize,
		log:        log,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Preflight validates campaign's templates against a sample of the
// owner's contacts, links contactIDs as workflow entries, and recovers
// any entries orphaned by a previous crash (orphaned Processing entries
// are treated as Failed, never silently resumed). Called once, before
// the first Run, by the Control Plane's Start.
func (e *Executor) Preflight(ctx context.Context, campaign *model.Campaign, contactIDs []string) error {
	sample, err := e.db.SampleContacts(ctx, campaign.OwnerID, 20)
	if err != nil {
		return fmt.Errorf("executor: sampling contacts for validation: %w", err)
	}
	contacts := make([]model.Contact, 0, len(sample))
	for _, c := range sample {
		contacts = append(contacts, *c)
	}

	templates := []string{campaign.MessageContent}
	if campaign.UseGenderTemplates {
		templates = append(templates, campaign.MaleContent, campaign.FemaleContent)
	}
	if _, errs := template.ValidateAgainstSample(templates, contacts); len(errs) > 0 {
		return &model.ClassifiedError{
			Kind: model.ErrTemplateInvalid, Transient: false,
			Err: fmt.Errorf("%s", strings.Join(errs, "; ")),
		}
	}

	if err := e.db.LinkContacts(ctx, campaign.ID, contactIDs); err != nil {
		return fmt.Errorf("executor: linking contacts: %w", err)
	}
	if n, err := e.db.RecoverOrphans(ctx, campaign.ID); err != nil {
		e.log.Warn().Err(err).Msg("executor: recovering orphaned entries")
	} else if n > 0 {
		e.log.Warn().Int("count", n).Msg("executor: recovered orphaned processing entries as failed")
	}
	return nil
}

// Pause takes effect at the next opportunity: after the in-flight send and
// its pacing delay (and any break) finish, before the next entry is claimed.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.resumeCh = make(chan struct{})
	}
}

// Resume releases a paused loop.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		close(e.resumeCh)
	}
}

// Stop requests the loop exit at the next opportunity, including during a
// paused wait or an inter-message delay. Idempotent.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Done reports when Run has returned.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Err returns the reason Run stopped, if any (nil for ordinary completion
// or an operator-requested Stop).
func (e *Executor) Err() error { return e.runErr }

// statusPollInterval bounds how quickly a Pause/Stop issued by a separate
// process (a different `morseld campaign pause` invocation talking only
// to the durable Store, not this goroutine's in-memory handle) is
// noticed. The in-process Pause/Resume/Stop methods below take effect
// immediately regardless of this interval.
const statusPollInterval = 2 * time.Second

// waitWhileControlled blocks while paused and returns errStopped the
// moment Stop is called or the campaign's stored status turns Stopped,
// whether idle, paused, or about to claim work. It consults both the
// in-process flags (Pause/Resume/Stop, for a Control Plane sharing this
// goroutine) and the durable campaign row (for a separate CLI process
// issuing pause/resume/stop against the same Store), since there is no
// HTTP layer and the Store is the only cross-process channel.
func (e *Executor) waitWhileControlled(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return errStopped
		default:
		}

		if campaign, err := e.db.LoadCampaign(ctx, e.campaignID); err == nil {
			if campaign.Status == model.CampaignStopped {
				return errStopped
			}
			if campaign.Status == model.CampaignPaused {
				e.Pause()
			} else if campaign.Status == model.CampaignRunning {
				e.Resume()
			}
		}

		e.mu.Lock()
		paused := e.paused
		resumeCh := e.resumeCh
		e.mu.Unlock()
		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return errStopped
		case <-resumeCh:
		case <-time.After(statusPollInterval):
		}
	}
}

// Run executes the batch loop until the campaign is exhausted, a fatal
// error is hit, or Stop is called. It is meant to run in its own
// goroutine; the Control Plane waits on Done().
func (e *Executor) Run(ctx context.Context) {
	defer close(e.done)

	sentSinceBreak := 0
	breakThreshold := e.pacing.NextBreakThreshold(e.rules)

	for {
		if err := e.waitWhileControlled(ctx); err != nil {
			if !errors.Is(err, errStopped) {
				e.runErr = err
			}
			return
		}

		batch, err := e.db.NextPendingBatch(ctx, e.campaignID, e.batchSize)
		if err != nil {
			e.fail(ctx, &model.ClassifiedError{Kind: model.ErrStoreUnavailable, Err: fmt.Errorf("fetching next batch: %w", err)})
			return
		}
		if len(batch) == 0 {
			e.complete(ctx)
			return
		}
		lastBatch := len(batch) < e.batchSize

		for i, entry := range batch {
			if err := e.waitWhileControlled(ctx); err != nil {
				if !errors.Is(err, errStopped) {
					e.runErr = err
				}
				return
			}

			processed := e.processEntry(ctx, entry)
			if !processed {
				continue // duplicate or claim race; no pacing delay spent
			}
			sentSinceBreak++

			onLast := lastBatch && i == len(batch)-1
			delaySecs := e.pacing.NextDelaySeconds(e.rules)
			if !e.clk.Sleep(time.Duration(delaySecs*float64(time.Second)), e.stopCh) {
				return
			}

			if pacing.ShouldBreak(sentSinceBreak, breakThreshold, onLast) {
				breakSecs := e.pacing.NextBreakDurationSeconds(e.rules)
				e.log.Info().Float64("seconds", breakSecs).Msg("executor: taking scheduled break")
				if !e.clk.Sleep(time.Duration(breakSecs*float64(time.Second)), e.stopCh) {
					return
				}
				sentSinceBreak = 0
				breakThreshold = e.pacing.NextBreakThreshold(e.rules)
			}
		}
	}
}

// processEntry claims, renders, sends and finalizes one workflow entry.
// It reports false when no pacing delay should be charged (the entry was
// already claimed elsewhere, or skipped as a duplicate).
func (e *Executor) processEntry(ctx context.Context, entry *model.WorkflowEntry) bool {
	claimed, err := e.db.ClaimEntry(ctx, entry.ID)
	if err != nil {
		if !errors.Is(err, model.ErrConcurrentClaim) {
			e.log.Warn().Err(err).Str("entry_id", entry.ID).Msg("executor: claim failed")
		}
		return false
	}

	contact, err := e.db.GetContact(ctx, claimed.ContactID)
	if err != nil {
		e.finalizeQuiet(ctx, claimed.ID, model.WorkflowFailed, "contact lookup failed: "+err.Error())
		return true
	}

	campaign, err := e.db.LoadCampaign(ctx, e.campaignID)
	if err != nil {
		e.finalizeQuiet(ctx, claimed.ID, model.WorkflowFailed, "campaign lookup failed: "+err.Error())
		return true
	}

	if skip, err := e.guard.Check(ctx, campaign, contact.FormattedPhone); err != nil {
		e.log.Warn().Err(err).Msg("executor: duplicate check failed, proceeding")
	} else if skip {
		e.finalizeQuiet(ctx, claimed.ID, model.WorkflowFailed, "skipped: duplicate phone")
		return false
	}

	body := template.RenderForContact(campaign, *contact, e.src)
	var attachments []model.Attachment
	if campaign.Attachment != nil {
		clone := *campaign.Attachment
		clone.Caption = body
		attachments = []model.Attachment{clone}
	}
	if err := e.db.SaveRenderedPayload(ctx, claimed.ID, body, attachments); err != nil {
		e.log.Warn().Err(err).Msg("executor: saving rendered payload")
	}

	res := e.msgr.Send(ctx, contact.FormattedPhone, body, attachments)
	switch res.Outcome {
	case messenger.OutcomeOK:
		e.finalizeQuiet(ctx, claimed.ID, model.WorkflowSent, "")
		if res.Delivered {
			if err := e.db.MarkDelivered(ctx, claimed.ID); err != nil {
				e.log.Warn().Err(err).Msg("executor: marking entry delivered")
			}
		}
		if err := e.guard.Record(ctx, campaign, contact.FormattedPhone, model.WorkflowSent); err != nil {
			e.log.Warn().Err(err).Msg("executor: recording duplicate-guard entry")
		}
	case messenger.OutcomeInvalidRecipient:
		e.finalizeQuiet(ctx, claimed.ID, model.WorkflowFailed, model.NewRecipientInvalid(res.Err).Error())
	default:
		e.finalizeQuiet(ctx, claimed.ID, model.WorkflowFailed, errString(res.Err))
	}
	return true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Executor) finalizeQuiet(ctx context.Context, entryID string, outcome model.WorkflowStatus, msg string) {
	if err := e.db.FinalizeEntry(ctx, entryID, outcome, msg); err != nil {
		e.log.Warn().Err(err).Str("entry_id", entryID).Msg("executor: finalize failed")
	}
}

func (e *Executor) complete(ctx context.Context) {
	err := e.db.UpdateCampaignStatus(ctx, e.campaignID,
		[]model.CampaignStatus{model.CampaignRunning}, model.CampaignCompleted,
		func(c *model.Campaign) {
			now := time.Now()
			c.CompletedAt = &now
		})
	if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
		e.log.Error().Err(err).Msg("executor: marking campaign completed")
	}
}

func (e *Executor) fail(ctx context.Context, classified *model.ClassifiedError) {
	e.runErr = classified
	err := e.db.UpdateCampaignStatus(ctx, e.campaignID,
		[]model.CampaignStatus{model.CampaignRunning, model.CampaignPaused}, model.CampaignStopped,
		func(c *model.Campaign) {
			now := time.Now()
			c.StoppedAt = &now
			c.LastError = classified.Error()
			c.ErrorCount++
		})
	if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
		e.log.Error().Err(err).Msg("executor: marking campaign stopped after fatal error")
	}
}
