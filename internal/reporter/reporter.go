// Package reporter derives a point-in-time progress snapshot from campaign
// counters and workflow-entry status counts.
package reporter

import (
	"context"
	"time"

	"github.com/baseleldalil/morsel/internal/model"
	"github.com/baseleldalil/morsel/internal/store"
)

// Snapshot is the read-only view the Control Plane's progress operation
// returns.
type Snapshot struct {
	CampaignID string
	Status     model.CampaignStatus

	TotalContacts     int
	MessagesSent      int
	MessagesDelivered int
	MessagesFailed    int
	CurrentProgress   int
	Opened            int
	Clicked           int

	PercentComplete float64
	SuccessRate     float64 // MessagesSent / (MessagesSent + MessagesFailed), 0 if none processed yet.

	// OnBreak and BreakEndsAt are not derivable from stored counters.
	// Compute leaves them zero-valued, and nothing else in this repository
	// sets them.
	OnBreak     bool
	BreakEndsAt *time.Time

	// EstimatedCompletion extrapolates linearly from elapsed time and
	// progress so far; nil until at least one message has been processed.
	EstimatedCompletion *time.Time
}

// Compute derives a Snapshot for campaignID from the store alone (no live
// executor state, so OnBreak/BreakEndsAt stay zero-valued).
func Compute(ctx context.Context, db store.Store, campaignID string) (*Snapshot, error) {
	c, err := db.LoadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := db.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		CampaignID:        c.ID,
		Status:            c.Status,
		TotalContacts:     c.TotalContacts,
		MessagesSent:      c.MessagesSent,
		MessagesDelivered: c.MessagesDelivered,
		MessagesFailed:    c.MessagesFailed,
		CurrentProgress:   c.CurrentProgress,
		Opened:            counts[model.WorkflowOpened],
		Clicked:           counts[model.WorkflowClicked],
	}

	if c.TotalContacts > 0 {
		s.PercentComplete = 100 * float64(c.CurrentProgress) / float64(c.TotalContacts)
	}
	processed := c.MessagesSent + c.MessagesFailed
	if processed > 0 {
		s.SuccessRate = float64(c.MessagesSent) / float64(processed)
	}

	if c.StartedAt != nil && processed > 0 && c.CurrentProgress < c.TotalContacts {
		elapsed := time.Since(*c.StartedAt)
		rate := float64(processed) / elapsed.Seconds()
		if rate > 0 {
			remaining := c.TotalContacts - c.CurrentProgress
			eta := time.Now().Add(time.Duration(float64(remaining)/rate) * time.Second)
			s.EstimatedCompletion = &eta
		}
	}

	return s, nil
}
