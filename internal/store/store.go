// Package store is the Workflow Store: durable reads/writes of campaign
// and workflow-entry rows with CAS status transitions, backed by a
// transactional relational store. The interfaces below are what the rest
// of the core consumes; sqlite.go provides the concrete
// modernc.org/sqlite-backed implementation.
package store

import (
	"context"
	"time"

	"github.com/baseleldalil/morsel/internal/model"
)

// CampaignStore is the campaign-row half of the Workflow Store contract.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	LoadCampaign(ctx context.Context, id string) (*model.Campaign, error)

	// UpdateCampaignStatus performs a CAS transition: it fails with
	// model.ErrInvalidTransition if the current status is not in fromSet.
	// mutate runs inside the same transaction and may adjust any other
	// campaign field (timestamps, counters, last_error); it receives the
	// freshly loaded row and must mutate it in place.
	UpdateCampaignStatus(ctx context.Context, id string, fromSet []model.CampaignStatus, to model.CampaignStatus, mutate func(*model.Campaign)) error

	// LinkContacts sets total_contacts and creates one WorkflowEntry per
	// contact id (status New), atomically with the count. Used during
	// Start's pre-flight.
	LinkContacts(ctx context.Context, campaignID string, contactIDs []string) error

	// BumpCounters atomically adjusts the campaign's running counters in a
	// single statement of its own. FinalizeEntry does not call it; it bumps
	// its counters inside its own transaction alongside the entry CAS.
	BumpCounters(ctx context.Context, id string, sentDelta, deliveredDelta, failedDelta, progressDelta int) error
}

// WorkflowStore is the workflow-entry half of the contract.
type WorkflowStore interface {
	// NextPendingBatch returns up to limit entries in added_at order with
	// status in {New, Pending}.
	NextPendingBatch(ctx context.Context, campaignID string, limit int) ([]*model.WorkflowEntry, error)

	// ClaimEntry performs the CAS {New,Pending} -> Processing. Returns
	// model.ErrConcurrentClaim if another worker already claimed it.
	ClaimEntry(ctx context.Context, entryID string) (*model.WorkflowEntry, error)

	// SaveRenderedPayload persists the rendered message/attachment
	// snapshot onto an already-claimed entry.
	SaveRenderedPayload(ctx context.Context, entryID string, body string, attachments []model.Attachment) error

	// FinalizeEntry performs the CAS Processing -> {Sent|Failed} and bumps
	// the owning campaign's counters in the same transaction.
	FinalizeEntry(ctx context.Context, entryID string, outcome model.WorkflowStatus, errMessage string) error

	// MarkDelivered transitions Sent -> Delivered synchronously, when the
	// Messenger reports delivery inline with Send.
	MarkDelivered(ctx context.Context, entryID string) error

	// RecoverOrphans transitions every entry left in Processing for
	// campaignID to Failed with error_message "interrupted" and bumps
	// retry_count.
	RecoverOrphans(ctx context.Context, campaignID string) (int, error)

	// ResendFailed re-stages every Failed entry for campaignID back to
	// Pending, preserving retry_count.
	ResendFailed(ctx context.Context, campaignID string) (int, error)

	// CountByStatus returns the number of entries in each status for a
	// campaign, used by the Reporter.
	CountByStatus(ctx context.Context, campaignID string) (map[model.WorkflowStatus]int, error)

	// ListEntries pages through a campaign's entries, optionally filtered
	// by status.
	ListEntries(ctx context.Context, campaignID string, status model.WorkflowStatus, offset, limit int) ([]*model.WorkflowEntry, error)
}

// ContactStore is a read-only view over contacts owned by some external
// ingestion subsystem, referenced here by id only. A production
// deployment would back this with that subsystem's own table; the
// implementation here reuses the same sqlite handle purely so the core
// is independently runnable and testable.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	ListContacts(ctx context.Context, ids []string) ([]*model.Contact, error)
	SampleContacts(ctx context.Context, ownerID string, n int) ([]*model.Contact, error)
}

// DuplicateStore is the persistence backing for the Duplicate Guard.
type DuplicateStore interface {
	GetSentPhone(ctx context.Context, ownerID, phone string) (*model.SentPhoneRecord, error)
	UpsertSentPhone(ctx context.Context, ownerID, phone, campaignID string, status model.WorkflowStatus, at time.Time) error
	ForgetSentPhone(ctx context.Context, ownerID, phone string) error
	// WasSentInCampaign reports whether phone already has a Sent/Delivered
	// entry within campaignID, for DuplicatePerCampaign mode.
	WasSentInCampaign(ctx context.Context, campaignID, phone string) (bool, error)
}

// Store bundles every sub-interface the core needs behind one handle.
type Store interface {
	CampaignStore
	WorkflowStore
	ContactStore
	DuplicateStore
	Close() error
}
