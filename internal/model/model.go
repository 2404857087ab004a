// Package model holds the shared domain types for campaigns, workflow
// entries, contacts and the duplicate-guard ledger. It owns no behavior —
// just the shapes every other package reads and writes through the Store.
package model

import "time"

// CampaignStatus is the durable status of a Campaign row.
type CampaignStatus string

const (
	CampaignNew       CampaignStatus = "new"
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
)

// Terminal reports whether the status is a final, non-resumable state.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStopped || s == CampaignCompleted
}

// WorkflowStatus is the durable status of one (campaign, contact) slot.
type WorkflowStatus string

const (
	WorkflowNew        WorkflowStatus = "new"
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowProcessing WorkflowStatus = "processing"
	WorkflowSent       WorkflowStatus = "sent"
	WorkflowDelivered  WorkflowStatus = "delivered"
	WorkflowFailed     WorkflowStatus = "failed"
	WorkflowBounced    WorkflowStatus = "bounced"
	WorkflowOpened     WorkflowStatus = "opened"
	WorkflowClicked    WorkflowStatus = "clicked"
)

// Eligible reports whether an entry in this status is still waiting to be
// claimed by the executor's batch loop.
func (s WorkflowStatus) Eligible() bool {
	return s == WorkflowNew || s == WorkflowPending
}

// Gender is a contact's gender, used to pick between male/female templates.
type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderUnknown Gender = "U"
)

// DuplicateMode selects the Duplicate Guard's policy.
type DuplicateMode string

const (
	DuplicatePerCampaign DuplicateMode = "per_campaign"
	DuplicatePersistent  DuplicateMode = "persistent_per_user"
	DuplicateOff         DuplicateMode = "off"
)

// TimingMode selects Auto (rule-table driven) vs Manual (explicit bounds)
// pacing.
type TimingMode string

const (
	TimingAuto   TimingMode = "auto"
	TimingManual TimingMode = "manual"
)

// BrowserKind is the requested third-party-app driver kind for a session.
type BrowserKind string

const (
	BrowserChrome  BrowserKind = "chrome"
	BrowserFirefox BrowserKind = "firefox"
)

// AttachmentKind is the coarse type derived from an attachment's
// content-type, used to pick a renderer/icon without sniffing file bytes.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentOther    AttachmentKind = "other"
)

// ClassifyAttachmentKind derives the coarse AttachmentKind from a MIME
// content-type string such as "image/png" or "application/pdf".
func ClassifyAttachmentKind(contentType string) AttachmentKind {
	switch {
	case len(contentType) >= 6 && contentType[:6] == "image/":
		return AttachmentImage
	case len(contentType) >= 6 && contentType[:6] == "video/":
		return AttachmentVideo
	case len(contentType) >= 6 && contentType[:6] == "audio/":
		return AttachmentAudio
	case contentType == "application/pdf",
		contentType == "application/msword",
		contentType == "text/plain":
		return AttachmentDocument
	default:
		return AttachmentOther
	}
}

// Attachment is a rendered-payload snapshot of one file attached to a
// workflow entry, isolated from later template/contact edits.
type Attachment struct {
	Filename    string
	ContentType string
	Kind        AttachmentKind
	SizeBytes   int64
	DataBase64  string
	Caption     string // first attachment carries the rendered caption, rest are empty.
}

// Campaign is the aggregate root owning a set of WorkflowEntry rows.
type Campaign struct {
	ID          string
	OwnerID     string
	Name        string
	Description string

	Status CampaignStatus

	TotalContacts      int
	MessagesSent       int
	MessagesDelivered  int
	MessagesFailed     int
	CurrentProgress    int

	CreatedAt   time.Time
	StartedAt   *time.Time
	PausedAt    *time.Time
	StoppedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	MessageContent     string
	MaleContent        string
	FemaleContent      string
	UseGenderTemplates bool

	DuplicateMode DuplicateMode

	LastError  string
	ErrorCount int

	// Attachment is the campaign's single optional file, set at creation.
	// Cloned into each recipient's rendered-payload snapshot at send time,
	// with the rendered body set as its Caption.
	Attachment *Attachment
}

// Invariant checks that the counters never exceed the contact total. Called
// by the Store's FinalizeEntry as a defensive check before committing a
// counter bump; a violation means a bug elsewhere let two workers finalize
// the same entry; never used as control flow for ordinary operation.
func (c *Campaign) Invariant() bool {
	if c.MessagesSent+c.MessagesFailed > c.TotalContacts {
		return false
	}
	if c.CurrentProgress > c.TotalContacts {
		return false
	}
	return true
}

// WorkflowEntry is one (campaign, contact) slot.
type WorkflowEntry struct {
	ID         string
	CampaignID string
	ContactID  string

	Status WorkflowStatus

	AddedAt     time.Time
	ProcessedAt *time.Time
	DeliveredAt *time.Time
	OpenedAt    *time.Time
	ClickedAt   *time.Time

	RetryCount   int
	ErrorMessage string

	// Rendered payload snapshot, filled in at claim/render time.
	RenderedBody string
	Attachments  []Attachment
}

// Contact is referenced, not owned, by the core — a read-only view of
// the fields the renderer and dispatcher need.
type Contact struct {
	ID              string
	OwnerID         string
	FirstName       string
	ArabicName      string
	EnglishName     string
	FormattedPhone  string
	Gender          Gender
	IsSelected      bool
	Status          WorkflowStatus
}

// SentPhoneRecord backs the persistent_per_user Duplicate Guard mode.
type SentPhoneRecord struct {
	OwnerID        string
	Phone          string
	FirstSentAt    time.Time
	LastSentAt     time.Time
	SendCount      int
	LastCampaignID string
	LastStatus     WorkflowStatus
}

// PacingRule is one row of the configurable (non-advanced) pacing table,
// either the global default or a per-plan override.
type PacingRule struct {
	MinDelaySeconds float64
	MaxDelaySeconds float64

	AfterMessageCount    int
	PauseDurationMinutes float64
	RandomVarianceSecs   float64
	Priority             int
}

// AdvancedPacingSettings are the highest-priority, per-user pacing overrides.
type AdvancedPacingSettings struct {
	MinDelaySeconds    float64
	MaxDelaySeconds    float64
	EnableBreaks       bool
	MinMessagesBreak   int
	MaxMessagesBreak   int
	MinBreakMinutes    float64
	MaxBreakMinutes    float64
	UseDecimalRandom   bool
	DecimalPrecision   int
}
