package control

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/baseleldalil/morsel/internal/model"
	"github.com/baseleldalil/morsel/internal/pacing"
	"github.com/baseleldalil/morsel/internal/store"
)

// fakeResolver is a RuleResolver stub; none of the tests below exercise
// Start, so ResolveRules is never actually called.
type fakeResolver struct{}

func (fakeResolver) ResolveRules(ctx context.Context, ownerID string) (pacing.Rules, model.TimingMode, error) {
	return pacing.Rules{}, model.TimingAuto, nil
}

func newTestPlane(t *testing.T) (*Plane, store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// sessions is left nil: these tests never register a live executor, so
	// Pause/Resume/Stop take the CAS-only branch and never touch it.
	p := New(db, nil, fakeResolver{}, zerolog.Nop())
	t.Cleanup(p.Close)
	return p, db, path
}

// seedContact inserts a contacts row directly, since ContactStore has no
// Create method in production — contacts are owned by an external
// ingestion subsystem. Opens its own connection against the same sqlite
// file rather than reaching into store's internals.
func seedContact(t *testing.T, dbPath, id, ownerID, phone string) {
	t.Helper()
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("opening raw sqlite connection: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`INSERT INTO contacts (id, owner_id, formatted_phone) VALUES (?, ?, ?)`,
		id, ownerID, phone); err != nil {
		t.Fatalf("seeding contact: %v", err)
	}
}

func newRunningCampaign(t *testing.T, db store.Store, id string) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	c := &model.Campaign{ID: id, OwnerID: "owner-1", Status: model.CampaignNew, CreatedAt: time.Now(), DuplicateMode: model.DuplicatePerCampaign}
	if err := db.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	if err := db.UpdateCampaignStatus(ctx, id, []model.CampaignStatus{model.CampaignNew}, model.CampaignRunning, nil); err != nil {
		t.Fatalf("UpdateCampaignStatus to running failed: %v", err)
	}
	return c
}

func TestPauseResumeWithoutLiveExecutor(t *testing.T) {
	p, db, _ := newTestPlane(t)
	ctx := context.Background()
	newRunningCampaign(t, db, "camp-1")

	if err := p.Pause(ctx, "camp-1"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	loaded, err := db.LoadCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	if loaded.Status != model.CampaignPaused || loaded.PausedAt == nil {
		t.Fatalf("expected paused campaign with PausedAt set, got %+v", loaded)
	}

	if err := p.Resume(ctx, "camp-1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	loaded, err = db.LoadCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	if loaded.Status != model.CampaignRunning || loaded.PausedAt != nil {
		t.Fatalf("expected running campaign with PausedAt cleared, got %+v", loaded)
	}
}

func TestStopWithoutLiveExecutorIsTerminal(t *testing.T) {
	p, db, _ := newTestPlane(t)
	ctx := context.Background()
	newRunningCampaign(t, db, "camp-2")

	if err := p.Stop(ctx, "camp-2"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	loaded, err := db.LoadCampaign(ctx, "camp-2")
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	if loaded.Status != model.CampaignStopped {
		t.Fatalf("expected stopped campaign, got %+v", loaded)
	}

	// Stop is terminal: pausing a stopped campaign must fail the CAS.
	if err := p.Pause(ctx, "camp-2"); err != model.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition pausing a stopped campaign, got %v", err)
	}
}

func TestResendFailedForgetsDuplicateGuardEntries(t *testing.T) {
	p, db, dbPath := newTestPlane(t)
	ctx := context.Background()
	c := newRunningCampaign(t, db, "camp-3")

	seedContact(t, dbPath, "contact-a", "owner-1", "15551234567")
	if err := db.LinkContacts(ctx, "camp-3", []string{"contact-a"}); err != nil {
		t.Fatalf("LinkContacts failed: %v", err)
	}
	batch, err := db.NextPendingBatch(ctx, "camp-3", 1)
	if err != nil || len(batch) != 1 {
		t.Fatalf("NextPendingBatch failed: %v (len %d)", err, len(batch))
	}
	entry, err := db.ClaimEntry(ctx, batch[0].ID)
	if err != nil {
		t.Fatalf("ClaimEntry failed: %v", err)
	}
	if err := db.FinalizeEntry(ctx, entry.ID, model.WorkflowFailed, "transient"); err != nil {
		t.Fatalf("FinalizeEntry failed: %v", err)
	}
	if err := db.UpsertSentPhone(ctx, c.OwnerID, "15551234567", "camp-3", model.WorkflowFailed, time.Now()); err != nil {
		t.Fatalf("UpsertSentPhone failed: %v", err)
	}

	n, err := p.ResendFailed(ctx, "camp-3")
	if err != nil {
		t.Fatalf("ResendFailed failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry resent, got %d", n)
	}

	rec, err := db.GetSentPhone(ctx, c.OwnerID, "15551234567")
	if err != nil {
		t.Fatalf("GetSentPhone failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected duplicate-guard entry forgotten before resend, got %+v", rec)
	}

	counts, err := db.CountByStatus(ctx, "camp-3")
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[model.WorkflowPending] != 1 {
		t.Fatalf("expected entry re-staged to pending, got %+v", counts)
	}
}

func TestProgressReflectsStoreState(t *testing.T) {
	p, db, _ := newTestPlane(t)
	ctx := context.Background()
	newRunningCampaign(t, db, "camp-4")
	if err := db.LinkContacts(ctx, "camp-4", []string{"a", "b"}); err != nil {
		t.Fatalf("LinkContacts failed: %v", err)
	}

	snap, err := p.Progress(ctx, "camp-4")
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if snap.TotalContacts != 2 {
		t.Fatalf("expected 2 total contacts, got %d", snap.TotalContacts)
	}
	if snap.Status != model.CampaignRunning {
		t.Fatalf("expected running status, got %s", snap.Status)
	}
}

