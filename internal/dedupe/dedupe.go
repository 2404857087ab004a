// Package dedupe implements the Duplicate Guard: per-owner or
// per-campaign policies that decide whether a phone number should be
// skipped before a send is attempted.
package dedupe

import (
	"context"
	"time"

	"github.com/baseleldalil/morsel/internal/messenger"
	"github.com/baseleldalil/morsel/internal/model"
	"github.com/baseleldalil/morsel/internal/store"
)

// Guard answers whether a phone should be skipped for a given campaign and
// owner, and records successful sends so later campaigns can see them.
type Guard struct {
	db store.DuplicateStore
}

// New constructs a Guard backed by db.
func New(db store.DuplicateStore) *Guard {
	return &Guard{db: db}
}

// Check reports whether phone should be skipped, per campaign.DuplicateMode:
//   - Off: never skip.
//   - PerCampaign: skip only if this phone already has a Sent/Delivered
//     entry within the same campaign (guards against double-claims after
//     an executor restart, not against cross-campaign resends).
//   - PersistentPerUser: skip if this phone has ever been sent to under
//     the same owner, in any campaign.
func (g *Guard) Check(ctx context.Context, campaign *model.Campaign, phone string) (bool, error) {
	phone = messenger.NormalizePhone(phone)
	switch campaign.DuplicateMode {
	case model.DuplicateOff:
		return false, nil
	case model.DuplicatePerCampaign:
		return g.db.WasSentInCampaign(ctx, campaign.ID, phone)
	case model.DuplicatePersistent:
		rec, err := g.db.GetSentPhone(ctx, campaign.OwnerID, phone)
		if err != nil {
			return false, err
		}
		return rec != nil, nil
	default:
		return false, nil
	}
}

// Record persists a send so future Check calls see it; it is a no-op under
// DuplicateOff. The executor calls it only after a successful send, never
// after a failed one.
func (g *Guard) Record(ctx context.Context, campaign *model.Campaign, phone string, outcome model.WorkflowStatus) error {
	if campaign.DuplicateMode == model.DuplicateOff {
		return nil
	}
	phone = messenger.NormalizePhone(phone)
	return g.db.UpsertSentPhone(ctx, campaign.OwnerID, phone, campaign.ID, outcome, time.Now())
}

// Forget removes phone from the persistent ledger, letting a future
// campaign re-target it under PersistentPerUser mode.
func (g *Guard) Forget(ctx context.Context, ownerID, phone string) error {
	return g.db.ForgetSentPhone(ctx, ownerID, messenger.NormalizePhone(phone))
}
