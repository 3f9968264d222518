package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/services/giftpool/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/giftpool.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func seedCampaign(t *testing.T, store *Store, id string, target string, status giftpool.CampaignStatus, deadline *time.Time, now time.Time) giftpool.Campaign {
	t.Helper()
	campaign := giftpool.Campaign{
		ID:             id,
		RegistryItemID: "registry-item-1",
		TargetAmount:   decimal.RequireFromString(target),
		CurrentAmount:  decimal.Zero,
		Status:         status,
		Deadline:       deadline,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.PutCampaign(context.Background(), campaign); err != nil {
		t.Fatalf("put campaign %s: %v", id, err)
	}
	return campaign
}

func seedContribution(t *testing.T, store *Store, id, campaignID, contributor, amount string, now time.Time) giftpool.Contribution {
	t.Helper()
	contribution := giftpool.Contribution{
		ID:                  id,
		CampaignID:          campaignID,
		ContributorIdentity: contributor,
		Amount:              decimal.RequireFromString(amount),
		Status:              giftpool.ContributionStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := store.InsertContribution(context.Background(), contribution); err != nil {
		t.Fatalf("insert contribution %s: %v", id, err)
	}
	return contribution
}

func TestCampaignRoundTrip(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(72 * time.Hour)

	seedCampaign(t, store, "camp-1", "150.00", giftpool.CampaignStatusOpen, &deadline, now)

	got, err := store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if got.ID != "camp-1" {
		t.Fatalf("id = %q, want camp-1", got.ID)
	}
	if !got.TargetAmount.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("target = %s, want 150.00", got.TargetAmount)
	}
	if got.Status != giftpool.CampaignStatusOpen {
		t.Fatalf("status = %v, want open", got.Status)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Fatalf("deadline = %v, want %v", got.Deadline, deadline)
	}
	if got.CompletionTriggeredAt != nil {
		t.Fatalf("completion_triggered_at = %v, want nil", got.CompletionTriggeredAt)
	}

	if err := store.PutCampaign(context.Background(), got); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate put err = %v, want ErrConflict", err)
	}
	if _, err := store.GetCampaign(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
}

func TestInsertContributionRequiresOpenCampaign(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-open", "100", giftpool.CampaignStatusOpen, nil, now)
	seedCampaign(t, store, "camp-expired", "100", giftpool.CampaignStatusExpired, nil, now)

	seedContribution(t, store, "contrib-1", "camp-open", "alice@example.com", "25", now)

	err := store.InsertContribution(context.Background(), giftpool.Contribution{
		ID:                  "contrib-2",
		CampaignID:          "camp-expired",
		ContributorIdentity: "bob@example.com",
		Amount:              decimal.RequireFromString("10"),
		Status:              giftpool.ContributionStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if !errors.Is(err, storage.ErrCampaignNotOpen) {
		t.Fatalf("insert on expired campaign err = %v, want ErrCampaignNotOpen", err)
	}

	err = store.InsertContribution(context.Background(), giftpool.Contribution{
		ID:                  "contrib-3",
		CampaignID:          "missing",
		ContributorIdentity: "bob@example.com",
		Amount:              decimal.RequireFromString("10"),
		Status:              giftpool.ContributionStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("insert on missing campaign err = %v, want ErrNotFound", err)
	}
}

func TestConfirmRecomputesTotalAndFundsAtTarget(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-1", "100.00", giftpool.CampaignStatusOpen, nil, now)
	seedContribution(t, store, "c-40", "camp-1", "alice@example.com", "40.00", now)
	seedContribution(t, store, "c-35", "camp-1", "bob@example.com", "35.00", now)
	seedContribution(t, store, "c-30", "camp-1", "carol@example.com", "30.00", now)

	first, err := store.ConfirmContribution(context.Background(), "c-40", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("confirm c-40: %v", err)
	}
	if first.BecameFunded {
		t.Fatal("c-40 alone should not fund the campaign")
	}
	if !first.Campaign.CurrentAmount.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("total after c-40 = %s, want 40.00", first.Campaign.CurrentAmount)
	}

	second, err := store.ConfirmContribution(context.Background(), "c-35", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("confirm c-35: %v", err)
	}
	if second.BecameFunded {
		t.Fatal("75.00 of 100.00 should not fund the campaign")
	}

	third, err := store.ConfirmContribution(context.Background(), "c-30", now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("confirm c-30: %v", err)
	}
	if !third.BecameFunded {
		t.Fatal("105.00 of 100.00 should fund the campaign")
	}
	if !third.Campaign.CurrentAmount.Equal(decimal.RequireFromString("105.00")) {
		t.Fatalf("final total = %s, want 105.00", third.Campaign.CurrentAmount)
	}
	if third.Campaign.Status != giftpool.CampaignStatusFunded {
		t.Fatalf("status = %v, want funded", third.Campaign.Status)
	}
	if third.Campaign.CompletionTriggeredAt == nil {
		t.Fatal("completion_triggered_at should be set on funding")
	}

	persisted, err := store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if persisted.Status != giftpool.CampaignStatusFunded {
		t.Fatalf("persisted status = %v, want funded", persisted.Status)
	}
	if !persisted.CurrentAmount.Equal(decimal.RequireFromString("105.00")) {
		t.Fatalf("persisted total = %s, want 105.00", persisted.CurrentAmount)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-1", "100", giftpool.CampaignStatusOpen, nil, now)
	seedContribution(t, store, "c-1", "camp-1", "alice@example.com", "30", now)

	first, err := store.ConfirmContribution(context.Background(), "c-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if first.AlreadyConfirmed {
		t.Fatal("first confirm should not report already confirmed")
	}

	second, err := store.ConfirmContribution(context.Background(), "c-1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("replayed confirm: %v", err)
	}
	if !second.AlreadyConfirmed {
		t.Fatal("replayed confirm should report already confirmed")
	}
	if second.BecameFunded {
		t.Fatal("replayed confirm must never report funding")
	}
	if !second.Campaign.CurrentAmount.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("total after replay = %s, want 30", second.Campaign.CurrentAmount)
	}

	aggregate, err := store.GetAggregate(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if aggregate.CurrentAmount != "30" {
		t.Fatalf("aggregate total = %s, want 30", aggregate.CurrentAmount)
	}
	if aggregate.ContributorCount != 1 {
		t.Fatalf("contributor count = %d, want 1", aggregate.ContributorCount)
	}
}

func TestConcurrentConfirmsFundExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-1", "100", giftpool.CampaignStatusOpen, nil, now)

	const workers = 8
	for i := 0; i < workers; i++ {
		seedContribution(t, store, fmt.Sprintf("c-%d", i), "camp-1",
			fmt.Sprintf("guest-%d@example.com", i), "20", now)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		funded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(contributionID string) {
			defer wg.Done()
			outcome, err := store.ConfirmContribution(context.Background(), contributionID, now.Add(time.Minute))
			if err != nil {
				t.Errorf("confirm %s: %v", contributionID, err)
				return
			}
			if outcome.BecameFunded {
				mu.Lock()
				funded++
				mu.Unlock()
			}
		}(fmt.Sprintf("c-%d", i))
	}
	wg.Wait()

	if funded != 1 {
		t.Fatalf("funded transitions = %d, want exactly 1", funded)
	}

	campaign, err := store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.Status != giftpool.CampaignStatusFunded {
		t.Fatalf("status = %v, want funded", campaign.Status)
	}
	if !campaign.CurrentAmount.Equal(decimal.RequireFromString("160")) {
		t.Fatalf("total = %s, want 160", campaign.CurrentAmount)
	}
	if campaign.CompletionTriggeredAt == nil {
		t.Fatal("completion_triggered_at should be set")
	}
}

func TestConfirmAfterFundedStillCounts(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-1", "50", giftpool.CampaignStatusOpen, nil, now)
	seedContribution(t, store, "c-1", "camp-1", "alice@example.com", "50", now)
	seedContribution(t, store, "c-2", "camp-1", "bob@example.com", "10", now)

	funded, err := store.ConfirmContribution(context.Background(), "c-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("confirm c-1: %v", err)
	}
	if !funded.BecameFunded {
		t.Fatal("c-1 should fund the campaign")
	}

	// The capture for c-2 lands after funding; the money was taken and must
	// still show up in the total without a second trigger.
	late, err := store.ConfirmContribution(context.Background(), "c-2", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("confirm c-2: %v", err)
	}
	if late.BecameFunded {
		t.Fatal("late confirm must not report a second funding")
	}
	if !late.Campaign.CurrentAmount.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("total = %s, want 60", late.Campaign.CurrentAmount)
	}
	if late.Campaign.Status != giftpool.CampaignStatusFunded {
		t.Fatalf("status = %v, want funded", late.Campaign.Status)
	}
}

func TestConfirmRejectedAfterExpiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	seedCampaign(t, store, "camp-1", "100", giftpool.CampaignStatusOpen, &deadline, now)
	seedContribution(t, store, "c-1", "camp-1", "alice@example.com", "30", now)

	applied, err := store.ExpireCampaign(context.Background(), "camp-1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("expire campaign: %v", err)
	}
	if !applied {
		t.Fatal("expiry should apply to an open campaign")
	}

	if _, err := store.ConfirmContribution(context.Background(), "c-1", now.Add(3*time.Hour)); !errors.Is(err, storage.ErrCampaignNotOpen) {
		t.Fatalf("confirm on expired campaign err = %v, want ErrCampaignNotOpen", err)
	}
}

func TestExpiryLosesTieAgainstFunding(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	seedCampaign(t, store, "camp-1", "50", giftpool.CampaignStatusOpen, &deadline, now)
	seedContribution(t, store, "c-1", "camp-1", "alice@example.com", "50", now)

	expirable, err := store.ListExpirableCampaigns(context.Background(), now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list expirable: %v", err)
	}
	if len(expirable) != 1 {
		t.Fatalf("expirable len = %d, want 1", len(expirable))
	}

	// Funding commits between the sweep's read and its expiry write.
	outcome, err := store.ConfirmContribution(context.Background(), "c-1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !outcome.BecameFunded {
		t.Fatal("confirm should fund the campaign")
	}

	applied, err := store.ExpireCampaign(context.Background(), "camp-1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("expire campaign: %v", err)
	}
	if applied {
		t.Fatal("expiry must lose the tie against a committed funding")
	}

	campaign, err := store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.Status != giftpool.CampaignStatusFunded {
		t.Fatalf("status = %v, want funded", campaign.Status)
	}
}

func TestExpirableListSkipsFundedTotals(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	seedCampaign(t, store, "camp-under", "100", giftpool.CampaignStatusOpen, &deadline, now)
	seedCampaign(t, store, "camp-no-deadline", "100", giftpool.CampaignStatusOpen, nil, now)

	expirable, err := store.ListExpirableCampaigns(context.Background(), now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list expirable: %v", err)
	}
	if len(expirable) != 1 || expirable[0].ID != "camp-under" {
		t.Fatalf("expirable = %+v, want only camp-under", expirable)
	}
}

func TestVoidContribution(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-1", "100", giftpool.CampaignStatusOpen, nil, now)
	seedContribution(t, store, "c-void", "camp-1", "alice@example.com", "30", now)
	seedContribution(t, store, "c-confirm", "camp-1", "bob@example.com", "30", now)

	voided, err := store.VoidContribution(context.Background(), "c-void", "capture declined", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("void contribution: %v", err)
	}
	if voided.Status != giftpool.ContributionStatusVoid {
		t.Fatalf("status = %v, want void", voided.Status)
	}
	if voided.VoidReason != "capture declined" {
		t.Fatalf("void reason = %q, want capture declined", voided.VoidReason)
	}

	if _, err := store.VoidContribution(context.Background(), "c-void", "again", now.Add(2*time.Minute)); !errors.Is(err, storage.ErrAlreadyVoided) {
		t.Fatalf("second void err = %v, want ErrAlreadyVoided", err)
	}
	if _, err := store.ConfirmContribution(context.Background(), "c-void", now.Add(2*time.Minute)); !errors.Is(err, storage.ErrAlreadyVoided) {
		t.Fatalf("confirm void err = %v, want ErrAlreadyVoided", err)
	}

	if _, err := store.ConfirmContribution(context.Background(), "c-confirm", now.Add(time.Minute)); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := store.VoidContribution(context.Background(), "c-confirm", "late", now.Add(2*time.Minute)); !errors.Is(err, storage.ErrAlreadyConfirmed) {
		t.Fatalf("void confirmed err = %v, want ErrAlreadyConfirmed", err)
	}

	aggregate, err := store.GetAggregate(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if aggregate.CurrentAmount != "30" {
		t.Fatalf("aggregate total = %s, want 30 (void must not count)", aggregate.CurrentAmount)
	}
}

func TestRefundFlowEnqueuesEachContributionOnce(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	seedCampaign(t, store, "camp-1", "200", giftpool.CampaignStatusOpen, &deadline, now)
	seedContribution(t, store, "c-1", "camp-1", "alice@example.com", "40", now)
	seedContribution(t, store, "c-2", "camp-1", "bob@example.com", "35", now)
	seedContribution(t, store, "c-3", "camp-1", "carol@example.com", "10", now)

	for _, id := range []string{"c-1", "c-2"} {
		if _, err := store.ConfirmContribution(context.Background(), id, now.Add(time.Minute)); err != nil {
			t.Fatalf("confirm %s: %v", id, err)
		}
	}
	if _, err := store.VoidContribution(context.Background(), "c-3", "capture declined", now.Add(time.Minute)); err != nil {
		t.Fatalf("void c-3: %v", err)
	}

	sweepAt := now.Add(2 * time.Hour)
	if applied, err := store.ExpireCampaign(context.Background(), "camp-1", sweepAt); err != nil || !applied {
		t.Fatalf("expire: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkRefunding(context.Background(), "camp-1", sweepAt); err != nil || !applied {
		t.Fatalf("mark refunding: applied=%v err=%v", applied, err)
	}

	refundable, err := store.ListRefundableContributions(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("list refundable: %v", err)
	}
	if len(refundable) != 2 {
		t.Fatalf("refundable len = %d, want 2 (void contributions are never refunded)", len(refundable))
	}

	for _, contribution := range refundable {
		applied, err := store.MarkRefundPending(context.Background(), contribution.ID, sweepAt)
		if err != nil {
			t.Fatalf("mark refund pending %s: %v", contribution.ID, err)
		}
		if !applied {
			t.Fatalf("refund pending should apply to confirmed contribution %s", contribution.ID)
		}
	}

	// A second sweep of the same campaign finds nothing left to enqueue.
	refundable, err = store.ListRefundableContributions(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("second list refundable: %v", err)
	}
	if len(refundable) != 0 {
		t.Fatalf("second sweep refundable len = %d, want 0", len(refundable))
	}
	if applied, err := store.MarkRefundPending(context.Background(), "c-1", sweepAt); err != nil || applied {
		t.Fatalf("second refund pending: applied=%v err=%v, want no-op", applied, err)
	}

	// The campaign stays refunding until every refund settles.
	if applied, err := store.CloseIfRefundsSettled(context.Background(), "camp-1", sweepAt); err != nil || applied {
		t.Fatalf("close with refunds in flight: applied=%v err=%v", applied, err)
	}

	if applied, err := store.MarkRefunded(context.Background(), "c-1", sweepAt.Add(time.Minute)); err != nil || !applied {
		t.Fatalf("mark refunded c-1: applied=%v err=%v", applied, err)
	}
	if applied, err := store.CloseIfRefundsSettled(context.Background(), "camp-1", sweepAt.Add(time.Minute)); err != nil || applied {
		t.Fatalf("close with one refund in flight: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkRefunded(context.Background(), "c-2", sweepAt.Add(2*time.Minute)); err != nil || !applied {
		t.Fatalf("mark refunded c-2: applied=%v err=%v", applied, err)
	}

	applied, err := store.CloseIfRefundsSettled(context.Background(), "camp-1", sweepAt.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("close settled: %v", err)
	}
	if !applied {
		t.Fatal("campaign should close once every refund settled")
	}

	campaign, err := store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.Status != giftpool.CampaignStatusClosed {
		t.Fatalf("status = %v, want closed", campaign.Status)
	}
}

func TestExpiredCampaignWithoutContributionsClosesImmediately(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	seedCampaign(t, store, "camp-1", "100", giftpool.CampaignStatusOpen, &deadline, now)

	sweepAt := now.Add(2 * time.Hour)
	if applied, err := store.ExpireCampaign(context.Background(), "camp-1", sweepAt); err != nil || !applied {
		t.Fatalf("expire: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkRefunding(context.Background(), "camp-1", sweepAt); err != nil || !applied {
		t.Fatalf("mark refunding: applied=%v err=%v", applied, err)
	}
	applied, err := store.CloseIfRefundsSettled(context.Background(), "camp-1", sweepAt)
	if err != nil {
		t.Fatalf("close settled: %v", err)
	}
	if !applied {
		t.Fatal("campaign with no confirmed contributions should close on the first pass")
	}
}

func TestRefundingListIncludesStrandedExpiredCampaigns(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	seedCampaign(t, store, "camp-1", "100", giftpool.CampaignStatusOpen, &deadline, now)
	seedCampaign(t, store, "camp-2", "100", giftpool.CampaignStatusOpen, &deadline, now)
	seedCampaign(t, store, "camp-3", "100", giftpool.CampaignStatusOpen, nil, now)

	// camp-1 got stuck in expired; camp-2 made it to refunding.
	sweepAt := now.Add(2 * time.Hour)
	if applied, err := store.ExpireCampaign(context.Background(), "camp-1", sweepAt); err != nil || !applied {
		t.Fatalf("expire camp-1: applied=%v err=%v", applied, err)
	}
	if applied, err := store.ExpireCampaign(context.Background(), "camp-2", sweepAt); err != nil || !applied {
		t.Fatalf("expire camp-2: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkRefunding(context.Background(), "camp-2", sweepAt); err != nil || !applied {
		t.Fatalf("mark camp-2 refunding: applied=%v err=%v", applied, err)
	}

	got, err := store.ListRefundingCampaigns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list refunding: %v", err)
	}
	ids := map[string]giftpool.CampaignStatus{}
	for _, campaign := range got {
		ids[campaign.ID] = campaign.Status
	}
	if len(ids) != 2 {
		t.Fatalf("listed %d campaigns, want 2: %v", len(ids), ids)
	}
	if ids["camp-1"] != giftpool.CampaignStatusExpired {
		t.Fatalf("camp-1 status = %v, want expired", ids["camp-1"])
	}
	if ids["camp-2"] != giftpool.CampaignStatusRefunding {
		t.Fatalf("camp-2 status = %v, want refunding", ids["camp-2"])
	}
}

func TestCloseFundedCampaignAndOrderFailure(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-1", "50", giftpool.CampaignStatusOpen, nil, now)
	seedContribution(t, store, "c-1", "camp-1", "alice@example.com", "50", now)

	if _, err := store.ConfirmContribution(context.Background(), "c-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := store.RecordOrderFailure(context.Background(), "camp-1", "registry upstream timeout", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("record order failure: %v", err)
	}
	campaign, err := store.GetCampaign(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.Status != giftpool.CampaignStatusFunded {
		t.Fatalf("status after order failure = %v, want funded", campaign.Status)
	}
	if campaign.LastOrderError != "registry upstream timeout" {
		t.Fatalf("last_order_error = %q", campaign.LastOrderError)
	}

	if applied, err := store.CloseFundedCampaign(context.Background(), "camp-1", now.Add(3*time.Minute)); err != nil || !applied {
		t.Fatalf("close funded: applied=%v err=%v", applied, err)
	}
	if applied, err := store.CloseFundedCampaign(context.Background(), "camp-1", now.Add(4*time.Minute)); err != nil || applied {
		t.Fatalf("second close funded: applied=%v err=%v, want no-op", applied, err)
	}

	if err := store.RecordOrderFailure(context.Background(), "missing", "x", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("order failure on missing campaign err = %v, want ErrNotFound", err)
	}
}

func TestListContributionsOrderAndAggregate(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	seedCampaign(t, store, "camp-1", "500", giftpool.CampaignStatusOpen, nil, now)
	seedContribution(t, store, "c-1", "camp-1", "alice@example.com", "10.50", now)
	seedContribution(t, store, "c-2", "camp-1", "alice@example.com", "4.50", now.Add(time.Minute))
	seedContribution(t, store, "c-3", "camp-1", "bob@example.com", "20", now.Add(2*time.Minute))

	for _, id := range []string{"c-1", "c-2", "c-3"} {
		if _, err := store.ConfirmContribution(context.Background(), id, now.Add(3*time.Minute)); err != nil {
			t.Fatalf("confirm %s: %v", id, err)
		}
	}

	contributions, err := store.ListContributions(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("list contributions: %v", err)
	}
	if len(contributions) != 3 {
		t.Fatalf("contributions len = %d, want 3", len(contributions))
	}
	if contributions[0].ID != "c-1" || contributions[2].ID != "c-3" {
		t.Fatalf("contributions out of order: %s, %s, %s",
			contributions[0].ID, contributions[1].ID, contributions[2].ID)
	}

	aggregate, err := store.GetAggregate(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if aggregate.CurrentAmount != "35" {
		t.Fatalf("aggregate total = %s, want 35", aggregate.CurrentAmount)
	}
	if aggregate.ContributorCount != 2 {
		t.Fatalf("contributor count = %d, want 2 (alice contributed twice)", aggregate.ContributorCount)
	}

	if _, err := store.GetAggregate(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("aggregate for missing campaign err = %v, want ErrNotFound", err)
	}
}
