package giftpool

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func staticID(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func TestCreateCampaign(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(72 * time.Hour)

	campaign, err := CreateCampaign(CreateCampaignInput{
		RegistryItemID: "  registry-item-1  ",
		TargetAmount:   decimal.RequireFromString("150.00"),
		Deadline:       &deadline,
	}, fixedClock(now), staticID("camp-1"))
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if campaign.ID != "camp-1" {
		t.Fatalf("id = %q, want camp-1", campaign.ID)
	}
	if campaign.RegistryItemID != "registry-item-1" {
		t.Fatalf("registry item = %q, want trimmed registry-item-1", campaign.RegistryItemID)
	}
	if campaign.Status != CampaignStatusOpen {
		t.Fatalf("status = %v, want open", campaign.Status)
	}
	if !campaign.CurrentAmount.IsZero() {
		t.Fatalf("current amount = %s, want 0", campaign.CurrentAmount)
	}
	if campaign.Deadline == nil || !campaign.Deadline.Equal(deadline) {
		t.Fatalf("deadline = %v, want %v", campaign.Deadline, deadline)
	}
	if !campaign.CreatedAt.Equal(now) || !campaign.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps = %v / %v, want %v", campaign.CreatedAt, campaign.UpdatedAt, now)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	cases := []struct {
		name  string
		input CreateCampaignInput
		want  error
	}{
		{
			name: "missing registry item",
			input: CreateCampaignInput{
				TargetAmount: decimal.RequireFromString("10"),
			},
			want: ErrEmptyRegistryItem,
		},
		{
			name: "zero target",
			input: CreateCampaignInput{
				RegistryItemID: "registry-item-1",
				TargetAmount:   decimal.Zero,
			},
			want: ErrInvalidAmount,
		},
		{
			name: "negative target",
			input: CreateCampaignInput{
				RegistryItemID: "registry-item-1",
				TargetAmount:   decimal.RequireFromString("-5"),
			},
			want: ErrInvalidAmount,
		},
		{
			name: "deadline in the past",
			input: CreateCampaignInput{
				RegistryItemID: "registry-item-1",
				TargetAmount:   decimal.RequireFromString("10"),
				Deadline:       &past,
			},
			want: ErrInvalidDeadline,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := CreateCampaign(tc.input, fixedClock(now), staticID("camp-1")); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCampaignStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to CampaignStatus }{
		{CampaignStatusOpen, CampaignStatusFunded},
		{CampaignStatusOpen, CampaignStatusExpired},
		{CampaignStatusFunded, CampaignStatusClosed},
		{CampaignStatusExpired, CampaignStatusRefunding},
		{CampaignStatusRefunding, CampaignStatusClosed},
	}
	for _, tc := range allowed {
		if !IsCampaignStatusTransitionAllowed(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be allowed", CampaignStatusLabel(tc.from), CampaignStatusLabel(tc.to))
		}
	}

	denied := []struct{ from, to CampaignStatus }{
		{CampaignStatusFunded, CampaignStatusOpen},
		{CampaignStatusFunded, CampaignStatusExpired},
		{CampaignStatusExpired, CampaignStatusOpen},
		{CampaignStatusExpired, CampaignStatusFunded},
		{CampaignStatusRefunding, CampaignStatusOpen},
		{CampaignStatusClosed, CampaignStatusOpen},
		{CampaignStatusOpen, CampaignStatusClosed},
	}
	for _, tc := range denied {
		if IsCampaignStatusTransitionAllowed(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be denied", CampaignStatusLabel(tc.from), CampaignStatusLabel(tc.to))
		}
	}
}

func TestTransitionCampaignStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	campaign := Campaign{ID: "camp-1", Status: CampaignStatusOpen, UpdatedAt: now}

	funded, err := TransitionCampaignStatus(campaign, CampaignStatusFunded, fixedClock(later))
	if err != nil {
		t.Fatalf("transition to funded: %v", err)
	}
	if funded.Status != CampaignStatusFunded || !funded.UpdatedAt.Equal(later) {
		t.Fatalf("funded = %+v", funded)
	}

	if _, err := TransitionCampaignStatus(campaign, CampaignStatusRefunding, fixedClock(later)); !errors.Is(err, ErrInvalidCampaignStatusTransition) {
		t.Fatalf("open -> refunding err = %v, want ErrInvalidCampaignStatusTransition", err)
	}

	// Transitions out of closed are an idempotent no-op.
	closed := Campaign{ID: "camp-1", Status: CampaignStatusClosed, UpdatedAt: now}
	got, err := TransitionCampaignStatus(closed, CampaignStatusOpen, fixedClock(later))
	if err != nil {
		t.Fatalf("closed no-op: %v", err)
	}
	if got.Status != CampaignStatusClosed || !got.UpdatedAt.Equal(now) {
		t.Fatalf("closed no-op changed the campaign: %+v", got)
	}
}

func TestCampaignStatusLabelsRoundTrip(t *testing.T) {
	t.Parallel()

	statuses := []CampaignStatus{
		CampaignStatusOpen,
		CampaignStatusFunded,
		CampaignStatusExpired,
		CampaignStatusRefunding,
		CampaignStatusClosed,
	}
	for _, status := range statuses {
		parsed, err := ParseCampaignStatus(CampaignStatusLabel(status))
		if err != nil {
			t.Fatalf("parse %q: %v", CampaignStatusLabel(status), err)
		}
		if parsed != status {
			t.Fatalf("round trip %v -> %v", status, parsed)
		}
	}
	if _, err := ParseCampaignStatus("bogus"); err == nil {
		t.Fatal("parse bogus should fail")
	}
}

func TestCampaignIsExpirable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	base := Campaign{
		Status:        CampaignStatusOpen,
		TargetAmount:  decimal.RequireFromString("100"),
		CurrentAmount: decimal.RequireFromString("40"),
		Deadline:      &deadline,
	}
	if !base.IsExpirable(now) {
		t.Fatal("open under-target campaign past deadline should be expirable")
	}

	funded := base
	funded.CurrentAmount = decimal.RequireFromString("100")
	if funded.IsExpirable(now) {
		t.Fatal("campaign at target must not be expirable")
	}

	noDeadline := base
	noDeadline.Deadline = nil
	if noDeadline.IsExpirable(now) {
		t.Fatal("campaign without a deadline never expires")
	}

	early := base
	early.Deadline = &future
	if early.IsExpirable(now) {
		t.Fatal("campaign before its deadline must not be expirable")
	}

	expired := base
	expired.Status = CampaignStatusExpired
	if expired.IsExpirable(now) {
		t.Fatal("already-expired campaign must not be expirable")
	}
}
