package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/services/giftpool/storage"
)

const campaignColumns = `
	id,
	registry_item_id,
	target_amount,
	current_amount,
	status,
	deadline,
	completion_triggered_at,
	last_order_error,
	created_at,
	updated_at
`

// PutCampaign persists one campaign row.
func (s *Store) PutCampaign(ctx context.Context, campaign giftpool.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	campaign.ID = strings.TrimSpace(campaign.ID)
	if campaign.ID == "" {
		return fmt.Errorf("campaign id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO campaigns (`+campaignColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		campaign.ID,
		campaign.RegistryItemID,
		campaign.TargetAmount.String(),
		campaign.CurrentAmount.String(),
		giftpool.CampaignStatusLabel(campaign.Status),
		toNullMillis(campaign.Deadline),
		toNullMillis(campaign.CompletionTriggeredAt),
		campaign.LastOrderError,
		toMillis(campaign.CreatedAt),
		toMillis(campaign.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return storage.ErrConflict
		}
		return fmt.Errorf("put campaign: %w", mapBusy(err))
	}
	return nil
}

// GetCampaign loads one campaign by id.
func (s *Store) GetCampaign(ctx context.Context, campaignID string) (giftpool.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return giftpool.Campaign{}, err
	}
	if s == nil || s.sqlDB == nil {
		return giftpool.Campaign{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+campaignColumns+`
FROM campaigns
WHERE id = ?
`, strings.TrimSpace(campaignID))
	return scanCampaign(row)
}

// ListExpirableCampaigns returns open campaigns whose deadline passed and
// whose cached total is still under target, oldest deadline first.
func (s *Store) ListExpirableCampaigns(ctx context.Context, now time.Time, limit int) ([]giftpool.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+campaignColumns+`
FROM campaigns
WHERE status = 'open' AND deadline IS NOT NULL AND deadline <= ?
ORDER BY deadline ASC, id ASC
LIMIT ?
`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable campaigns: %w", mapBusy(err))
	}
	defer rows.Close()

	campaigns, err := collectCampaigns(rows)
	if err != nil {
		return nil, err
	}

	// The under-target comparison happens on decoded decimals; amounts are
	// stored as canonical strings which do not compare numerically in SQL.
	expirable := campaigns[:0]
	for _, campaign := range campaigns {
		if campaign.CurrentAmount.LessThan(campaign.TargetAmount) {
			expirable = append(expirable, campaign)
		}
	}
	return expirable, nil
}

// ListRefundingCampaigns returns campaigns owing refunds: those already
// refunding plus expired ones an interrupted sweep never marked refunding.
func (s *Store) ListRefundingCampaigns(ctx context.Context, limit int) ([]giftpool.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+campaignColumns+`
FROM campaigns
WHERE status IN ('expired', 'refunding')
ORDER BY updated_at ASC, id ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list refunding campaigns: %w", mapBusy(err))
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// ExpireCampaign transitions open -> expired. The status predicate in the
// update is the tie-break against a racing funding confirmation: once a
// confirm commits funded, this update matches zero rows.
func (s *Store) ExpireCampaign(ctx context.Context, campaignID string, now time.Time) (bool, error) {
	return s.transitionStatus(ctx, campaignID, "open", "expired", now)
}

// MarkRefunding transitions expired -> refunding.
func (s *Store) MarkRefunding(ctx context.Context, campaignID string, now time.Time) (bool, error) {
	return s.transitionStatus(ctx, campaignID, "expired", "refunding", now)
}

// CloseFundedCampaign transitions funded -> closed after order success.
func (s *Store) CloseFundedCampaign(ctx context.Context, campaignID string, now time.Time) (bool, error) {
	return s.transitionStatus(ctx, campaignID, "funded", "closed", now)
}

func (s *Store) transitionStatus(ctx context.Context, campaignID, from, to string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return false, fmt.Errorf("campaign id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE campaigns
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
`, to, toMillis(now), campaignID, from)
	if err != nil {
		return false, fmt.Errorf("transition campaign %s -> %s: %w", from, to, mapBusy(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return affected == 1, nil
}

// CloseIfRefundsSettled transitions refunding -> closed once every owned
// contribution has left the confirmed and refund-pending states. The
// emptiness check and the update share one statement so a late refund signal
// cannot interleave.
func (s *Store) CloseIfRefundsSettled(ctx context.Context, campaignID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return false, fmt.Errorf("campaign id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE campaigns
SET status = 'closed', updated_at = ?
WHERE id = ? AND status = 'refunding'
  AND NOT EXISTS (
    SELECT 1 FROM contributions
    WHERE campaign_id = campaigns.id
      AND status IN ('confirmed', 'refund_pending')
  )
`, toMillis(now), campaignID)
	if err != nil {
		return false, fmt.Errorf("close settled campaign: %w", mapBusy(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close settled rows affected: %w", err)
	}
	return affected == 1, nil
}

// RecordOrderFailure stores the latest downstream order error. The campaign
// stays funded; captured funds are never un-confirmed by an order failure.
func (s *Store) RecordOrderFailure(ctx context.Context, campaignID string, message string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return fmt.Errorf("campaign id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE campaigns
SET last_order_error = ?, updated_at = ?
WHERE id = ?
`, strings.TrimSpace(message), toMillis(now), campaignID)
	if err != nil {
		return fmt.Errorf("record order failure: %w", mapBusy(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record order failure rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (giftpool.Campaign, error) {
	var (
		campaign              giftpool.Campaign
		targetAmount          string
		currentAmount         string
		statusLabel           string
		deadline              sql.NullInt64
		completionTriggeredAt sql.NullInt64
		createdAt             int64
		updatedAt             int64
	)
	err := row.Scan(
		&campaign.ID,
		&campaign.RegistryItemID,
		&targetAmount,
		&currentAmount,
		&statusLabel,
		&deadline,
		&completionTriggeredAt,
		&campaign.LastOrderError,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return giftpool.Campaign{}, storage.ErrNotFound
	}
	if err != nil {
		return giftpool.Campaign{}, fmt.Errorf("scan campaign: %w", err)
	}

	if campaign.TargetAmount, err = parseAmount(targetAmount); err != nil {
		return giftpool.Campaign{}, err
	}
	if campaign.CurrentAmount, err = parseAmount(currentAmount); err != nil {
		return giftpool.Campaign{}, err
	}
	if campaign.Status, err = giftpool.ParseCampaignStatus(statusLabel); err != nil {
		return giftpool.Campaign{}, err
	}
	campaign.Deadline = fromNullMillis(deadline)
	campaign.CompletionTriggeredAt = fromNullMillis(completionTriggeredAt)
	campaign.CreatedAt = fromMillis(createdAt)
	campaign.UpdatedAt = fromMillis(updatedAt)
	return campaign, nil
}

func collectCampaigns(rows *sql.Rows) ([]giftpool.Campaign, error) {
	var campaigns []giftpool.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return campaigns, nil
}
