package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/services/giftpool/storage"
)

const contributionColumns = `
	id,
	campaign_id,
	contributor_identity,
	amount,
	status,
	void_reason,
	created_at,
	updated_at
`

// InsertContribution appends one pending contribution. The owning campaign's
// open status is checked inside the same transaction as the insert so there
// is no window where a contribution lands on a campaign that just left open.
func (s *Store) InsertContribution(ctx context.Context, contribution giftpool.Contribution) error {
	contribution.ID = strings.TrimSpace(contribution.ID)
	if contribution.ID == "" {
		return fmt.Errorf("contribution id is required")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		campaign, err := getCampaignTx(tx, contribution.CampaignID)
		if err != nil {
			return err
		}
		if campaign.Status != giftpool.CampaignStatusOpen {
			return storage.ErrCampaignNotOpen
		}

		_, err = tx.Exec(`
INSERT INTO contributions (`+contributionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
			contribution.ID,
			contribution.CampaignID,
			contribution.ContributorIdentity,
			contribution.Amount.String(),
			giftpool.ContributionStatusLabel(contribution.Status),
			contribution.VoidReason,
			toMillis(contribution.CreatedAt),
			toMillis(contribution.UpdatedAt),
		)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert contribution: %w", mapBusy(err))
		}
		return nil
	})
}

// GetContribution loads one contribution by id.
func (s *Store) GetContribution(ctx context.Context, contributionID string) (giftpool.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return giftpool.Contribution{}, err
	}
	if s == nil || s.sqlDB == nil {
		return giftpool.Contribution{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+contributionColumns+`
FROM contributions
WHERE id = ?
`, strings.TrimSpace(contributionID))
	return scanContribution(row)
}

// ListContributions lists a campaign's contributions oldest first.
func (s *Store) ListContributions(ctx context.Context, campaignID string) ([]giftpool.Contribution, error) {
	return s.listContributionsWhere(ctx, campaignID, "")
}

// ListRefundableContributions returns the campaign's confirmed contributions
// that have no refund instruction yet.
func (s *Store) ListRefundableContributions(ctx context.Context, campaignID string) ([]giftpool.Contribution, error) {
	return s.listContributionsWhere(ctx, campaignID, "AND status = 'confirmed'")
}

func (s *Store) listContributionsWhere(ctx context.Context, campaignID string, statusClause string) ([]giftpool.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+contributionColumns+`
FROM contributions
WHERE campaign_id = ? `+statusClause+`
ORDER BY created_at ASC, id ASC
`, strings.TrimSpace(campaignID))
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", mapBusy(err))
	}
	defer rows.Close()

	var contributions []giftpool.Contribution
	for rows.Next() {
		contribution, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, contribution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return contributions, nil
}

// ConfirmContribution atomically confirms a pending contribution, recomputes
// the campaign total from confirmed rows, and performs the funded transition
// plus the completion-trigger compare-and-set when the total crosses the
// target. The whole decision runs in one transaction: concurrent confirms
// cannot both observe a stale total, and only one can win the trigger.
func (s *Store) ConfirmContribution(ctx context.Context, contributionID string, now time.Time) (storage.ConfirmOutcome, error) {
	var outcome storage.ConfirmOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		contribution, err := getContributionTx(tx, contributionID)
		if err != nil {
			return err
		}
		campaign, err := getCampaignTx(tx, contribution.CampaignID)
		if err != nil {
			return err
		}

		switch contribution.Status {
		case giftpool.ContributionStatusConfirmed,
			giftpool.ContributionStatusRefundPending,
			giftpool.ContributionStatusRefunded:
			// Replayed capture signal: report current state, count nothing twice.
			outcome = storage.ConfirmOutcome{
				Campaign:         campaign,
				Contribution:     contribution,
				AlreadyConfirmed: true,
			}
			return nil
		case giftpool.ContributionStatusVoid:
			return storage.ErrAlreadyVoided
		}

		// A capture can complete after the campaign is funded; that money was
		// legitimately taken and still counts. Expired and later states no
		// longer accept confirmations.
		if campaign.Status != giftpool.CampaignStatusOpen &&
			campaign.Status != giftpool.CampaignStatusFunded {
			return storage.ErrCampaignNotOpen
		}

		if _, err := tx.Exec(`
UPDATE contributions SET status = 'confirmed', updated_at = ? WHERE id = ?
`, toMillis(now), contribution.ID); err != nil {
			return fmt.Errorf("confirm contribution: %w", mapBusy(err))
		}
		contribution.Status = giftpool.ContributionStatusConfirmed
		contribution.UpdatedAt = now.UTC()

		total, err := sumConfirmedTx(tx, campaign.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
UPDATE campaigns SET current_amount = ?, updated_at = ? WHERE id = ?
`, total.String(), toMillis(now), campaign.ID); err != nil {
			return fmt.Errorf("update campaign total: %w", mapBusy(err))
		}
		campaign.CurrentAmount = total
		campaign.UpdatedAt = now.UTC()

		outcome = storage.ConfirmOutcome{Campaign: campaign, Contribution: contribution}

		if campaign.Status == giftpool.CampaignStatusOpen &&
			total.GreaterThanOrEqual(campaign.TargetAmount) {
			result, err := tx.Exec(`
UPDATE campaigns
SET status = 'funded', completion_triggered_at = ?, updated_at = ?
WHERE id = ? AND status = 'open' AND completion_triggered_at IS NULL
`, toMillis(now), toMillis(now), campaign.ID)
			if err != nil {
				return fmt.Errorf("mark campaign funded: %w", mapBusy(err))
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("mark funded rows affected: %w", err)
			}
			if affected == 1 {
				triggeredAt := now.UTC()
				outcome.Campaign.Status = giftpool.CampaignStatusFunded
				outcome.Campaign.CompletionTriggeredAt = &triggeredAt
				outcome.BecameFunded = true
			}
		}
		return nil
	})
	if err != nil {
		return storage.ConfirmOutcome{}, err
	}
	return outcome, nil
}

// VoidContribution marks a still-pending contribution void.
func (s *Store) VoidContribution(ctx context.Context, contributionID string, reason string, now time.Time) (giftpool.Contribution, error) {
	var voided giftpool.Contribution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		contribution, err := getContributionTx(tx, contributionID)
		if err != nil {
			return err
		}
		switch contribution.Status {
		case giftpool.ContributionStatusVoid:
			return storage.ErrAlreadyVoided
		case giftpool.ContributionStatusPending:
		default:
			return storage.ErrAlreadyConfirmed
		}

		if _, err := tx.Exec(`
UPDATE contributions SET status = 'void', void_reason = ?, updated_at = ? WHERE id = ?
`, strings.TrimSpace(reason), toMillis(now), contribution.ID); err != nil {
			return fmt.Errorf("void contribution: %w", mapBusy(err))
		}
		contribution.Status = giftpool.ContributionStatusVoid
		contribution.VoidReason = strings.TrimSpace(reason)
		contribution.UpdatedAt = now.UTC()
		voided = contribution
		return nil
	})
	if err != nil {
		return giftpool.Contribution{}, err
	}
	return voided, nil
}

// MarkRefundPending records that a refund instruction was handed to the
// payment system. The status predicate keeps re-enqueueing idempotent.
func (s *Store) MarkRefundPending(ctx context.Context, contributionID string, now time.Time) (bool, error) {
	return s.updateContributionStatus(ctx, contributionID, "confirmed", "refund_pending", now)
}

// MarkRefunded records the external refund completion signal.
func (s *Store) MarkRefunded(ctx context.Context, contributionID string, now time.Time) (bool, error) {
	return s.updateContributionStatus(ctx, contributionID, "refund_pending", "refunded", now)
}

func (s *Store) updateContributionStatus(ctx context.Context, contributionID, from, to string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	contributionID = strings.TrimSpace(contributionID)
	if contributionID == "" {
		return false, fmt.Errorf("contribution id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE contributions
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
`, to, toMillis(now), contributionID, from)
	if err != nil {
		return false, fmt.Errorf("transition contribution %s -> %s: %w", from, to, mapBusy(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("contribution transition rows affected: %w", err)
	}
	return affected == 1, nil
}

// GetAggregate returns the committed confirmed-sum and distinct contributor
// count for the campaign.
func (s *Store) GetAggregate(ctx context.Context, campaignID string) (storage.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return storage.Aggregate{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Aggregate{}, fmt.Errorf("storage is not configured")
	}
	campaignID = strings.TrimSpace(campaignID)

	var exists int
	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT 1 FROM campaigns WHERE id = ?", campaignID,
	).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Aggregate{}, storage.ErrNotFound
		}
		return storage.Aggregate{}, fmt.Errorf("check campaign: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT amount, contributor_identity
FROM contributions
WHERE campaign_id = ? AND status = 'confirmed'
`, campaignID)
	if err != nil {
		return storage.Aggregate{}, fmt.Errorf("load confirmed contributions: %w", mapBusy(err))
	}
	defer rows.Close()

	total := decimal.Zero
	contributors := make(map[string]struct{})
	for rows.Next() {
		var amountValue, contributor string
		if err := rows.Scan(&amountValue, &contributor); err != nil {
			return storage.Aggregate{}, fmt.Errorf("scan confirmed contribution: %w", err)
		}
		amount, err := parseAmount(amountValue)
		if err != nil {
			return storage.Aggregate{}, err
		}
		total = total.Add(amount)
		contributors[contributor] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return storage.Aggregate{}, fmt.Errorf("iterate confirmed contributions: %w", err)
	}

	return storage.Aggregate{
		CurrentAmount:    total.String(),
		ContributorCount: len(contributors),
	}, nil
}

func getCampaignTx(tx *sql.Tx, campaignID string) (giftpool.Campaign, error) {
	row := tx.QueryRow(`
SELECT `+campaignColumns+`
FROM campaigns
WHERE id = ?
`, strings.TrimSpace(campaignID))
	return scanCampaign(row)
}

func getContributionTx(tx *sql.Tx, contributionID string) (giftpool.Contribution, error) {
	row := tx.QueryRow(`
SELECT `+contributionColumns+`
FROM contributions
WHERE id = ?
`, strings.TrimSpace(contributionID))
	return scanContribution(row)
}

func sumConfirmedTx(tx *sql.Tx, campaignID string) (decimal.Decimal, error) {
	rows, err := tx.Query(`
SELECT amount FROM contributions WHERE campaign_id = ? AND status = 'confirmed'
`, campaignID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("sum confirmed contributions: %w", mapBusy(err))
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amountValue string
		if err := rows.Scan(&amountValue); err != nil {
			return decimal.Decimal{}, fmt.Errorf("scan confirmed amount: %w", err)
		}
		amount, err := parseAmount(amountValue)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Decimal{}, fmt.Errorf("iterate confirmed amounts: %w", err)
	}
	return total, nil
}

func scanContribution(row rowScanner) (giftpool.Contribution, error) {
	var (
		contribution giftpool.Contribution
		amountValue  string
		statusLabel  string
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&contribution.ID,
		&contribution.CampaignID,
		&contribution.ContributorIdentity,
		&amountValue,
		&statusLabel,
		&contribution.VoidReason,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return giftpool.Contribution{}, storage.ErrNotFound
	}
	if err != nil {
		return giftpool.Contribution{}, fmt.Errorf("scan contribution: %w", err)
	}

	if contribution.Amount, err = parseAmount(amountValue); err != nil {
		return giftpool.Contribution{}, err
	}
	if contribution.Status, err = giftpool.ParseContributionStatus(statusLabel); err != nil {
		return giftpool.Contribution{}, err
	}
	contribution.CreatedAt = fromMillis(createdAt)
	contribution.UpdatedAt = fromMillis(updatedAt)
	return contribution, nil
}

var _ storage.Store = (*Store)(nil)
