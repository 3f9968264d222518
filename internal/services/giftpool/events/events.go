// Package events defines the broker contract between the giftpool engine and
// its payment and ordering peers: outbound order placements and refund
// requests, inbound capture, refund, and fulfillment results.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/platform/mq"
)

// Broker topics. Outbound messages are keyed by campaign id so per-campaign
// ordering survives partitioning.
const (
	TopicOrderPlace        = "giftpool.order.place"
	TopicRefundRequest     = "giftpool.refund.request"
	TopicCaptureResult     = "payments.capture.result"
	TopicRefundCompleted   = "payments.refund.completed"
	TopicFulfillmentResult = "orders.fulfillment.result"
)

// OrderPlacement asks the order system to purchase the registry item for a
// funded campaign.
type OrderPlacement struct {
	CampaignID     string    `json:"campaign_id"`
	RegistryItemID string    `json:"registry_item_id"`
	Amount         string    `json:"amount"`
	TriggeredAt    time.Time `json:"triggered_at"`
}

// RefundRequest asks the payment system to return one captured contribution.
type RefundRequest struct {
	ContributionID      string `json:"contribution_id"`
	CampaignID          string `json:"campaign_id"`
	ContributorIdentity string `json:"contributor_identity"`
	Amount              string `json:"amount"`
}

// CaptureResult reports the payment system's verdict on a pending
// contribution.
type CaptureResult struct {
	ContributionID string `json:"contribution_id"`
	Succeeded      bool   `json:"succeeded"`
	Reason         string `json:"reason,omitempty"`
}

// RefundCompleted reports that a requested refund settled.
type RefundCompleted struct {
	ContributionID string `json:"contribution_id"`
}

// FulfillmentResult reports the order system's verdict on an order placement.
type FulfillmentResult struct {
	CampaignID string `json:"campaign_id"`
	Succeeded  bool   `json:"succeeded"`
	Message    string `json:"message,omitempty"`
}

// OrderPublisher publishes order placements for funded campaigns.
type OrderPublisher struct {
	publisher mq.Publisher
}

// NewOrderPublisher wraps a broker publisher as an order placer.
func NewOrderPublisher(publisher mq.Publisher) *OrderPublisher {
	return &OrderPublisher{publisher: publisher}
}

// PlaceOrder emits one order placement message for the campaign.
func (p *OrderPublisher) PlaceOrder(ctx context.Context, campaign giftpool.Campaign) error {
	if p == nil || p.publisher == nil {
		return fmt.Errorf("order publisher is not configured")
	}
	triggeredAt := time.Now().UTC()
	if campaign.CompletionTriggeredAt != nil {
		triggeredAt = *campaign.CompletionTriggeredAt
	}
	payload, err := json.Marshal(OrderPlacement{
		CampaignID:     campaign.ID,
		RegistryItemID: campaign.RegistryItemID,
		Amount:         campaign.CurrentAmount.String(),
		TriggeredAt:    triggeredAt,
	})
	if err != nil {
		return fmt.Errorf("encode order placement: %w", err)
	}
	return p.publisher.Publish(ctx, TopicOrderPlace, []byte(campaign.ID), payload)
}

// RefundPublisher publishes refund requests for expired campaigns.
type RefundPublisher struct {
	publisher mq.Publisher
}

// NewRefundPublisher wraps a broker publisher as a refund enqueuer.
func NewRefundPublisher(publisher mq.Publisher) *RefundPublisher {
	return &RefundPublisher{publisher: publisher}
}

// EnqueueRefund emits one refund request for the contribution.
func (p *RefundPublisher) EnqueueRefund(ctx context.Context, contribution giftpool.Contribution) error {
	if p == nil || p.publisher == nil {
		return fmt.Errorf("refund publisher is not configured")
	}
	payload, err := json.Marshal(RefundRequest{
		ContributionID:      contribution.ID,
		CampaignID:          contribution.CampaignID,
		ContributorIdentity: contribution.ContributorIdentity,
		Amount:              contribution.Amount.String(),
	})
	if err != nil {
		return fmt.Errorf("encode refund request: %w", err)
	}
	return p.publisher.Publish(ctx, TopicRefundRequest, []byte(contribution.CampaignID), payload)
}
