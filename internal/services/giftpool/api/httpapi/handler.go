// Package httpapi exposes the group-gift contribution engine over JSON HTTP,
// with server-sent events and WebSocket streams for live campaign progress.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giftwell/giftwell/internal/giftpool"
	"github.com/giftwell/giftwell/internal/services/giftpool/domain"
)

// Handler serves the giftpool HTTP API.
type Handler struct {
	svc *domain.Service
}

// NewHandler builds the giftpool route set.
func NewHandler(svc *domain.Service) http.Handler {
	h := &Handler{svc: svc}
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /campaigns", h.createCampaign)
	mux.HandleFunc("GET /campaigns/{campaignID}", h.getCampaign)
	mux.HandleFunc("GET /campaigns/{campaignID}/progress", h.getProgress)
	mux.HandleFunc("GET /campaigns/{campaignID}/contributions", h.listContributions)
	mux.HandleFunc("POST /campaigns/{campaignID}/contributions", h.recordContribution)
	mux.HandleFunc("POST /campaigns/{campaignID}/order/retry", h.retryOrder)
	mux.HandleFunc("GET /campaigns/{campaignID}/events", h.streamEvents)
	mux.HandleFunc("POST /contributions/{contributionID}/confirm", h.confirmContribution)
	mux.HandleFunc("POST /contributions/{contributionID}/void", h.voidContribution)
	mux.Handle("GET /ws", h.websocketHandler())

	return mux
}

type campaignResponse struct {
	ID                    string  `json:"id"`
	RegistryItemID        string  `json:"registry_item_id"`
	TargetAmount          string  `json:"target_amount"`
	CurrentAmount         string  `json:"current_amount"`
	Status                string  `json:"status"`
	Deadline              *string `json:"deadline,omitempty"`
	CompletionTriggeredAt *string `json:"completion_triggered_at,omitempty"`
	LastOrderError        string  `json:"last_order_error,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

type contributionResponse struct {
	ID                  string `json:"id"`
	CampaignID          string `json:"campaign_id"`
	ContributorIdentity string `json:"contributor_identity"`
	Amount              string `json:"amount"`
	Status              string `json:"status"`
	VoidReason          string `json:"void_reason,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

type snapshotResponse struct {
	CampaignID       string  `json:"campaign_id"`
	CurrentAmount    string  `json:"current_amount"`
	TargetAmount     string  `json:"target_amount"`
	ContributorCount int     `json:"contributor_count"`
	Status           string  `json:"status"`
	Deadline         *string `json:"deadline,omitempty"`
	GeneratedAt      string  `json:"generated_at"`
}

type confirmationResponse struct {
	Campaign         campaignResponse     `json:"campaign"`
	Contribution     contributionResponse `json:"contribution"`
	AlreadyConfirmed bool                 `json:"already_confirmed"`
	BecameFunded     bool                 `json:"became_funded"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type createCampaignRequest struct {
	RegistryItemID string  `json:"registry_item_id"`
	TargetAmount   string  `json:"target_amount"`
	Deadline       *string `json:"deadline,omitempty"`
}

type recordContributionRequest struct {
	ContributorIdentity string `json:"contributor_identity"`
	Amount              string `json:"amount"`
}

type voidContributionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	target, err := decimal.NewFromString(strings.TrimSpace(req.TargetAmount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "target_amount must be a decimal string")
		return
	}
	input := giftpool.CreateCampaignInput{
		RegistryItemID: req.RegistryItemID,
		TargetAmount:   target,
	}
	if req.Deadline != nil {
		deadline, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.Deadline))
		if err != nil {
			writeError(w, http.StatusBadRequest, "deadline must be RFC 3339")
			return
		}
		input.Deadline = &deadline
	}

	campaign, err := h.svc.CreateCampaign(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCampaignResponse(campaign))
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.svc.GetCampaign(r.Context(), r.PathValue("campaignID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.svc.Progress(r.Context(), r.PathValue("campaignID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(snapshot))
}

func (h *Handler) listContributions(w http.ResponseWriter, r *http.Request) {
	contributions, err := h.svc.ListContributions(r.Context(), r.PathValue("campaignID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	responses := make([]contributionResponse, 0, len(contributions))
	for _, contribution := range contributions {
		responses = append(responses, toContributionResponse(contribution))
	}
	writeJSON(w, http.StatusOK, map[string][]contributionResponse{"contributions": responses})
}

func (h *Handler) recordContribution(w http.ResponseWriter, r *http.Request) {
	var req recordContributionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}
	contribution, err := h.svc.RecordContribution(r.Context(), giftpool.NewContributionInput{
		CampaignID:          r.PathValue("campaignID"),
		ContributorIdentity: req.ContributorIdentity,
		Amount:              amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContributionResponse(contribution))
}

func (h *Handler) confirmContribution(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ConfirmContribution(r.Context(), r.PathValue("contributionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationResponse{
		Campaign:         toCampaignResponse(result.Campaign),
		Contribution:     toContributionResponse(result.Contribution),
		AlreadyConfirmed: result.AlreadyConfirmed,
		BecameFunded:     result.BecameFunded,
	})
}

func (h *Handler) voidContribution(w http.ResponseWriter, r *http.Request) {
	var req voidContributionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	contribution, err := h.svc.VoidContribution(r.Context(), r.PathValue("contributionID"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContributionResponse(contribution))
}

func (h *Handler) retryOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RetryOrderPlacement(r.Context(), r.PathValue("campaignID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, giftpool.ErrCampaignNotFound),
		errors.Is(err, giftpool.ErrContributionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, giftpool.ErrInvalidAmount),
		errors.Is(err, giftpool.ErrInvalidDeadline),
		errors.Is(err, giftpool.ErrEmptyRegistryItem),
		errors.Is(err, giftpool.ErrEmptyContributor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, giftpool.ErrCampaignNotOpen),
		errors.Is(err, giftpool.ErrCampaignNotFunded),
		errors.Is(err, giftpool.ErrAlreadyConfirmed),
		errors.Is(err, giftpool.ErrAlreadyVoided),
		errors.Is(err, giftpool.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("httpapi: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toCampaignResponse(campaign giftpool.Campaign) campaignResponse {
	return campaignResponse{
		ID:                    campaign.ID,
		RegistryItemID:        campaign.RegistryItemID,
		TargetAmount:          campaign.TargetAmount.String(),
		CurrentAmount:         campaign.CurrentAmount.String(),
		Status:                giftpool.CampaignStatusLabel(campaign.Status),
		Deadline:              formatOptionalTime(campaign.Deadline),
		CompletionTriggeredAt: formatOptionalTime(campaign.CompletionTriggeredAt),
		LastOrderError:        campaign.LastOrderError,
		CreatedAt:             campaign.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:             campaign.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toContributionResponse(contribution giftpool.Contribution) contributionResponse {
	return contributionResponse{
		ID:                  contribution.ID,
		CampaignID:          contribution.CampaignID,
		ContributorIdentity: contribution.ContributorIdentity,
		Amount:              contribution.Amount.String(),
		Status:              giftpool.ContributionStatusLabel(contribution.Status),
		VoidReason:          contribution.VoidReason,
		CreatedAt:           contribution.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           contribution.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toSnapshotResponse(snapshot giftpool.ProgressSnapshot) snapshotResponse {
	return snapshotResponse{
		CampaignID:       snapshot.CampaignID,
		CurrentAmount:    snapshot.CurrentAmount.String(),
		TargetAmount:     snapshot.TargetAmount.String(),
		ContributorCount: snapshot.ContributorCount,
		Status:           giftpool.CampaignStatusLabel(snapshot.Status),
		Deadline:         formatOptionalTime(snapshot.Deadline),
		GeneratedAt:      snapshot.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

func formatOptionalTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(time.RFC3339)
	return &formatted
}
