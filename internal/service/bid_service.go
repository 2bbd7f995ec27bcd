package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"workbridge/contracts/mq"
	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/internal/repository"
	"workbridge/pkg/rbac"
)

type BidService struct {
	bids     BidStore
	projects ProjectStore
	logger   *zap.Logger
}

func NewBidService(bids BidStore, projects ProjectStore, logger *zap.Logger) *BidService {
	return &BidService{bids: bids, projects: projects, logger: logger}
}

type SubmitBidInput struct {
	ProjectID        int     `json:"project_id"`
	Amount           float64 `json:"amount"`
	DeliveryTimeDays int     `json:"delivery_time_days"`
	CoverLetter      string  `json:"cover_letter"`
}

// Submit places a freelancer's bid on an open project. One bid per freelancer
// per project; the unique constraint turns a duplicate into CONFLICT.
func (s *BidService) Submit(ctx context.Context, p model.Principal, in SubmitBidInput) (*model.Bid, error) {
	if p.Role != rbac.RoleFreelancer {
		return nil, apperr.Forbidden(apperr.ReasonRoleNotAllowed, "only freelancers can bid")
	}
	project, err := s.projects.FindByID(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status != model.ProjectStatusOpen {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "project is not open for bids")
	}
	if project.OwnerID == p.UserID {
		return nil, apperr.Forbidden(apperr.ReasonRoleNotAllowed, "cannot bid on your own project")
	}
	if in.Amount <= 0 {
		return nil, apperr.Validation("bid amount must be positive")
	}
	if in.DeliveryTimeDays <= 0 {
		return nil, apperr.Validation("delivery time must be positive")
	}
	if strings.TrimSpace(in.CoverLetter) == "" {
		return nil, apperr.Validation("a cover letter is required")
	}

	b := &model.Bid{
		ProjectID:        in.ProjectID,
		FreelancerID:     p.UserID,
		Amount:           in.Amount,
		DeliveryTimeDays: in.DeliveryTimeDays,
		CoverLetter:      in.CoverLetter,
		Status:           model.BidStatusPending,
	}
	if err := s.bids.Insert(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BidService) ListByProject(ctx context.Context, p model.Principal, projectID int) ([]model.Bid, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && p.UserID != project.OwnerID {
		return nil, apperr.Forbidden(apperr.ReasonNotOwner, "only the project owner can list bids")
	}
	return s.bids.ListByProject(ctx, projectID)
}

// Shortlist moves a pending bid into the owner's shortlist.
func (s *BidService) Shortlist(ctx context.Context, p model.Principal, bidID int) error {
	b, err := s.authorizeDecision(ctx, p, bidID)
	if err != nil {
		return err
	}
	if b.Status != model.BidStatusPending {
		return apperr.InvalidState(apperr.ReasonInvalidSourceState, "only pending bids can be shortlisted")
	}
	return s.bids.UpdateStatus(ctx, bidID, []string{model.BidStatusPending}, model.BidStatusShortlisted)
}

// Reject declines a bid that has not been decided yet.
func (s *BidService) Reject(ctx context.Context, p model.Principal, bidID int) error {
	b, err := s.authorizeDecision(ctx, p, bidID)
	if err != nil {
		return err
	}
	if model.BidStatusDecided(b.Status) {
		return apperr.InvalidState(apperr.ReasonInvalidSourceState, "bid has already been decided")
	}
	return s.bids.UpdateStatus(ctx, bidID, []string{model.BidStatusPending, model.BidStatusShortlisted}, model.BidStatusRejected)
}

// Accept picks the winning bid: the bid is accepted, sibling bids rejected
// and the project moved to in_progress in one transaction. Accepting is the
// precondition for creating a contract.
func (s *BidService) Accept(ctx context.Context, p model.Principal, bidID int) (*model.Bid, error) {
	b, err := s.authorizeDecision(ctx, p, bidID)
	if err != nil {
		return nil, err
	}
	if model.BidStatusDecided(b.Status) {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "bid has already been decided")
	}

	events := []repository.OutboxEvent{
		notifyEvent(ctx, b.FreelancerID, mq.NotificationTypeBidAccepted,
			fmt.Sprintf("Your bid of %.2f has been accepted", b.Amount)),
	}
	if err := s.bids.Accept(ctx, b, events); err != nil {
		return nil, err
	}
	s.logger.Info("Bid accepted", zap.Int("bid_id", b.ID), zap.Int("project_id", b.ProjectID))
	return s.bids.FindByID(ctx, bidID)
}

func (s *BidService) authorizeDecision(ctx context.Context, p model.Principal, bidID int) (*model.Bid, error) {
	b, err := s.bids.FindByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.FindByID(ctx, b.ProjectID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && p.UserID != project.OwnerID {
		return nil, apperr.Forbidden(apperr.ReasonNotOwner, "only the project owner can decide bids")
	}
	return b, nil
}
