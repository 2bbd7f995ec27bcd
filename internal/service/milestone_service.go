package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"workbridge/contracts/mq"
	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/internal/policy"
	"workbridge/internal/repository"
	"workbridge/pkg/metrics"
)

type MilestoneService struct {
	contracts  ContractStore
	milestones MilestoneStore
	payments   PaymentStore
	progress   ProgressStore
	logger     *zap.Logger
}

func NewMilestoneService(contracts ContractStore, milestones MilestoneStore, payments PaymentStore, progress ProgressStore, logger *zap.Logger) *MilestoneService {
	return &MilestoneService{
		contracts:  contracts,
		milestones: milestones,
		payments:   payments,
		progress:   progress,
		logger:     logger,
	}
}

type RecordProgressInput struct {
	Description string `json:"description"`
	NewStatus   string `json:"new_status,omitempty"`
}

// RecordProgress appends a progress update and optionally moves the milestone
// along its lifecycle in the same transaction. Entering payment_requested
// creates the Payment row; the first in_progress stamps the contract's start
// date.
func (s *MilestoneService) RecordProgress(ctx context.Context, p model.Principal, milestoneID int, in RecordProgressInput) (*model.Milestone, error) {
	m, err := s.milestones.FindByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	c, err := s.contracts.FindByID(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}

	// Edge validity before authorization, same order as contract advance.
	if in.NewStatus == "" {
		if d := policy.MilestoneRecordProgress(p, c); !d.Allowed {
			return nil, apperr.Forbidden(d.Reason, "not allowed to record progress")
		}
	} else {
		if !model.ValidMilestoneStatus(in.NewStatus) {
			return nil, apperr.InvalidTransition(apperr.ReasonUnknownTransition, "unknown milestone status "+in.NewStatus)
		}
		if model.MilestoneStatusTerminal(m.Status) {
			return nil, apperr.InvalidTransition(apperr.ReasonTerminalState, "milestone is already "+m.Status)
		}
		if !model.MilestoneEdgeAllowed(m.Status, in.NewStatus) {
			return nil, apperr.InvalidTransition(apperr.ReasonInvalidSourceState,
				fmt.Sprintf("cannot move milestone from %s to %s", m.Status, in.NewStatus))
		}
		if d := policy.MilestoneTransition(p, c, in.NewStatus); !d.Allowed {
			return nil, apperr.Forbidden(d.Reason, "not allowed to change this milestone")
		}
	}

	if strings.TrimSpace(in.Description) == "" {
		return nil, apperr.Validation("progress description is required")
	}

	mut := &repository.ProgressMutation{
		FromStatus: m.Status,
	}

	if in.NewStatus != "" {
		if err := s.checkContractStage(c, in.NewStatus); err != nil {
			return nil, err
		}
		mut.ToStatus = in.NewStatus

		switch in.NewStatus {
		case model.MilestoneStatusInProgress:
			mut.SetContractStart = true
			mut.Events = append(mut.Events,
				notifyEvent(ctx, c.ClientID, mq.NotificationTypeMilestoneStarted,
					fmt.Sprintf("Work has started on milestone %q", m.Title)))

		case model.MilestoneStatusPaymentRequested:
			// 同一里程碑不允许并存两笔在途 payment
			active, err := s.payments.FindActiveByMilestone(ctx, milestoneID)
			if err != nil && !apperr.Is(err, apperr.CodeNotFound) {
				return nil, err
			}
			if active != nil {
				return nil, apperr.Conflict(apperr.ReasonDuplicate, "a payment is already in flight for this milestone")
			}
			mut.Payment = &model.Payment{
				ContractID:   c.ID,
				MilestoneID:  m.ID,
				ClientID:     c.ClientID,
				FreelancerID: c.FreelancerID,
				Amount:       m.Amount,
				Status:       model.PaymentStatusPending,
			}
			mut.Events = append(mut.Events,
				notifyEvent(ctx, c.ClientID, mq.NotificationTypePaymentRequested,
					fmt.Sprintf("Payment of %.2f requested for milestone %q", m.Amount, m.Title)))
		}
	}

	status := m.Status
	if mut.ToStatus != "" {
		status = mut.ToStatus
	}
	mut.Update = &model.ProgressUpdate{
		MilestoneID: m.ID,
		AuthorID:    p.UserID,
		Description: in.Description,
		Status:      status,
	}

	if err := s.milestones.ApplyProgress(ctx, m, mut); err != nil {
		return nil, err
	}
	if mut.ToStatus != "" {
		metrics.IncrementLifecycleTransition("milestone", mut.ToStatus)
	}
	return s.milestones.FindByID(ctx, milestoneID)
}

// checkContractStage enforces which contract stages permit milestone work.
// Work transitions happen while the contract is funded (payment) or under
// review; cancellation only needs a live contract.
func (s *MilestoneService) checkContractStage(c *model.Contract, target string) error {
	if target == model.MilestoneStatusCancelled {
		if model.ContractStageTerminal(c.Stage) {
			return apperr.InvalidState(apperr.ReasonInvalidSourceState, "contract is "+c.Stage)
		}
		return nil
	}
	switch c.Stage {
	case model.ContractStagePayment, model.ContractStageReview:
		return nil
	default:
		return apperr.InvalidState(apperr.ReasonInvalidSourceState,
			"milestones can only progress while the contract is in payment or review, not "+c.Stage)
	}
}

type MilestoneDetailsInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// UpdateDetails edits a pending milestone while the contract is still a
// proposal. The amount delta is applied to the contract total in the same
// transaction, keeping the sum invariant.
func (s *MilestoneService) UpdateDetails(ctx context.Context, p model.Principal, milestoneID int, in MilestoneDetailsInput) (*model.Milestone, error) {
	m, err := s.milestones.FindByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	c, err := s.contracts.FindByID(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	if d := policy.MilestoneEditDetails(p, c); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason, "not allowed to edit this milestone")
	}
	if c.Stage != model.ContractStageProposal {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "milestones can only be edited in proposal")
	}
	if m.Status != model.MilestoneStatusPending {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "milestone is no longer pending")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation("milestone title is required")
	}
	if in.Amount <= 0 {
		return nil, apperr.Validation("milestone amount must be positive")
	}

	delta := in.Amount - m.Amount
	if err := s.milestones.UpdateDetails(ctx, m, in.Title, in.Description, in.Amount, in.DueDate, delta); err != nil {
		return nil, err
	}
	return s.milestones.FindByID(ctx, milestoneID)
}

// ListProgress returns the append-only progress feed of a milestone.
func (s *MilestoneService) ListProgress(ctx context.Context, p model.Principal, milestoneID int) ([]model.ProgressUpdate, error) {
	m, err := s.milestones.FindByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	c, err := s.contracts.FindByID(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && p.UserID != c.ClientID && p.UserID != c.FreelancerID {
		return nil, apperr.Forbidden(apperr.ReasonNotOwner, "not a party to this contract")
	}
	return s.progress.ListByMilestone(ctx, milestoneID)
}
