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

type ContractService struct {
	contracts  ContractStore
	milestones MilestoneStore
	payments   PaymentStore
	bids       BidStore
	projects   ProjectStore
	logger     *zap.Logger
}

func NewContractService(contracts ContractStore, milestones MilestoneStore, payments PaymentStore, bids BidStore, projects ProjectStore, logger *zap.Logger) *ContractService {
	return &ContractService{
		contracts:  contracts,
		milestones: milestones,
		payments:   payments,
		bids:       bids,
		projects:   projects,
		logger:     logger,
	}
}

type MilestoneInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type CreateContractInput struct {
	BidID      int              `json:"bid_id"`
	Title      string           `json:"title"`
	Terms      string           `json:"terms"`
	Amount     float64          `json:"amount"`
	Milestones []MilestoneInput `json:"milestones"`
}

// Create turns an accepted bid into a contract in proposal, with its full
// milestone plan, in one transaction. The unique bid_id constraint makes a
// concurrent duplicate surface as CONFLICT.
func (s *ContractService) Create(ctx context.Context, p model.Principal, in CreateContractInput) (*model.Contract, []*model.Milestone, error) {
	bid, err := s.bids.FindByID(ctx, in.BidID)
	if err != nil {
		return nil, nil, err
	}
	project, err := s.projects.FindByID(ctx, bid.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	if d := policy.ContractCreate(p, project); !d.Allowed {
		return nil, nil, apperr.Forbidden(d.Reason, "not allowed to create this contract")
	}
	if bid.Status != model.BidStatusAccepted {
		return nil, nil, apperr.InvalidState(apperr.ReasonBidNotAccepted, "bid has not been accepted")
	}

	if strings.TrimSpace(in.Title) == "" {
		return nil, nil, apperr.Validation("contract title is required")
	}
	if len(in.Milestones) == 0 {
		return nil, nil, apperr.Validation("at least one milestone is required")
	}

	milestones := make([]*model.Milestone, 0, len(in.Milestones))
	for i, mi := range in.Milestones {
		if strings.TrimSpace(mi.Title) == "" {
			return nil, nil, apperr.Validation(fmt.Sprintf("milestone %d: title is required", i+1))
		}
		if mi.Amount <= 0 {
			return nil, nil, apperr.Validation(fmt.Sprintf("milestone %d: amount must be positive", i+1))
		}
		milestones = append(milestones, &model.Milestone{
			Title:       mi.Title,
			Description: mi.Description,
			Amount:      mi.Amount,
			DueDate:     mi.DueDate,
			Status:      model.MilestoneStatusPending,
		})
	}
	if !model.AmountMatchesMilestones(in.Amount, milestones) {
		return nil, nil, &apperr.Error{
			Code:    apperr.CodeValidation,
			Reason:  apperr.ReasonAmountMismatch,
			Message: "contract amount does not equal the sum of milestone amounts",
		}
	}

	contract := &model.Contract{
		ProjectID:    project.ID,
		ClientID:     project.OwnerID,
		FreelancerID: bid.FreelancerID,
		BidID:        bid.ID,
		Title:        in.Title,
		Terms:        in.Terms,
		Amount:       in.Amount,
		Stage:        model.ContractStageProposal,
	}

	events := []repository.OutboxEvent{
		notifyEvent(ctx, bid.FreelancerID, mq.NotificationTypeContractCreated,
			fmt.Sprintf("A contract has been proposed for project %q", project.Title)),
	}
	if err := s.contracts.CreateWithMilestones(ctx, contract, milestones, events); err != nil {
		return nil, nil, err
	}
	metrics.IncrementLifecycleTransition("contract", model.ContractStageProposal)
	return contract, milestones, nil
}

// UpdateTerms edits title/terms while the contract is still a proposal.
func (s *ContractService) UpdateTerms(ctx context.Context, p model.Principal, contractID int, title, terms string) (*model.Contract, error) {
	c, err := s.contracts.FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if d := policy.ContractEditTerms(p, c); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason, "not allowed to edit this contract")
	}
	if c.Stage != model.ContractStageProposal {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "terms can only be edited in proposal")
	}
	if strings.TrimSpace(title) == "" {
		return nil, apperr.Validation("contract title is required")
	}
	if err := s.contracts.UpdateTerms(ctx, contractID, title, terms); err != nil {
		return nil, err
	}
	return s.contracts.FindByID(ctx, contractID)
}

// Advance drives the contract into the target stage: edge check, then
// authorization, then the stage-specific preconditions. The repository's
// conditional update re-checks the source stage inside the transaction.
func (s *ContractService) Advance(ctx context.Context, p model.Principal, contractID int, target string) (*model.Contract, error) {
	c, err := s.contracts.FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	if !model.ValidContractStage(target) {
		return nil, apperr.InvalidTransition(apperr.ReasonUnknownTransition, "unknown contract stage "+target)
	}
	if model.ContractStageTerminal(c.Stage) {
		return nil, apperr.InvalidTransition(apperr.ReasonTerminalState, "contract is already "+c.Stage)
	}
	if !model.ContractStageEdgeAllowed(c.Stage, target) {
		return nil, apperr.InvalidTransition(apperr.ReasonInvalidSourceState,
			fmt.Sprintf("cannot move contract from %s to %s", c.Stage, target))
	}
	if d := policy.ContractAdvance(p, c, target); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason, "not allowed to advance this contract")
	}

	var opts repository.AdvanceOptions
	var events []repository.OutboxEvent

	switch target {
	case model.ContractStageApproval:
		opts.SetTermsAccepted = true

	case model.ContractStageCompleted:
		unpaid, err := s.contracts.CountUnpaidMilestones(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if unpaid > 0 {
			return nil, apperr.InvalidState(apperr.ReasonMilestonesUnpaid,
				fmt.Sprintf("%d milestone(s) are not paid", unpaid))
		}
		opts.SetEndDate = true
		events = append(events,
			notifyEvent(ctx, c.FreelancerID, mq.NotificationTypeContractCompleted, "Your contract has been completed"),
		)

	case model.ContractStageCancelled:
		// 有在途托管资金时禁止取消，必须先退款
		held, err := s.payments.ListHeldByContract(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if len(held) > 0 {
			return nil, apperr.InvalidState(apperr.ReasonFundsHeld,
				fmt.Sprintf("%d payment(s) still hold escrowed funds", len(held)))
		}
		opts.SetEndDate = true
		events = append(events,
			notifyEvent(ctx, counterparty(p, c), mq.NotificationTypeContractCancelled, "The contract has been cancelled"),
		)

	case model.ContractStageDisputed:
		events = append(events,
			notifyEvent(ctx, counterparty(p, c), mq.NotificationTypeContractDisputed, "The contract has been disputed"),
		)
	}

	if err := s.contracts.AdvanceStage(ctx, contractID, c.Stage, target, opts, events); err != nil {
		return nil, err
	}
	metrics.IncrementLifecycleTransition("contract", target)
	return s.contracts.FindByID(ctx, contractID)
}

// counterparty picks the other side of the contract for a notification. For
// admin-driven transitions both parties are affected; the client is notified.
func counterparty(p model.Principal, c *model.Contract) int {
	if p.UserID == c.ClientID {
		return c.FreelancerID
	}
	return c.ClientID
}

// Overview is the single read surface for a contract: the contract, its
// milestones in order and its payment history.
type Overview struct {
	Contract   *model.Contract    `json:"contract"`
	Milestones []*model.Milestone `json:"milestones"`
	Payments   []*model.Payment   `json:"payments"`
}

func (s *ContractService) Overview(ctx context.Context, p model.Principal, contractID int) (*Overview, error) {
	c, err := s.contracts.FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && p.UserID != c.ClientID && p.UserID != c.FreelancerID {
		return nil, apperr.Forbidden(apperr.ReasonNotOwner, "not a party to this contract")
	}
	ms, err := s.milestones.ListByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	pays, err := s.payments.ListByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return &Overview{Contract: c, Milestones: ms, Payments: pays}, nil
}

func (s *ContractService) ListByUser(ctx context.Context, p model.Principal) ([]model.Contract, error) {
	return s.contracts.ListByUser(ctx, p.UserID)
}
