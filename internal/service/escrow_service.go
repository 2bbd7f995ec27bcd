package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"workbridge/contracts/mq"
	"workbridge/internal/apperr"
	"workbridge/internal/escrow"
	"workbridge/internal/model"
	"workbridge/internal/policy"
	"workbridge/internal/repository"
	"workbridge/pkg/metrics"
)

// EscrowService orchestrates the payment processor around the milestone
// lifecycle: funding holds, releasing them to the freelancer, refunding them
// to the client, and reconciling the processor's asynchronous confirmations.
type EscrowService struct {
	contracts  ContractStore
	milestones MilestoneStore
	payments   PaymentStore
	users      UserStore
	gateway    EscrowGateway
	currency   string
	logger     *zap.Logger
}

func NewEscrowService(contracts ContractStore, milestones MilestoneStore, payments PaymentStore, users UserStore, gateway EscrowGateway, currency string, logger *zap.Logger) *EscrowService {
	return &EscrowService{
		contracts:  contracts,
		milestones: milestones,
		payments:   payments,
		users:      users,
		gateway:    gateway,
		currency:   currency,
		logger:     logger,
	}
}

// FundResult is returned to the paying client so it can complete the charge.
type FundResult struct {
	PaymentID    int    `json:"payment_id"`
	HoldID       string `json:"hold_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// FundMilestone creates the escrow hold for a requested payment. The
// idempotency key is derived from the payment id, so retrying after a lost
// response reuses the same hold at the gateway instead of charging twice.
func (s *EscrowService) FundMilestone(ctx context.Context, p model.Principal, milestoneID int) (*FundResult, error) {
	m, err := s.milestones.FindByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	c, err := s.contracts.FindByID(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	if d := policy.EscrowFund(p, c); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason, "not allowed to fund this milestone")
	}
	if c.Stage != model.ContractStagePayment && c.Stage != model.ContractStageReview {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "contract is not in a fundable stage")
	}
	if m.Status != model.MilestoneStatusPaymentRequested {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "no payment has been requested for this milestone")
	}

	pay, err := s.payments.FindActiveByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	hold, err := s.gateway.CreateHold(ctx, pay.Amount, s.currency, fmt.Sprintf("hold-%d", pay.ID), map[string]string{
		"payment_id":   fmt.Sprintf("%d", pay.ID),
		"milestone_id": fmt.Sprintf("%d", m.ID),
		"contract_id":  fmt.Sprintf("%d", c.ID),
	})
	if err != nil {
		return nil, err
	}

	if err := s.payments.AttachIntent(ctx, pay.ID, hold.HoldID); err != nil {
		return nil, err
	}

	s.logger.Info("Escrow hold created",
		zap.Int("payment_id", pay.ID),
		zap.String("hold_id", hold.HoldID),
		zap.Float64("amount", pay.Amount),
	)
	return &FundResult{
		PaymentID:    pay.ID,
		HoldID:       hold.HoldID,
		ClientSecret: hold.ClientSecret,
		Status:       hold.Status,
	}, nil
}

// ReleaseEscrow verifies the hold and transfers the funds to the freelancer's
// payout account, settling the payment and marking the milestone paid. If the
// contract is in review and this was the last unpaid milestone, the contract
// completes.
func (s *EscrowService) ReleaseEscrow(ctx context.Context, p model.Principal, milestoneID int) (*model.Payment, error) {
	m, err := s.milestones.FindByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	c, err := s.contracts.FindByID(ctx, m.ContractID)
	if err != nil {
		return nil, err
	}
	if d := policy.EscrowRelease(p, c); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason, "not allowed to release this milestone's funds")
	}

	pay, err := s.payments.FindActiveByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if pay.PaymentIntentID == nil || pay.Status != model.PaymentStatusProcessing {
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "no confirmed escrow hold for this milestone")
	}

	status, err := s.gateway.VerifyHold(ctx, *pay.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	switch status {
	case escrow.HoldStatusSucceeded:
	case escrow.HoldStatusFailed:
		if err := s.failPayment(ctx, pay); err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState(apperr.ReasonGatewayRejected, "escrow hold failed at the gateway")
	default:
		return nil, apperr.InvalidState(apperr.ReasonInvalidSourceState, "escrow hold is not confirmed yet")
	}

	freelancer, err := s.users.FindByID(ctx, c.FreelancerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.gateway.Transfer(ctx, *pay.PaymentIntentID, freelancer.PayoutAccount, pay.Amount, fmt.Sprintf("transfer-%d", pay.ID)); err != nil {
		return nil, err
	}

	if err := s.settlePayment(ctx, pay, m); err != nil {
		return nil, err
	}
	s.tryCompleteContract(ctx, c.ID)
	return s.payments.FindByID(ctx, pay.ID)
}

// RefundEscrow returns every held payment on the contract to the client and
// cancels the affected milestones. Used before cancellation and when a
// dispute resolves in the client's favour.
func (s *EscrowService) RefundEscrow(ctx context.Context, p model.Principal, contractID int) (int, error) {
	c, err := s.contracts.FindByID(ctx, contractID)
	if err != nil {
		return 0, err
	}
	if d := policy.EscrowRefund(p, c); !d.Allowed {
		return 0, apperr.Forbidden(d.Reason, "not allowed to refund this contract")
	}
	// 已完结的合同资金已经放款或退回，不能再退
	if model.ContractStageTerminal(c.Stage) {
		return 0, apperr.InvalidState(apperr.ReasonInvalidSourceState,
			"funds on a "+c.Stage+" contract have already been disbursed")
	}

	held, err := s.payments.ListHeldByContract(ctx, contractID)
	if err != nil {
		return 0, err
	}

	refunded := 0
	for _, pay := range held {
		if pay.PaymentIntentID == nil {
			continue
		}
		if _, err := s.gateway.Refund(ctx, *pay.PaymentIntentID, fmt.Sprintf("refund-%d", pay.ID)); err != nil {
			return refunded, err
		}
		events := []repository.OutboxEvent{
			notifyEvent(ctx, pay.FreelancerID, mq.NotificationTypePaymentFailed,
				"An escrowed payment on your contract has been refunded to the client"),
		}
		if err := s.payments.MarkRefunded(ctx, pay, events); err != nil {
			return refunded, err
		}
		refunded++
		metrics.IncrementLifecycleTransition("payment", model.PaymentStatusRefunded)
	}

	s.logger.Info("Escrow refunded",
		zap.Int("contract_id", contractID),
		zap.Int("payments", refunded),
	)
	return refunded, nil
}

// OnHoldEvent reconciles one asynchronous confirmation from the payment
// processor. Delivery is at-least-once: replays of an already-applied outcome
// are a no-op success, and a hold id matching no payment is ORPHAN_EVENT.
func (s *EscrowService) OnHoldEvent(ctx context.Context, holdID, outcome string) error {
	pay, err := s.payments.FindByIntentID(ctx, holdID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			metrics.IncrementWebhookEvent(outcome, "orphan")
			return apperr.OrphanEvent(holdID)
		}
		return err
	}

	switch outcome {
	case mq.HoldOutcomeSucceeded:
		if pay.Status == model.PaymentStatusCompleted || model.PaymentStatusTerminal(pay.Status) {
			metrics.IncrementWebhookEvent(outcome, "duplicate")
			return nil
		}
		m, err := s.milestones.FindByID(ctx, pay.MilestoneID)
		if err != nil {
			return err
		}
		if err := s.settlePayment(ctx, pay, m); err != nil {
			if apperr.Is(err, apperr.CodeConflict) {
				// 并发确认，另一个 worker 已落账
				metrics.IncrementWebhookEvent(outcome, "duplicate")
				return nil
			}
			return err
		}
		metrics.IncrementWebhookEvent(outcome, "applied")
		s.tryCompleteContract(ctx, pay.ContractID)
		return nil

	case mq.HoldOutcomeFailed:
		if model.PaymentStatusTerminal(pay.Status) || pay.Status == model.PaymentStatusCompleted {
			metrics.IncrementWebhookEvent(outcome, "duplicate")
			return nil
		}
		if err := s.failPayment(ctx, pay); err != nil {
			if apperr.Is(err, apperr.CodeConflict) {
				metrics.IncrementWebhookEvent(outcome, "duplicate")
				return nil
			}
			return err
		}
		metrics.IncrementWebhookEvent(outcome, "applied")
		return nil

	default:
		return apperr.Validation("unknown hold outcome " + outcome)
	}
}

func (s *EscrowService) settlePayment(ctx context.Context, pay *model.Payment, m *model.Milestone) error {
	events := []repository.OutboxEvent{
		notifyEvent(ctx, pay.FreelancerID, mq.NotificationTypeMilestonePaid,
			fmt.Sprintf("Milestone %q has been paid", m.Title)),
	}
	if err := s.payments.Settle(ctx, pay, events); err != nil {
		return err
	}
	metrics.IncrementLifecycleTransition("payment", model.PaymentStatusCompleted)
	metrics.IncrementLifecycleTransition("milestone", model.MilestoneStatusPaid)
	return nil
}

func (s *EscrowService) failPayment(ctx context.Context, pay *model.Payment) error {
	events := []repository.OutboxEvent{
		notifyEvent(ctx, pay.ClientID, mq.NotificationTypePaymentFailed,
			"An escrow hold on your contract failed; payment can be requested again"),
	}
	if err := s.payments.MarkFailed(ctx, pay, events); err != nil {
		return err
	}
	metrics.IncrementLifecycleTransition("payment", model.PaymentStatusFailed)
	return nil
}

// tryCompleteContract finishes the contract when it sits in review with every
// milestone paid. Any other state is simply not ready yet, never an error for
// the caller who settled a payment.
func (s *EscrowService) tryCompleteContract(ctx context.Context, contractID int) {
	events := []repository.OutboxEvent{}
	c, err := s.contracts.FindByID(ctx, contractID)
	if err != nil {
		s.logger.Warn("Could not load contract after settlement", zap.Int("contract_id", contractID), zap.Error(err))
		return
	}
	if c.Stage != model.ContractStageReview {
		return
	}
	events = append(events,
		notifyEvent(ctx, c.ClientID, mq.NotificationTypeContractCompleted, "All milestones are paid; the contract is complete"),
		notifyEvent(ctx, c.FreelancerID, mq.NotificationTypeContractCompleted, "All milestones are paid; the contract is complete"),
	)
	if err := s.contracts.CompleteIfAllPaid(ctx, contractID, events); err != nil {
		if apperr.Is(err, apperr.CodeInvalidState) || apperr.Is(err, apperr.CodeConflict) {
			return
		}
		s.logger.Error("Contract completion failed", zap.Int("contract_id", contractID), zap.Error(err))
		return
	}
	metrics.IncrementLifecycleTransition("contract", model.ContractStageCompleted)
}
