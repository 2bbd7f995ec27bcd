package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workbridge/contracts/mq"
	"workbridge/internal/apperr"
	"workbridge/internal/escrow"
	"workbridge/internal/model"
)

func newEscrowService(s *fakeStore, gw *fakeGateway) *EscrowService {
	return NewEscrowService(fakeContracts{s}, fakeMilestones{s}, fakePayments{s}, fakeUsers{s}, gw, "USD", zap.NewNop())
}

// requestedMilestone seeds a funded contract with the first milestone in
// payment_requested and its pending payment row.
func requestedMilestone(t *testing.T, s *fakeStore) (*model.Contract, *model.Milestone, *model.Payment) {
	t.Helper()
	c, ms := fundedContract(t, s)
	s.milestones[ms[0].ID].Status = model.MilestoneStatusCompleted

	msvc := newMilestoneService(s)
	_, err := msvc.RecordProgress(context.Background(), freelancerP, ms[0].ID, RecordProgressInput{
		Description: "requesting payment",
		NewStatus:   model.MilestoneStatusPaymentRequested,
	})
	require.NoError(t, err)

	pay, err := fakePayments{s}.FindActiveByMilestone(context.Background(), ms[0].ID)
	require.NoError(t, err)
	return c, s.milestones[ms[0].ID], pay
}

func TestFundMilestone(t *testing.T) {
	s := newFakeStore()
	_, m, pay := requestedMilestone(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)

	res, err := svc.FundMilestone(context.Background(), clientP, m.ID)
	require.NoError(t, err)
	assert.Equal(t, pay.ID, res.PaymentID)
	assert.Equal(t, "hold_1", res.HoldID)
	assert.NotEmpty(t, res.ClientSecret)

	// the payment now carries the hold and is processing
	stored := s.payments[pay.ID]
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, "hold_1", *stored.PaymentIntentID)
	assert.Equal(t, model.PaymentStatusProcessing, stored.Status)

	// the idempotency key is derived from the payment id
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "create_hold", gw.calls[0].Op)
	assert.Contains(t, gw.calls[0].IdempotencyKey, "hold-")
	assert.Equal(t, pay.Amount, gw.calls[0].Amount)
}

func TestFundMilestoneGuards(t *testing.T) {
	s := newFakeStore()
	c, m, _ := requestedMilestone(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	_, err := svc.FundMilestone(ctx, freelancerP, m.ID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	s.milestones[m.ID].Status = model.MilestoneStatusInProgress
	_, err = svc.FundMilestone(ctx, clientP, m.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
	s.milestones[m.ID].Status = model.MilestoneStatusPaymentRequested

	s.contracts[c.ID].Stage = model.ContractStageProposal
	_, err = svc.FundMilestone(ctx, clientP, m.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))

	assert.Empty(t, gw.calls, "guards must fail before reaching the gateway")
}

func TestFundMilestoneGatewayDown(t *testing.T) {
	s := newFakeStore()
	_, m, pay := requestedMilestone(t, s)
	gw := newFakeGateway()
	gw.createErr = apperr.GatewayUnavailable(assert.AnError)
	svc := newEscrowService(s, gw)

	_, err := svc.FundMilestone(context.Background(), clientP, m.ID)
	assert.True(t, apperr.Is(err, apperr.CodeGatewayUnavailable))
	// payment is untouched, the client can retry
	assert.Equal(t, model.PaymentStatusPending, s.payments[pay.ID].Status)
}

func TestReleaseEscrow(t *testing.T) {
	s := newFakeStore()
	c, m, _ := requestedMilestone(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	_, err := svc.FundMilestone(ctx, clientP, m.ID)
	require.NoError(t, err)

	released, err := svc.ReleaseEscrow(ctx, clientP, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, released.Status)
	assert.NotNil(t, released.CompletedAt)
	assert.Equal(t, model.MilestoneStatusPaid, s.milestones[m.ID].Status)
	assert.Contains(t, s.eventTypes(), mq.NotificationTypeMilestonePaid)

	// hold verified, then transferred to the freelancer's payout account
	ops := []string{}
	for _, call := range gw.calls {
		ops = append(ops, call.Op)
	}
	assert.Equal(t, []string{"create_hold", "verify_hold", "transfer"}, ops)

	// second milestone is still unpaid, so the contract does not complete
	assert.Equal(t, model.ContractStagePayment, s.contracts[c.ID].Stage)
}

func TestReleaseEscrowRequiresConfirmedHold(t *testing.T) {
	s := newFakeStore()
	_, m, _ := requestedMilestone(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)

	// payment is pending, no hold attached yet
	_, err := svc.ReleaseEscrow(context.Background(), clientP, m.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestReleaseEscrowFailedHold(t *testing.T) {
	s := newFakeStore()
	_, m, pay := requestedMilestone(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	_, err := svc.FundMilestone(ctx, clientP, m.ID)
	require.NoError(t, err)

	gw.verifyStatus = escrow.HoldStatusFailed
	_, err = svc.ReleaseEscrow(ctx, clientP, m.ID)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeInvalidState, appErr.Code)
	assert.Equal(t, apperr.ReasonGatewayRejected, appErr.Reason)

	// the payment fails and the milestone returns to completed for a retry
	assert.Equal(t, model.PaymentStatusFailed, s.payments[pay.ID].Status)
	assert.Equal(t, model.MilestoneStatusCompleted, s.milestones[m.ID].Status)
	assert.Contains(t, s.eventTypes(), mq.NotificationTypePaymentFailed)
}

func TestRefundEscrow(t *testing.T) {
	s := newFakeStore()
	c, m, pay := requestedMilestone(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	_, err := svc.FundMilestone(ctx, clientP, m.ID)
	require.NoError(t, err)

	n, err := svc.RefundEscrow(ctx, clientP, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.PaymentStatusRefunded, s.payments[pay.ID].Status)
	assert.Equal(t, model.MilestoneStatusCancelled, s.milestones[m.ID].Status)

	// with no holds left the contract can now be cancelled
	csvc := newContractService(s)
	cc, err := csvc.Advance(ctx, clientP, c.ID, model.ContractStageCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.ContractStageCancelled, cc.Stage)
}

func TestRefundEscrowCompletedContract(t *testing.T) {
	s := newFakeStore()
	c, _ := fundedContract(t, s)
	pays := fundAll(t, s, c)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	s.contracts[c.ID].Stage = model.ContractStageReview
	for _, pay := range pays {
		require.NoError(t, svc.OnHoldEvent(ctx, *pay.PaymentIntentID, mq.HoldOutcomeSucceeded))
	}
	require.Equal(t, model.ContractStageCompleted, s.contracts[c.ID].Stage)

	// 款已放给自由职业者，不能再退
	n, err := svc.RefundEscrow(ctx, clientP, c.ID)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeInvalidState, appErr.Code)
	assert.Equal(t, apperr.ReasonInvalidSourceState, appErr.Reason)
	for _, pay := range pays {
		assert.Equal(t, model.PaymentStatusCompleted, s.payments[pay.ID].Status)
	}

	// cancelled is just as final
	s.contracts[c.ID].Stage = model.ContractStageCancelled
	_, err = svc.RefundEscrow(ctx, clientP, c.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestCompletionIgnoresRefundedMilestone(t *testing.T) {
	s := newFakeStore()
	c, ms := fundedContract(t, s)
	gw := newFakeGateway()
	esvc := newEscrowService(s, gw)
	msvc := newMilestoneService(s)
	ctx := context.Background()

	// fund the first milestone, then refund it: milestone cancelled
	s.milestones[ms[0].ID].Status = model.MilestoneStatusCompleted
	_, err := msvc.RecordProgress(ctx, freelancerP, ms[0].ID, RecordProgressInput{
		Description: "requesting payment",
		NewStatus:   model.MilestoneStatusPaymentRequested,
	})
	require.NoError(t, err)
	_, err = esvc.FundMilestone(ctx, clientP, ms[0].ID)
	require.NoError(t, err)
	n, err := esvc.RefundEscrow(ctx, clientP, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, model.MilestoneStatusCancelled, s.milestones[ms[0].ID].Status)

	// pay out the second milestone; the cancelled one must not block completion
	s.milestones[ms[1].ID].Status = model.MilestoneStatusCompleted
	_, err = msvc.RecordProgress(ctx, freelancerP, ms[1].ID, RecordProgressInput{
		Description: "requesting payment",
		NewStatus:   model.MilestoneStatusPaymentRequested,
	})
	require.NoError(t, err)
	_, err = esvc.FundMilestone(ctx, clientP, ms[1].ID)
	require.NoError(t, err)

	s.contracts[c.ID].Stage = model.ContractStageReview
	pay, err := fakePayments{s}.FindActiveByMilestone(ctx, ms[1].ID)
	require.NoError(t, err)
	require.NoError(t, esvc.OnHoldEvent(ctx, *pay.PaymentIntentID, mq.HoldOutcomeSucceeded))
	assert.Equal(t, model.ContractStageCompleted, s.contracts[c.ID].Stage)
}

func TestRefundEscrowFreelancerDenied(t *testing.T) {
	s := newFakeStore()
	c, _, _ := requestedMilestone(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)

	_, err := svc.RefundEscrow(context.Background(), freelancerP, c.ID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

// fundAll drives every milestone of the contract to processing holds.
func fundAll(t *testing.T, s *fakeStore, c *model.Contract) []*model.Payment {
	t.Helper()
	ctx := context.Background()
	msvc := newMilestoneService(s)
	gw := newFakeGateway()
	esvc := newEscrowService(s, gw)

	var pays []*model.Payment
	for _, m := range s.milestones {
		if m.ContractID != c.ID {
			continue
		}
		s.milestones[m.ID].Status = model.MilestoneStatusCompleted
		_, err := msvc.RecordProgress(ctx, freelancerP, m.ID, RecordProgressInput{
			Description: "requesting payment",
			NewStatus:   model.MilestoneStatusPaymentRequested,
		})
		require.NoError(t, err)
		_, err = esvc.FundMilestone(ctx, clientP, m.ID)
		require.NoError(t, err)
		pay, err := fakePayments{s}.FindActiveByMilestone(ctx, m.ID)
		require.NoError(t, err)
		pays = append(pays, pay)
	}
	return pays
}

func TestOnHoldEventSettles(t *testing.T) {
	s := newFakeStore()
	c, _ := fundedContract(t, s)
	pays := fundAll(t, s, c)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	err := svc.OnHoldEvent(ctx, *pays[0].PaymentIntentID, mq.HoldOutcomeSucceeded)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, s.payments[pays[0].ID].Status)
	assert.Equal(t, model.MilestoneStatusPaid, s.milestones[pays[0].MilestoneID].Status)

	// a replayed confirmation is a no-op success
	err = svc.OnHoldEvent(ctx, *pays[0].PaymentIntentID, mq.HoldOutcomeSucceeded)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, s.payments[pays[0].ID].Status)
}

func TestOnHoldEventCompletesContractFromReview(t *testing.T) {
	s := newFakeStore()
	c, _ := fundedContract(t, s)
	pays := fundAll(t, s, c)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	s.contracts[c.ID].Stage = model.ContractStageReview

	require.NoError(t, svc.OnHoldEvent(ctx, *pays[0].PaymentIntentID, mq.HoldOutcomeSucceeded))
	assert.Equal(t, model.ContractStageReview, s.contracts[c.ID].Stage, "one milestone still unpaid")

	require.NoError(t, svc.OnHoldEvent(ctx, *pays[1].PaymentIntentID, mq.HoldOutcomeSucceeded))
	assert.Equal(t, model.ContractStageCompleted, s.contracts[c.ID].Stage)
	assert.Equal(t, model.ProjectStatusCompleted, s.projects[c.ProjectID].Status)
	assert.Contains(t, s.eventTypes(), mq.NotificationTypeContractCompleted)
}

func TestOnHoldEventFailed(t *testing.T) {
	s := newFakeStore()
	c, _ := fundedContract(t, s)
	pays := fundAll(t, s, c)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)
	ctx := context.Background()

	err := svc.OnHoldEvent(ctx, *pays[0].PaymentIntentID, mq.HoldOutcomeFailed)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, s.payments[pays[0].ID].Status)
	assert.Equal(t, model.MilestoneStatusCompleted, s.milestones[pays[0].MilestoneID].Status)

	// replay of the failure is also a no-op
	require.NoError(t, svc.OnHoldEvent(ctx, *pays[0].PaymentIntentID, mq.HoldOutcomeFailed))
}

func TestOnHoldEventOrphan(t *testing.T) {
	s := newFakeStore()
	fundedContract(t, s)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)

	err := svc.OnHoldEvent(context.Background(), "hold_unknown", mq.HoldOutcomeSucceeded)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOrphanEvent))
}

func TestOnHoldEventUnknownOutcome(t *testing.T) {
	s := newFakeStore()
	c, _ := fundedContract(t, s)
	pays := fundAll(t, s, c)
	gw := newFakeGateway()
	svc := newEscrowService(s, gw)

	err := svc.OnHoldEvent(context.Background(), *pays[0].PaymentIntentID, "exploded")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}
