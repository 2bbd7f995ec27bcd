package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workbridge/contracts/mq"
	"workbridge/internal/apperr"
	"workbridge/internal/model"
)

func newMilestoneService(s *fakeStore) *MilestoneService {
	return NewMilestoneService(fakeContracts{s}, fakeMilestones{s}, fakePayments{s}, fakeProgress{s}, zap.NewNop())
}

// fundedContract seeds a contract already in the payment stage with its two
// pending milestones.
func fundedContract(t *testing.T, s *fakeStore) (*model.Contract, []*model.Milestone) {
	t.Helper()
	csvc := newContractService(s)
	c, ms := mustCreate(t, s, csvc)
	s.contracts[c.ID].Stage = model.ContractStagePayment
	c.Stage = model.ContractStagePayment
	return c, ms
}

func TestRecordProgressWithoutStatus(t *testing.T) {
	s := newFakeStore()
	_, ms := fundedContract(t, s)
	svc := newMilestoneService(s)
	ctx := context.Background()

	m, err := svc.RecordProgress(ctx, freelancerP, ms[0].ID, RecordProgressInput{Description: "wireframes done"})
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneStatusPending, m.Status)

	updates, err := svc.ListProgress(ctx, clientP, ms[0].ID)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "wireframes done", updates[0].Description)
	assert.Equal(t, model.MilestoneStatusPending, updates[0].Status)
	assert.Equal(t, freelancerP.UserID, updates[0].AuthorID)
}

func TestRecordProgressRequiresDescription(t *testing.T) {
	s := newFakeStore()
	_, ms := fundedContract(t, s)
	svc := newMilestoneService(s)

	_, err := svc.RecordProgress(context.Background(), freelancerP, ms[0].ID, RecordProgressInput{Description: "   "})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestRecordProgressClientCannotNarrate(t *testing.T) {
	s := newFakeStore()
	_, ms := fundedContract(t, s)
	svc := newMilestoneService(s)

	_, err := svc.RecordProgress(context.Background(), clientP, ms[0].ID, RecordProgressInput{Description: "looks good"})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestMilestoneStartStampsContract(t *testing.T) {
	s := newFakeStore()
	c, ms := fundedContract(t, s)
	svc := newMilestoneService(s)

	m, err := svc.RecordProgress(context.Background(), freelancerP, ms[0].ID, RecordProgressInput{
		Description: "starting on the design",
		NewStatus:   model.MilestoneStatusInProgress,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneStatusInProgress, m.Status)
	assert.NotNil(t, s.contracts[c.ID].StartDate)
	assert.Contains(t, s.eventTypes(), mq.NotificationTypeMilestoneStarted)
}

func TestPaymentRequestedCreatesPayment(t *testing.T) {
	s := newFakeStore()
	c, ms := fundedContract(t, s)
	svc := newMilestoneService(s)
	ctx := context.Background()
	s.milestones[ms[0].ID].Status = model.MilestoneStatusCompleted

	m, err := svc.RecordProgress(ctx, freelancerP, ms[0].ID, RecordProgressInput{
		Description: "design approved, requesting payment",
		NewStatus:   model.MilestoneStatusPaymentRequested,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneStatusPaymentRequested, m.Status)

	pay, err := fakePayments{s}.FindActiveByMilestone(ctx, ms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, pay.Status)
	assert.Equal(t, ms[0].Amount, pay.Amount)
	assert.Equal(t, c.ID, pay.ContractID)
	assert.Contains(t, s.eventTypes(), mq.NotificationTypePaymentRequested)

	// a second request while one payment is in flight is a conflict
	s.milestones[ms[0].ID].Status = model.MilestoneStatusCompleted
	_, err = svc.RecordProgress(ctx, freelancerP, ms[0].ID, RecordProgressInput{
		Description: "requesting again",
		NewStatus:   model.MilestoneStatusPaymentRequested,
	})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeConflict, appErr.Code)
	assert.Equal(t, apperr.ReasonDuplicate, appErr.Reason)
}

func TestMilestonePaidIsNeverCallerInitiated(t *testing.T) {
	s := newFakeStore()
	_, ms := fundedContract(t, s)
	svc := newMilestoneService(s)
	s.milestones[ms[0].ID].Status = model.MilestoneStatusPaymentRequested

	for _, p := range []model.Principal{clientP, freelancerP, adminP} {
		_, err := svc.RecordProgress(context.Background(), p, ms[0].ID, RecordProgressInput{
			Description: "mark as paid",
			NewStatus:   model.MilestoneStatusPaid,
		})
		require.Error(t, err)
		var appErr *apperr.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperr.CodeForbidden, appErr.Code)
		assert.Equal(t, apperr.ReasonReconcilerOnly, appErr.Reason)
	}
}

func TestMilestoneTransitionGuards(t *testing.T) {
	s := newFakeStore()
	c, ms := fundedContract(t, s)
	svc := newMilestoneService(s)
	ctx := context.Background()

	// unknown status is an invalid transition even before authorization runs
	_, err := svc.RecordProgress(ctx, freelancerP, ms[0].ID, RecordProgressInput{Description: "x", NewStatus: "shipped"})
	require.Error(t, err)
	var unknownErr *apperr.Error
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, apperr.CodeInvalidTransition, unknownErr.Code)
	assert.Equal(t, apperr.ReasonUnknownTransition, unknownErr.Reason)

	// and so is one asked for by someone with no standing on the contract
	_, err = svc.RecordProgress(ctx, strangerP, ms[0].ID, RecordProgressInput{Description: "x", NewStatus: "shipped"})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))

	// no skipping pending -> completed
	_, err = svc.RecordProgress(ctx, freelancerP, ms[0].ID, RecordProgressInput{Description: "x", NewStatus: model.MilestoneStatusCompleted})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))

	// terminal milestone
	s.milestones[ms[1].ID].Status = model.MilestoneStatusCancelled
	_, err = svc.RecordProgress(ctx, freelancerP, ms[1].ID, RecordProgressInput{Description: "x", NewStatus: model.MilestoneStatusInProgress})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.ReasonTerminalState, appErr.Reason)

	// contract not in a working stage
	s.contracts[c.ID].Stage = model.ContractStageProposal
	_, err = svc.RecordProgress(ctx, freelancerP, ms[0].ID, RecordProgressInput{Description: "x", NewStatus: model.MilestoneStatusInProgress})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestMilestoneCancelOnLiveContract(t *testing.T) {
	s := newFakeStore()
	c, ms := fundedContract(t, s)
	svc := newMilestoneService(s)
	ctx := context.Background()

	// cancel works even while the contract is still a proposal
	s.contracts[c.ID].Stage = model.ContractStageProposal
	m, err := svc.RecordProgress(ctx, clientP, ms[1].ID, RecordProgressInput{
		Description: "descoping the second milestone",
		NewStatus:   model.MilestoneStatusCancelled,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneStatusCancelled, m.Status)

	// but not once the contract itself is terminal
	s.contracts[c.ID].Stage = model.ContractStageCancelled
	_, err = svc.RecordProgress(ctx, clientP, ms[0].ID, RecordProgressInput{
		Description: "cleanup",
		NewStatus:   model.MilestoneStatusCancelled,
	})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestUpdateMilestoneDetails(t *testing.T) {
	s := newFakeStore()
	csvc := newContractService(s)
	c, ms := mustCreate(t, s, csvc)
	svc := newMilestoneService(s)
	ctx := context.Background()

	m, err := svc.UpdateDetails(ctx, clientP, ms[0].ID, MilestoneDetailsInput{
		Title:       "Design and prototyping",
		Description: "covers the clickable prototype too",
		Amount:      350,
	})
	require.NoError(t, err)
	assert.Equal(t, "Design and prototyping", m.Title)
	assert.Equal(t, 350.0, m.Amount)
	// contract total tracks the milestone delta
	assert.Equal(t, 950.0, s.contracts[c.ID].Amount)

	_, err = svc.UpdateDetails(ctx, freelancerP, ms[0].ID, MilestoneDetailsInput{Title: "x", Amount: 1})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	_, err = svc.UpdateDetails(ctx, clientP, ms[0].ID, MilestoneDetailsInput{Title: "x", Amount: -1})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	s.contracts[c.ID].Stage = model.ContractStageApproval
	_, err = svc.UpdateDetails(ctx, clientP, ms[0].ID, MilestoneDetailsInput{Title: "x", Amount: 1})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestListProgressPartyCheck(t *testing.T) {
	s := newFakeStore()
	_, ms := fundedContract(t, s)
	svc := newMilestoneService(s)

	_, err := svc.ListProgress(context.Background(), strangerP, ms[0].ID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}
