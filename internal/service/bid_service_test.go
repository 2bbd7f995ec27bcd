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
	"workbridge/pkg/rbac"
)

func newBidService(s *fakeStore) *BidService {
	return NewBidService(fakeBids{s}, fakeProjects{s}, zap.NewNop())
}

// openProject seeds an open project owned by the client.
func openProject(s *fakeStore) *model.Project {
	s.users[1] = &model.User{ID: 1, Email: "client@example.com", Role: rbac.RoleClient}
	s.users[2] = &model.User{ID: 2, Email: "dev@example.com", Role: rbac.RoleFreelancer}
	p := &model.Project{ID: 10, OwnerID: 1, Title: "Storefront rebuild", Budget: 1000, Status: model.ProjectStatusOpen}
	s.projects[10] = p
	return p
}

func validBid() SubmitBidInput {
	return SubmitBidInput{ProjectID: 10, Amount: 900, DeliveryTimeDays: 14, CoverLetter: "I have shipped three storefronts."}
}

func TestSubmitBid(t *testing.T) {
	s := newFakeStore()
	openProject(s)
	svc := newBidService(s)

	b, err := svc.Submit(context.Background(), freelancerP, validBid())
	require.NoError(t, err)
	assert.Equal(t, model.BidStatusPending, b.Status)
	assert.Equal(t, 2, b.FreelancerID)

	// one bid per freelancer per project
	_, err = svc.Submit(context.Background(), freelancerP, validBid())
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestSubmitBidGuards(t *testing.T) {
	s := newFakeStore()
	p := openProject(s)
	svc := newBidService(s)
	ctx := context.Background()

	_, err := svc.Submit(ctx, clientP, validBid())
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	in := validBid()
	in.Amount = 0
	_, err = svc.Submit(ctx, freelancerP, in)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	in = validBid()
	in.CoverLetter = " "
	_, err = svc.Submit(ctx, freelancerP, in)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	p.Status = model.ProjectStatusInProgress
	_, err = svc.Submit(ctx, freelancerP, validBid())
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestAcceptBidRejectsSiblings(t *testing.T) {
	s := newFakeStore()
	openProject(s)
	svc := newBidService(s)
	ctx := context.Background()

	winner, err := svc.Submit(ctx, freelancerP, validBid())
	require.NoError(t, err)

	other := model.Principal{UserID: 3, Role: rbac.RoleFreelancer}
	in := validBid()
	in.Amount = 800
	loser, err := svc.Submit(ctx, other, in)
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, clientP, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidStatusAccepted, accepted.Status)
	assert.Equal(t, model.BidStatusRejected, s.bids[loser.ID].Status)
	assert.Equal(t, model.ProjectStatusInProgress, s.projects[10].Status)
	assert.Contains(t, s.eventTypes(), mq.NotificationTypeBidAccepted)

	// 已经定了的 bid 不能再改
	_, err = svc.Accept(ctx, clientP, winner.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
	err = svc.Reject(ctx, clientP, winner.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestBidDecisionsAreOwnerOnly(t *testing.T) {
	s := newFakeStore()
	openProject(s)
	svc := newBidService(s)
	ctx := context.Background()

	b, err := svc.Submit(ctx, freelancerP, validBid())
	require.NoError(t, err)

	_, err = svc.Accept(ctx, freelancerP, b.ID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	err = svc.Shortlist(ctx, strangerP, b.ID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	_, err = svc.ListByProject(ctx, freelancerP, 10)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	bids, err := svc.ListByProject(ctx, clientP, 10)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestShortlistOnlyPending(t *testing.T) {
	s := newFakeStore()
	openProject(s)
	svc := newBidService(s)
	ctx := context.Background()

	b, err := svc.Submit(ctx, freelancerP, validBid())
	require.NoError(t, err)

	require.NoError(t, svc.Shortlist(ctx, clientP, b.ID))
	assert.Equal(t, model.BidStatusShortlisted, s.bids[b.ID].Status)

	err = svc.Shortlist(ctx, clientP, b.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))

	// a shortlisted bid can still be accepted
	accepted, err := svc.Accept(ctx, clientP, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidStatusAccepted, accepted.Status)
}
