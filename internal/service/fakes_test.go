package service

import (
	"context"
	"fmt"
	"time"

	"workbridge/contracts/mq"
	"workbridge/internal/apperr"
	"workbridge/internal/escrow"
	"workbridge/internal/model"
	"workbridge/internal/repository"
)

// In-memory stores mirroring the repository semantics: conditional updates
// surface CONFLICT on a stale state, missing rows surface NOT_FOUND, and the
// multi-row mutations apply the same side effects the SQL does.

type fakeStore struct {
	contracts  map[int]*model.Contract
	milestones map[int]*model.Milestone
	payments   map[int]*model.Payment
	bids       map[int]*model.Bid
	projects   map[int]*model.Project
	users      map[int]*model.User
	updates    map[int][]model.ProgressUpdate
	events     []repository.OutboxEvent
	nextID     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contracts:  map[int]*model.Contract{},
		milestones: map[int]*model.Milestone{},
		payments:   map[int]*model.Payment{},
		bids:       map[int]*model.Bid{},
		projects:   map[int]*model.Project{},
		users:      map[int]*model.User{},
		updates:    map[int][]model.ProgressUpdate{},
		nextID:     100,
	}
}

func (f *fakeStore) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) record(events []repository.OutboxEvent) {
	f.events = append(f.events, events...)
}

// eventTypes extracts the notification types of every recorded event, in order.
func (f *fakeStore) eventTypes() []string {
	var types []string
	for _, e := range f.events {
		if p, ok := e.Payload.(mq.NotificationCreatedPayload); ok {
			types = append(types, p.Type)
		}
	}
	return types
}

// --- ContractStore ---

type fakeContracts struct{ s *fakeStore }

func (f fakeContracts) CreateWithMilestones(ctx context.Context, c *model.Contract, ms []*model.Milestone, events []repository.OutboxEvent) error {
	for _, existing := range f.s.contracts {
		if existing.BidID == c.BidID {
			return apperr.Conflict(apperr.ReasonDuplicate, "contract already exists")
		}
	}
	c.ID = f.s.id()
	c.CreatedAt = time.Now()
	f.s.contracts[c.ID] = c
	for _, m := range ms {
		m.ID = f.s.id()
		m.ContractID = c.ID
		m.ProjectID = c.ProjectID
		f.s.milestones[m.ID] = m
	}
	f.s.record(events)
	return nil
}

func (f fakeContracts) FindByID(ctx context.Context, id int) (*model.Contract, error) {
	c, ok := f.s.contracts[id]
	if !ok {
		return nil, apperr.NotFound("contract")
	}
	cp := *c
	return &cp, nil
}

func (f fakeContracts) ListByUser(ctx context.Context, userID int) ([]model.Contract, error) {
	var out []model.Contract
	for _, c := range f.s.contracts {
		if c.ClientID == userID || c.FreelancerID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f fakeContracts) UpdateTerms(ctx context.Context, id int, title, terms string) error {
	c, ok := f.s.contracts[id]
	if !ok {
		return apperr.NotFound("contract")
	}
	c.Title = title
	c.Terms = terms
	return nil
}

func (f fakeContracts) AdvanceStage(ctx context.Context, id int, from, to string, opts repository.AdvanceOptions, events []repository.OutboxEvent) error {
	c, ok := f.s.contracts[id]
	if !ok {
		return apperr.NotFound("contract")
	}
	if c.Stage != from {
		return apperr.Conflict(apperr.ReasonStaleState, "contract stage changed")
	}
	c.Stage = to
	if opts.SetTermsAccepted {
		c.TermsAccepted = true
	}
	if opts.SetEndDate {
		now := time.Now()
		c.EndDate = &now
	}
	f.s.record(events)
	return nil
}

func (f fakeContracts) CompleteIfAllPaid(ctx context.Context, id int, events []repository.OutboxEvent) error {
	c, ok := f.s.contracts[id]
	if !ok {
		return apperr.NotFound("contract")
	}
	if c.Stage != model.ContractStageReview {
		return apperr.InvalidState(apperr.ReasonInvalidSourceState, "contract not in review")
	}
	for _, m := range f.s.milestones {
		if m.ContractID == id && m.Status != model.MilestoneStatusPaid && m.Status != model.MilestoneStatusCancelled {
			return apperr.InvalidState(apperr.ReasonMilestonesUnpaid, "milestones not yet paid")
		}
	}
	c.Stage = model.ContractStageCompleted
	now := time.Now()
	c.EndDate = &now
	if p, ok := f.s.projects[c.ProjectID]; ok {
		p.Status = model.ProjectStatusCompleted
	}
	f.s.record(events)
	return nil
}

func (f fakeContracts) CountUnpaidMilestones(ctx context.Context, id int) (int, error) {
	n := 0
	for _, m := range f.s.milestones {
		if m.ContractID == id && m.Status != model.MilestoneStatusPaid && m.Status != model.MilestoneStatusCancelled {
			n++
		}
	}
	return n, nil
}

// --- MilestoneStore ---

type fakeMilestones struct{ s *fakeStore }

func (f fakeMilestones) FindByID(ctx context.Context, id int) (*model.Milestone, error) {
	m, ok := f.s.milestones[id]
	if !ok {
		return nil, apperr.NotFound("milestone")
	}
	cp := *m
	return &cp, nil
}

func (f fakeMilestones) ListByContract(ctx context.Context, contractID int) ([]*model.Milestone, error) {
	var out []*model.Milestone
	for _, m := range f.s.milestones {
		if m.ContractID == contractID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeMilestones) ApplyProgress(ctx context.Context, m *model.Milestone, mut *repository.ProgressMutation) error {
	stored, ok := f.s.milestones[m.ID]
	if !ok {
		return apperr.NotFound("milestone")
	}
	if mut.ToStatus != "" {
		if stored.Status != mut.FromStatus {
			return apperr.Conflict(apperr.ReasonStaleState, "milestone status changed")
		}
		stored.Status = mut.ToStatus
	}
	if mut.SetContractStart {
		if c, ok := f.s.contracts[stored.ContractID]; ok && c.StartDate == nil {
			now := time.Now()
			c.StartDate = &now
		}
	}
	if mut.Payment != nil {
		mut.Payment.ID = f.s.id()
		f.s.payments[mut.Payment.ID] = mut.Payment
	}
	if mut.Update != nil {
		mut.Update.ID = f.s.id()
		mut.Update.CreatedAt = time.Now()
		f.s.updates[stored.ID] = append(f.s.updates[stored.ID], *mut.Update)
	}
	f.s.record(mut.Events)
	return nil
}

func (f fakeMilestones) UpdateDetails(ctx context.Context, m *model.Milestone, title, description string, amount float64, dueDate *time.Time, amountDelta float64) error {
	stored, ok := f.s.milestones[m.ID]
	if !ok {
		return apperr.NotFound("milestone")
	}
	if stored.Status != model.MilestoneStatusPending {
		return apperr.Conflict(apperr.ReasonStaleState, "milestone no longer pending")
	}
	stored.Title = title
	stored.Description = description
	stored.Amount = amount
	stored.DueDate = dueDate
	if c, ok := f.s.contracts[stored.ContractID]; ok {
		c.Amount += amountDelta
	}
	return nil
}

// --- PaymentStore ---

type fakePayments struct{ s *fakeStore }

func (f fakePayments) FindByID(ctx context.Context, id int) (*model.Payment, error) {
	p, ok := f.s.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment")
	}
	cp := *p
	return &cp, nil
}

func (f fakePayments) FindByIntentID(ctx context.Context, intentID string) (*model.Payment, error) {
	for _, p := range f.s.payments {
		if p.PaymentIntentID != nil && *p.PaymentIntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("payment")
}

func (f fakePayments) FindActiveByMilestone(ctx context.Context, milestoneID int) (*model.Payment, error) {
	for _, p := range f.s.payments {
		if p.MilestoneID == milestoneID && p.Status != model.PaymentStatusFailed && p.Status != model.PaymentStatusRefunded {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("payment")
}

func (f fakePayments) ListByContract(ctx context.Context, contractID int) ([]*model.Payment, error) {
	var out []*model.Payment
	for _, p := range f.s.payments {
		if p.ContractID == contractID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakePayments) ListHeldByContract(ctx context.Context, contractID int) ([]*model.Payment, error) {
	var out []*model.Payment
	for _, p := range f.s.payments {
		if p.ContractID == contractID && p.Status == model.PaymentStatusProcessing {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakePayments) AttachIntent(ctx context.Context, paymentID int, intentID string) error {
	p, ok := f.s.payments[paymentID]
	if !ok {
		return apperr.NotFound("payment")
	}
	if p.Status != model.PaymentStatusPending && p.Status != model.PaymentStatusProcessing {
		return apperr.Conflict(apperr.ReasonStaleState, "payment not attachable")
	}
	p.PaymentIntentID = &intentID
	p.Status = model.PaymentStatusProcessing
	return nil
}

func (f fakePayments) Settle(ctx context.Context, pay *model.Payment, events []repository.OutboxEvent) error {
	p, ok := f.s.payments[pay.ID]
	if !ok {
		return apperr.NotFound("payment")
	}
	if p.Status != model.PaymentStatusPending && p.Status != model.PaymentStatusProcessing {
		return apperr.Conflict(apperr.ReasonStaleState, "payment already settled")
	}
	m, ok := f.s.milestones[p.MilestoneID]
	if !ok || m.Status != model.MilestoneStatusPaymentRequested {
		return apperr.Conflict(apperr.ReasonStaleState, "milestone status changed")
	}
	p.Status = model.PaymentStatusCompleted
	now := time.Now()
	p.CompletedAt = &now
	m.Status = model.MilestoneStatusPaid
	f.s.record(events)
	return nil
}

func (f fakePayments) MarkFailed(ctx context.Context, pay *model.Payment, events []repository.OutboxEvent) error {
	p, ok := f.s.payments[pay.ID]
	if !ok {
		return apperr.NotFound("payment")
	}
	if p.Status != model.PaymentStatusPending && p.Status != model.PaymentStatusProcessing {
		return apperr.Conflict(apperr.ReasonStaleState, "payment already settled")
	}
	p.Status = model.PaymentStatusFailed
	if m, ok := f.s.milestones[p.MilestoneID]; ok && m.Status == model.MilestoneStatusPaymentRequested {
		m.Status = model.MilestoneStatusCompleted
	}
	f.s.record(events)
	return nil
}

func (f fakePayments) MarkRefunded(ctx context.Context, pay *model.Payment, events []repository.OutboxEvent) error {
	p, ok := f.s.payments[pay.ID]
	if !ok {
		return apperr.NotFound("payment")
	}
	if p.Status != model.PaymentStatusProcessing && p.Status != model.PaymentStatusCompleted {
		return apperr.Conflict(apperr.ReasonStaleState, "payment not refundable")
	}
	p.Status = model.PaymentStatusRefunded
	if m, ok := f.s.milestones[p.MilestoneID]; ok {
		if m.Status == model.MilestoneStatusPaymentRequested || m.Status == model.MilestoneStatusPaid {
			m.Status = model.MilestoneStatusCancelled
		}
	}
	f.s.record(events)
	return nil
}

// --- BidStore ---

type fakeBids struct{ s *fakeStore }

func (f fakeBids) Insert(ctx context.Context, b *model.Bid) error {
	for _, existing := range f.s.bids {
		if existing.ProjectID == b.ProjectID && existing.FreelancerID == b.FreelancerID {
			return apperr.Conflict(apperr.ReasonDuplicate, "bid already exists")
		}
	}
	b.ID = f.s.id()
	f.s.bids[b.ID] = b
	return nil
}

func (f fakeBids) FindByID(ctx context.Context, id int) (*model.Bid, error) {
	b, ok := f.s.bids[id]
	if !ok {
		return nil, apperr.NotFound("bid")
	}
	cp := *b
	return &cp, nil
}

func (f fakeBids) ListByProject(ctx context.Context, projectID int) ([]model.Bid, error) {
	var out []model.Bid
	for _, b := range f.s.bids {
		if b.ProjectID == projectID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f fakeBids) UpdateStatus(ctx context.Context, bidID int, from []string, to string) error {
	b, ok := f.s.bids[bidID]
	if !ok {
		return apperr.NotFound("bid")
	}
	allowed := false
	for _, s := range from {
		if b.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return apperr.Conflict(apperr.ReasonStaleState, "bid status changed")
	}
	b.Status = to
	return nil
}

func (f fakeBids) Accept(ctx context.Context, b *model.Bid, events []repository.OutboxEvent) error {
	stored, ok := f.s.bids[b.ID]
	if !ok {
		return apperr.NotFound("bid")
	}
	if model.BidStatusDecided(stored.Status) {
		return apperr.Conflict(apperr.ReasonStaleState, "bid already decided")
	}
	stored.Status = model.BidStatusAccepted
	for _, other := range f.s.bids {
		if other.ProjectID == stored.ProjectID && other.ID != stored.ID && !model.BidStatusDecided(other.Status) {
			other.Status = model.BidStatusRejected
		}
	}
	if p, ok := f.s.projects[stored.ProjectID]; ok {
		p.Status = model.ProjectStatusInProgress
	}
	f.s.record(events)
	return nil
}

// --- ProjectStore ---

type fakeProjects struct{ s *fakeStore }

func (f fakeProjects) Insert(ctx context.Context, p *model.Project) error {
	p.ID = f.s.id()
	f.s.projects[p.ID] = p
	return nil
}

func (f fakeProjects) FindByID(ctx context.Context, id int) (*model.Project, error) {
	p, ok := f.s.projects[id]
	if !ok {
		return nil, apperr.NotFound("project")
	}
	cp := *p
	return &cp, nil
}

func (f fakeProjects) ListOpen(ctx context.Context, limit int) ([]model.Project, error) {
	var out []model.Project
	for _, p := range f.s.projects {
		if p.Status == model.ProjectStatusOpen && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f fakeProjects) ListByOwner(ctx context.Context, ownerID int) ([]model.Project, error) {
	var out []model.Project
	for _, p := range f.s.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// --- UserStore ---

type fakeUsers struct{ s *fakeStore }

func (f fakeUsers) CreateUser(ctx context.Context, u *model.User) error {
	for _, existing := range f.s.users {
		if existing.Email == u.Email {
			return apperr.Conflict(apperr.ReasonDuplicate, "user already exists")
		}
	}
	u.ID = f.s.id()
	f.s.users[u.ID] = u
	return nil
}

func (f fakeUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range f.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (f fakeUsers) FindByID(ctx context.Context, id int) (*model.User, error) {
	u, ok := f.s.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

// --- ProgressStore ---

type fakeProgress struct{ s *fakeStore }

func (f fakeProgress) ListByMilestone(ctx context.Context, milestoneID int) ([]model.ProgressUpdate, error) {
	return f.s.updates[milestoneID], nil
}

// --- EscrowGateway ---

type gatewayCall struct {
	Op             string
	IdempotencyKey string
	Amount         float64
}

type fakeGateway struct {
	calls        []gatewayCall
	holdStatus   string
	verifyStatus string
	createErr    error
	transferErr  error
	refundErr    error
	nextHold     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		holdStatus:   escrow.HoldStatusPending,
		verifyStatus: escrow.HoldStatusSucceeded,
	}
}

func (g *fakeGateway) CreateHold(ctx context.Context, amount float64, currency, idempotencyKey string, metadata map[string]string) (*escrow.Hold, error) {
	g.calls = append(g.calls, gatewayCall{Op: "create_hold", IdempotencyKey: idempotencyKey, Amount: amount})
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextHold++
	return &escrow.Hold{
		HoldID:       fmt.Sprintf("hold_%d", g.nextHold),
		ClientSecret: fmt.Sprintf("secret_%d", g.nextHold),
		Status:       g.holdStatus,
	}, nil
}

func (g *fakeGateway) VerifyHold(ctx context.Context, holdID string) (string, error) {
	g.calls = append(g.calls, gatewayCall{Op: "verify_hold", IdempotencyKey: holdID})
	return g.verifyStatus, nil
}

func (g *fakeGateway) Transfer(ctx context.Context, holdID, payeeAccount string, amount float64, idempotencyKey string) (string, error) {
	g.calls = append(g.calls, gatewayCall{Op: "transfer", IdempotencyKey: idempotencyKey, Amount: amount})
	if g.transferErr != nil {
		return "", g.transferErr
	}
	return "tr_" + idempotencyKey, nil
}

func (g *fakeGateway) Refund(ctx context.Context, holdID string, idempotencyKey string) (string, error) {
	g.calls = append(g.calls, gatewayCall{Op: "refund", IdempotencyKey: idempotencyKey})
	if g.refundErr != nil {
		return "", g.refundErr
	}
	return "re_" + idempotencyKey, nil
}
