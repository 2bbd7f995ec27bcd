// Package service implements the contract and milestone lifecycle: state
// machines, authorization and the escrow orchestration built on top of the
// repositories. Services depend on narrow store interfaces so the lifecycle
// rules can be tested against in-memory fakes.
package service

import (
	"context"
	"time"

	"workbridge/internal/escrow"
	"workbridge/internal/model"
	"workbridge/internal/repository"
)

type ContractStore interface {
	CreateWithMilestones(ctx context.Context, c *model.Contract, ms []*model.Milestone, events []repository.OutboxEvent) error
	FindByID(ctx context.Context, id int) (*model.Contract, error)
	ListByUser(ctx context.Context, userID int) ([]model.Contract, error)
	UpdateTerms(ctx context.Context, id int, title, terms string) error
	AdvanceStage(ctx context.Context, id int, from, to string, opts repository.AdvanceOptions, events []repository.OutboxEvent) error
	CompleteIfAllPaid(ctx context.Context, id int, events []repository.OutboxEvent) error
	CountUnpaidMilestones(ctx context.Context, id int) (int, error)
}

type MilestoneStore interface {
	FindByID(ctx context.Context, id int) (*model.Milestone, error)
	ListByContract(ctx context.Context, contractID int) ([]*model.Milestone, error)
	ApplyProgress(ctx context.Context, m *model.Milestone, mut *repository.ProgressMutation) error
	UpdateDetails(ctx context.Context, m *model.Milestone, title, description string, amount float64, dueDate *time.Time, amountDelta float64) error
}

type PaymentStore interface {
	FindByID(ctx context.Context, id int) (*model.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*model.Payment, error)
	FindActiveByMilestone(ctx context.Context, milestoneID int) (*model.Payment, error)
	ListByContract(ctx context.Context, contractID int) ([]*model.Payment, error)
	ListHeldByContract(ctx context.Context, contractID int) ([]*model.Payment, error)
	AttachIntent(ctx context.Context, paymentID int, intentID string) error
	Settle(ctx context.Context, p *model.Payment, events []repository.OutboxEvent) error
	MarkFailed(ctx context.Context, p *model.Payment, events []repository.OutboxEvent) error
	MarkRefunded(ctx context.Context, p *model.Payment, events []repository.OutboxEvent) error
}

type BidStore interface {
	Insert(ctx context.Context, b *model.Bid) error
	FindByID(ctx context.Context, id int) (*model.Bid, error)
	ListByProject(ctx context.Context, projectID int) ([]model.Bid, error)
	UpdateStatus(ctx context.Context, bidID int, from []string, to string) error
	Accept(ctx context.Context, b *model.Bid, events []repository.OutboxEvent) error
}

type ProjectStore interface {
	Insert(ctx context.Context, p *model.Project) error
	FindByID(ctx context.Context, id int) (*model.Project, error)
	ListOpen(ctx context.Context, limit int) ([]model.Project, error)
	ListByOwner(ctx context.Context, ownerID int) ([]model.Project, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id int) (*model.User, error)
}

type ProgressStore interface {
	ListByMilestone(ctx context.Context, milestoneID int) ([]model.ProgressUpdate, error)
}

// EscrowGateway is the payment-processor surface used by the lifecycle.
// Implemented by escrow.Client; faked in tests.
type EscrowGateway interface {
	CreateHold(ctx context.Context, amount float64, currency string, idempotencyKey string, metadata map[string]string) (*escrow.Hold, error)
	VerifyHold(ctx context.Context, holdID string) (string, error)
	Transfer(ctx context.Context, holdID, payeeAccount string, amount float64, idempotencyKey string) (string, error)
	Refund(ctx context.Context, holdID string, idempotencyKey string) (string, error)
}
