package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/pkg/outbox"
)

type PaymentRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewPaymentRepository(db *pgxpool.Pool, obx *outbox.Repository, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{db: db, outbox: obx, logger: logger}
}

const paymentColumns = `id, contract_id, milestone_id, client_id, freelancer_id, amount, status,
       payment_intent_id, completed_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID,
		&p.ContractID,
		&p.MilestoneID,
		&p.ClientID,
		&p.FreelancerID,
		&p.Amount,
		&p.Status,
		&p.PaymentIntentID,
		&p.CompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id int) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err, "payment")
	}
	return p, nil
}

// FindByIntentID resolves the payment behind an escrow hold. A missing row is
// the reconciler's ORPHAN_EVENT case; translation happens at the service.
func (r *PaymentRepository) FindByIntentID(ctx context.Context, intentID string) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_intent_id = $1`, intentID))
	if err != nil {
		return nil, apperr.FromStore(err, "payment")
	}
	return p, nil
}

// FindActiveByMilestone returns the milestone's live payment (not failed or
// refunded). A refunded payment is superseded by a new row on re-request.
func (r *PaymentRepository) FindActiveByMilestone(ctx context.Context, milestoneID int) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `
        SELECT `+paymentColumns+`
        FROM payments
        WHERE milestone_id = $1 AND status NOT IN ('failed', 'refunded')
        ORDER BY id DESC
        LIMIT 1
    `, milestoneID))
	if err != nil {
		return nil, apperr.FromStore(err, "payment")
	}
	return p, nil
}

func (r *PaymentRepository) ListByContract(ctx context.Context, contractID int) ([]*model.Payment, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+paymentColumns+`
        FROM payments
        WHERE contract_id = $1
        ORDER BY id ASC
    `, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListHeldByContract returns payments whose hold is placed but not yet
// settled, the set a refund must unwind.
func (r *PaymentRepository) ListHeldByContract(ctx context.Context, contractID int) ([]*model.Payment, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+paymentColumns+`
        FROM payments
        WHERE contract_id = $1 AND status = 'processing'
        ORDER BY id ASC
    `, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// AttachIntent stores the hold id created at the gateway and moves the
// payment to processing. Re-attaching the same hold id is a no-op success so
// gateway retries stay idempotent.
func (r *PaymentRepository) AttachIntent(ctx context.Context, paymentID int, intentID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE payments
        SET payment_intent_id = $2, status = 'processing', updated_at = NOW()
        WHERE id = $1
          AND (status = 'pending' OR (status = 'processing' AND payment_intent_id = $2))
    `, paymentID, intentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "payment status changed")
	}

	// 合同上记录最近一次 hold，仅用于展示
	if _, err := tx.Exec(ctx, `
        UPDATE contracts
        SET payment_intent_id = $2, updated_at = NOW()
        WHERE id = (SELECT contract_id FROM payments WHERE id = $1)
    `, paymentID, intentID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Settle marks the payment completed and its milestone paid in one
// transaction. The conditional updates are the idempotency guard: a replayed
// confirmation finds zero rows and surfaces CONFLICT for the caller to
// swallow.
func (r *PaymentRepository) Settle(ctx context.Context, p *model.Payment, events []OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE payments
        SET status = 'completed', completed_at = NOW(), updated_at = NOW()
        WHERE id = $1 AND status IN ('pending', 'processing')
    `, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "payment already settled")
	}

	tag, err = tx.Exec(ctx, `
        UPDATE milestones
        SET status = 'paid', updated_at = NOW()
        WHERE id = $1 AND status = 'payment_requested'
    `, p.MilestoneID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "milestone status changed")
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Info("Payment settled",
		zap.Int("payment_id", p.ID),
		zap.Int("milestone_id", p.MilestoneID),
	)
	return nil
}

// MarkFailed records a failed hold and returns the milestone to completed so
// payment can be requested again.
func (r *PaymentRepository) MarkFailed(ctx context.Context, p *model.Payment, events []OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE payments
        SET status = 'failed', updated_at = NOW()
        WHERE id = $1 AND status IN ('pending', 'processing')
    `, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "payment already settled")
	}

	if _, err := tx.Exec(ctx, `
        UPDATE milestones
        SET status = 'completed', updated_at = NOW()
        WHERE id = $1 AND status = 'payment_requested'
    `, p.MilestoneID); err != nil {
		return err
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Warn("Payment hold failed",
		zap.Int("payment_id", p.ID),
		zap.Int("milestone_id", p.MilestoneID),
	)
	return nil
}

// MarkRefunded unwinds a held or settled payment and cancels its milestone.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, p *model.Payment, events []OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE payments
        SET status = 'refunded', updated_at = NOW()
        WHERE id = $1 AND status IN ('processing', 'completed')
    `, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "payment not refundable")
	}

	if _, err := tx.Exec(ctx, `
        UPDATE milestones
        SET status = 'cancelled', updated_at = NOW()
        WHERE id = $1 AND status IN ('payment_requested', 'paid')
    `, p.MilestoneID); err != nil {
		return err
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Info("Payment refunded",
		zap.Int("payment_id", p.ID),
		zap.Int("milestone_id", p.MilestoneID),
	)
	return nil
}
