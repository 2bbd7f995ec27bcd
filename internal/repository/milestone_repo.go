package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/pkg/outbox"
)

type MilestoneRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewMilestoneRepository(db *pgxpool.Pool, obx *outbox.Repository, logger *zap.Logger) *MilestoneRepository {
	return &MilestoneRepository{db: db, outbox: obx, logger: logger}
}

const milestoneColumns = `id, contract_id, project_id, title, description, amount, due_date, status, created_at, updated_at`

func scanMilestone(row interface{ Scan(...any) error }) (*model.Milestone, error) {
	var m model.Milestone
	err := row.Scan(
		&m.ID,
		&m.ContractID,
		&m.ProjectID,
		&m.Title,
		&m.Description,
		&m.Amount,
		&m.DueDate,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MilestoneRepository) FindByID(ctx context.Context, id int) (*model.Milestone, error) {
	m, err := scanMilestone(r.db.QueryRow(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err, "milestone")
	}
	return m, nil
}

func (r *MilestoneRepository) ListByContract(ctx context.Context, contractID int) ([]*model.Milestone, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+milestoneColumns+`
        FROM milestones
        WHERE contract_id = $1
        ORDER BY id ASC
    `, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var milestones []*model.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// ProgressMutation is the atomic unit applied when a freelancer records
// progress: the audit row always, plus an optional status edge, the contract
// start date on first activity, and the Payment row when payment is
// requested.
type ProgressMutation struct {
	Update           *model.ProgressUpdate
	FromStatus       string
	ToStatus         string // empty: no status change
	SetContractStart bool
	Payment          *model.Payment
	Events           []OutboxEvent
}

// ApplyProgress runs the whole mutation in one transaction. The conditional
// status update is the optimistic guard: a concurrent transition makes the
// whole mutation roll back with CONFLICT.
func (r *MilestoneRepository) ApplyProgress(ctx context.Context, m *model.Milestone, mut *ProgressMutation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if mut.ToStatus != "" {
		tag, err := tx.Exec(ctx, `
            UPDATE milestones
            SET status = $3, updated_at = NOW()
            WHERE id = $1 AND status = $2
        `, m.ID, mut.FromStatus, mut.ToStatus)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict(apperr.ReasonStaleState, "milestone status changed")
		}
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO progress_updates (milestone_id, author_id, description, status)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `,
		mut.Update.MilestoneID,
		mut.Update.AuthorID,
		mut.Update.Description,
		mut.Update.Status,
	).Scan(&mut.Update.ID, &mut.Update.CreatedAt)
	if err != nil {
		return err
	}

	if mut.SetContractStart {
		if _, err := tx.Exec(ctx, `
            UPDATE contracts
            SET start_date = NOW(), updated_at = NOW()
            WHERE id = $1 AND start_date IS NULL
        `, m.ContractID); err != nil {
			return err
		}
	}

	if mut.Payment != nil {
		p := mut.Payment
		err = tx.QueryRow(ctx, `
            INSERT INTO payments (contract_id, milestone_id, client_id, freelancer_id, amount, status)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING id, created_at, updated_at
        `,
			p.ContractID,
			p.MilestoneID,
			p.ClientID,
			p.FreelancerID,
			p.Amount,
			p.Status,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return err
		}
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, mut.Events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if mut.ToStatus != "" {
		r.logger.Info("Milestone status advanced",
			zap.Int("milestone_id", m.ID),
			zap.String("from", mut.FromStatus),
			zap.String("to", mut.ToStatus),
		)
	}
	return nil
}

// UpdateDetails edits a pending milestone. An amount change carries a delta
// applied to the contract amount in the same transaction so the sum
// invariant cannot desync; the contract must still be in proposal for that.
func (r *MilestoneRepository) UpdateDetails(ctx context.Context, m *model.Milestone, title, description string, amount float64, dueDate *time.Time, amountDelta float64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE milestones
        SET title = $2, description = $3, amount = $4, due_date = $5, updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
    `, m.ID, title, description, amount, dueDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "milestone status changed")
	}

	if amountDelta != 0 {
		tag, err := tx.Exec(ctx, `
            UPDATE contracts
            SET amount = amount + $2, updated_at = NOW()
            WHERE id = $1 AND stage = 'proposal'
        `, m.ContractID, amountDelta)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict(apperr.ReasonStaleState, "contract left proposal")
		}
	}

	return tx.Commit(ctx)
}
