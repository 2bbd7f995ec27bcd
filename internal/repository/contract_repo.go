package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/pkg/outbox"
)

type ContractRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewContractRepository(db *pgxpool.Pool, obx *outbox.Repository, logger *zap.Logger) *ContractRepository {
	return &ContractRepository{db: db, outbox: obx, logger: logger}
}

const contractColumns = `id, project_id, client_id, freelancer_id, bid_id, title, terms, amount,
       stage, terms_accepted, payment_intent_id, start_date, end_date, created_at, updated_at`

func scanContract(row interface{ Scan(...any) error }) (*model.Contract, error) {
	var c model.Contract
	err := row.Scan(
		&c.ID,
		&c.ProjectID,
		&c.ClientID,
		&c.FreelancerID,
		&c.BidID,
		&c.Title,
		&c.Terms,
		&c.Amount,
		&c.Stage,
		&c.TermsAccepted,
		&c.PaymentIntentID,
		&c.StartDate,
		&c.EndDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateWithMilestones inserts the contract and all its milestones in one
// transaction. The unique constraint on bid_id surfaces a second contract for
// the same bid as CONFLICT.
func (r *ContractRepository) CreateWithMilestones(ctx context.Context, c *model.Contract, ms []*model.Milestone, events []OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO contracts (project_id, client_id, freelancer_id, bid_id, title, terms, amount, stage, terms_accepted)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id, created_at, updated_at
    `,
		c.ProjectID,
		c.ClientID,
		c.FreelancerID,
		c.BidID,
		c.Title,
		c.Terms,
		c.Amount,
		c.Stage,
		c.TermsAccepted,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return apperr.FromStore(err, "contract")
	}

	for _, m := range ms {
		m.ContractID = c.ID
		m.ProjectID = c.ProjectID
		err = tx.QueryRow(ctx, `
            INSERT INTO milestones (contract_id, project_id, title, description, amount, due_date, status)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id, created_at, updated_at
        `,
			m.ContractID,
			m.ProjectID,
			m.Title,
			m.Description,
			m.Amount,
			m.DueDate,
			m.Status,
		).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return err
		}
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Info("Contract created",
		zap.Int("contract_id", c.ID),
		zap.Int("bid_id", c.BidID),
		zap.Int("milestones", len(ms)),
	)
	return nil
}

func (r *ContractRepository) FindByID(ctx context.Context, id int) (*model.Contract, error) {
	c, err := scanContract(r.db.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err, "contract")
	}
	return c, nil
}

func (r *ContractRepository) ListByUser(ctx context.Context, userID int) ([]model.Contract, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+contractColumns+`
        FROM contracts
        WHERE client_id = $1 OR freelancer_id = $1
        ORDER BY created_at DESC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

// UpdateTerms edits title/terms while the contract is still in proposal.
// The conditional WHERE re-checks the stage inside the write so a concurrent
// approval cannot be overwritten.
func (r *ContractRepository) UpdateTerms(ctx context.Context, id int, title, terms string) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE contracts
        SET title = $2, terms = $3, updated_at = NOW()
        WHERE id = $1 AND stage = 'proposal'
    `, id, title, terms)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "contract stage changed")
	}
	return nil
}

// AdvanceOptions controls the side fields written together with a stage move.
type AdvanceOptions struct {
	SetTermsAccepted bool
	SetEndDate       bool
}

// AdvanceStage applies a single stage transition. The WHERE stage=$from is
// the optimistic-concurrency check: zero rows means the stage changed since
// the caller observed it.
func (r *ContractRepository) AdvanceStage(ctx context.Context, id int, from, to string, opts AdvanceOptions, events []OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `UPDATE contracts SET stage = $3, updated_at = NOW()`
	if opts.SetTermsAccepted {
		query += `, terms_accepted = TRUE`
	}
	if opts.SetEndDate {
		query += `, end_date = NOW()`
	}
	query += ` WHERE id = $1 AND stage = $2`

	tag, err := tx.Exec(ctx, query, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "contract stage changed")
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Info("Contract stage advanced",
		zap.Int("contract_id", id),
		zap.String("from", from),
		zap.String("to", to),
	)
	return nil
}

// CompleteIfAllPaid finishes a contract from review once every live milestone
// is paid, re-reading both inside the transaction. Cancelled milestones were
// descoped or refunded and do not count. Returns INVALID_STATE when the stage
// is not review or milestones remain unpaid.
func (r *ContractRepository) CompleteIfAllPaid(ctx context.Context, id int, events []OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var stage string
	if err := tx.QueryRow(ctx, `SELECT stage FROM contracts WHERE id = $1 FOR UPDATE`, id).Scan(&stage); err != nil {
		return apperr.FromStore(err, "contract")
	}
	if stage != model.ContractStageReview {
		return apperr.InvalidState(apperr.ReasonInvalidSourceState, "contract not in review")
	}

	var unpaid int
	if err := tx.QueryRow(ctx, `
        SELECT COUNT(*) FROM milestones
        WHERE contract_id = $1 AND status NOT IN ('paid', 'cancelled')
    `, id).Scan(&unpaid); err != nil {
		return err
	}
	if unpaid > 0 {
		return apperr.InvalidState(apperr.ReasonMilestonesUnpaid, "milestones not yet paid")
	}

	if _, err := tx.Exec(ctx, `
        UPDATE contracts
        SET stage = 'completed', end_date = NOW(), updated_at = NOW()
        WHERE id = $1
    `, id); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
        UPDATE projects
        SET status = 'completed', updated_at = NOW()
        WHERE id = (SELECT project_id FROM contracts WHERE id = $1)
    `, id); err != nil {
		return err
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Info("Contract completed", zap.Int("contract_id", id))
	return nil
}

// CountUnpaidMilestones is a read-model helper for precondition checks
// outside the completing transaction.
func (r *ContractRepository) CountUnpaidMilestones(ctx context.Context, id int) (int, error) {
	var unpaid int
	err := r.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM milestones
        WHERE contract_id = $1 AND status NOT IN ('paid', 'cancelled')
    `, id).Scan(&unpaid)
	return unpaid, err
}
