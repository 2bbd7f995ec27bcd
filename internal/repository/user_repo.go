package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"workbridge/internal/model"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	query := `
        INSERT INTO users (email, password_hash, role, payout_account, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.PayoutAccount,
	).Scan(&u.ID, &u.CreatedAt)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
        SELECT id, email, password_hash, role, payout_account, created_at
        FROM users
        WHERE email = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, email).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.PayoutAccount,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int) (*model.User, error) {
	query := `
        SELECT id, email, password_hash, role, payout_account, created_at
        FROM users
        WHERE id = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.PayoutAccount,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
