package service

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/internal/util"
	"workbridge/pkg/rbac"
)

type AuthService struct {
	users     UserStore
	jwtSecret string
	logger    *zap.Logger
}

func NewAuthService(users UserStore, jwtSecret string, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, jwtSecret: jwtSecret, logger: logger}
}

type RegisterInput struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	PayoutAccount string `json:"payout_account,omitempty"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}
	if len(in.Password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if !rbac.ValidRole(in.Role) || in.Role == rbac.RoleAdmin {
		return nil, apperr.Validation("role must be client or freelancer")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:         email,
		PasswordHash:  string(hash),
		Role:          in.Role,
		PayoutAccount: in.PayoutAccount,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("User registered", zap.Int("user_id", u.ID), zap.String("role", u.Role))
	return u, nil
}

// Login verifies the credentials and issues a JWT carrying the user id and
// role. The role in the token is what the auth middleware trusts.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	u, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return "", nil, apperr.Forbidden("", "invalid email or password")
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, apperr.Forbidden("", "invalid email or password")
	}
	token, err := util.GenerateJWT(u.ID, u.Role, s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}
