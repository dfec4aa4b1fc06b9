package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"chat_server/server/gateway/domain"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) CreateUser(ctx context.Context, user domain.User, password string) (string, error) {
	if strings.TrimSpace(user.Email) == "" || strings.TrimSpace(user.Name) == "" {
		return "", errors.New("email and name are required")
	}
	if password == "" {
		return "", errors.New("password is required")
	}
	if user.Role == "" {
		user.Role = domain.UserRoleUser
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	var userID string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO users(email, name, role, password_hash)
		VALUES($1, $2, $3, $4)
		RETURNING user_id::text
	`, strings.ToLower(strings.TrimSpace(user.Email)), strings.TrimSpace(user.Name), user.Role, string(hashed)).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (r *UserRepository) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, email, name, role, password_hash, created_at
		FROM users
		WHERE email=$1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, email, name, role, created_at
		FROM users
		WHERE user_id=$1::uuid
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}
