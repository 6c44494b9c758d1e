package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uvhelp-io/uvhelp-ce/internal/database"
	"github.com/uvhelp-io/uvhelp-ce/internal/models"
)

// UserRepository resolves email addresses to durable customer identities.
type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ResolveCustomer maps an email address to its email-channel identity,
// creating the user, the shared customer role, and the channel binding on
// first contact. Every write is an insert-ignore on a unique key followed by
// a select, so concurrent calls for the same address converge on one row.
func (r *UserRepository) ResolveCustomer(ctx context.Context, email, displayName string) (*models.UserInstance, error) {
	email = NormalizeAddress(email)
	if email == "" {
		return nil, errors.New("resolve customer: empty email address")
	}

	userID, err := r.ensureUser(ctx, email, displayName)
	if err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", email, err)
	}
	roleID, err := r.ensureRole(ctx, models.RoleCustomer)
	if err != nil {
		return nil, fmt.Errorf("ensure role %s: %w", models.RoleCustomer, err)
	}
	instance, err := r.ensureInstance(ctx, userID, roleID)
	if err != nil {
		return nil, fmt.Errorf("ensure instance for %s: %w", email, err)
	}
	instance.Email = email
	instance.DisplayName = displayName
	return instance, nil
}

// InstanceEmail returns the email address behind a user instance.
func (r *UserRepository) InstanceEmail(ctx context.Context, instanceID int) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx, database.ConvertPlaceholders(`
		SELECT u.email
		FROM uv_user_instance ui
		JOIN uv_user u ON u.id = ui.user_id
		WHERE ui.id = $1
	`), instanceID).Scan(&email)
	if err != nil {
		return "", fmt.Errorf("instance %d email: %w", instanceID, err)
	}
	return email, nil
}

func (r *UserRepository) ensureUser(ctx context.Context, email, displayName string) (int, error) {
	first, last := splitDisplayName(displayName)
	insert := database.ConvertPlaceholders(database.IgnoreConflict(`
		INSERT INTO uv_user (email, first_name, last_name, is_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`))
	if _, err := r.db.ExecContext(ctx, insert, email, first, last, true, r.now()); err != nil {
		return 0, err
	}
	var id int
	err := r.db.QueryRowContext(ctx,
		database.ConvertPlaceholders(`SELECT id FROM uv_user WHERE email = $1`), email).Scan(&id)
	return id, err
}

func (r *UserRepository) ensureRole(ctx context.Context, code string) (int, error) {
	insert := database.ConvertPlaceholders(database.IgnoreConflict(`
		INSERT INTO uv_support_role (code) VALUES ($1)
	`))
	if _, err := r.db.ExecContext(ctx, insert, code); err != nil {
		return 0, err
	}
	var id int
	err := r.db.QueryRowContext(ctx,
		database.ConvertPlaceholders(`SELECT id FROM uv_support_role WHERE code = $1`), code).Scan(&id)
	return id, err
}

func (r *UserRepository) ensureInstance(ctx context.Context, userID, roleID int) (*models.UserInstance, error) {
	insert := database.ConvertPlaceholders(database.IgnoreConflict(`
		INSERT INTO uv_user_instance (user_id, source, support_role_id, is_active, is_verified)
		VALUES ($1, $2, $3, $4, $5)
	`))
	if _, err := r.db.ExecContext(ctx, insert, userID, models.SourceEmail, roleID, true, true); err != nil {
		return nil, err
	}
	instance := &models.UserInstance{}
	err := r.db.QueryRowContext(ctx, database.ConvertPlaceholders(`
		SELECT id, user_id, source, support_role_id, is_active, is_verified
		FROM uv_user_instance
		WHERE user_id = $1 AND source = $2
	`), userID, models.SourceEmail).Scan(
		&instance.ID,
		&instance.UserID,
		&instance.Source,
		&instance.SupportRoleID,
		&instance.IsActive,
		&instance.IsVerified,
	)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// NormalizeAddress trims and lower-cases an email address for lookups and
// comparisons.
func NormalizeAddress(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func splitDisplayName(name string) (first, last string) {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return "Unknown", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
