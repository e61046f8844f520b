package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phoneauth/server/internal/model"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrPhoneTaken = errors.New("phone number already registered")
	ErrLastAdmin  = errors.New("cannot remove the last admin")
)

// DB is the subset of pgxpool.Pool used by the repositories
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserFilter narrows List; nil fields do not filter
type UserFilter struct {
	Role     *model.Role
	IsActive *bool
}

// ListParams selects a page of users
type ListParams struct {
	Filter UserFilter
	Skip   int
	Limit  int
}

// CreateUserParams holds the fields of a new user
type CreateUserParams struct {
	FirstName      string
	LastName       string
	PhoneNumber    string
	HashedPassword string
	Role           model.Role
	IsActive       bool
}

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByPhone(ctx context.Context, phone string) (*model.User, error)
	Create(ctx context.Context, p CreateUserParams) (*model.User, error)
	UpdatePassword(ctx context.Context, id, hashedPassword string) error
	// UpdateRole fails with ErrLastAdmin when it would demote the only admin
	UpdateRole(ctx context.Context, id string, role model.Role) (*model.User, error)
	UpdateStatus(ctx context.Context, id string, isActive bool) (*model.User, error)
	// Delete fails with ErrLastAdmin when id is the only admin
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, p ListParams) ([]model.User, int, error)
	CountAdmins(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*model.UserStats, error)
}

type userRepo struct {
	db DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, first_name, last_name, phone_number, hashed_password, role, is_active, created_at, updated_at`

// Locks every admin row in id order so concurrent demotions and deletions
// serialize on the same rows before counting.
const lockAdminsQuery = `
	SELECT COUNT(*) FROM (
		SELECT id FROM users WHERE role = 'admin' ORDER BY id FOR UPDATE
	) AS admins`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.PhoneNumber,
		&u.HashedPassword,
		&role,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// isUniqueViolation checks for SQLSTATE 23505
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}

// Ids are UUID columns; anything else cannot match a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByPhone retrieves a user by phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone_number = $1`
	return scanUser(r.db.QueryRow(ctx, query, phone))
}

// Create inserts a new user. A duplicate phone yields ErrPhoneTaken.
func (r *userRepo) Create(ctx context.Context, p CreateUserParams) (*model.User, error) {
	now := time.Now().UTC()
	u := &model.User{
		ID:             uuid.NewString(),
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		PhoneNumber:    p.PhoneNumber,
		HashedPassword: p.HashedPassword,
		Role:           p.Role,
		IsActive:       p.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if u.Role == "" {
		u.Role = model.RoleOrdinary
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.FirstName,
		u.LastName,
		u.PhoneNumber,
		u.HashedPassword,
		string(u.Role),
		u.IsActive,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPhoneTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UpdatePassword replaces the stored digest
func (r *userRepo) UpdatePassword(ctx context.Context, id, hashedPassword string) error {
	if !validID(id) {
		return ErrNotFound
	}
	ct, err := r.db.Exec(ctx,
		`UPDATE users SET hashed_password = $1, updated_at = NOW() WHERE id = $2`,
		hashedPassword, id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRole changes a user's role inside a transaction holding the admin row locks
func (r *userRepo) UpdateRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	var updated *model.User
	err := r.withAdminLock(ctx, id, func(tx pgx.Tx, current model.Role, admins int) error {
		if current == model.RoleAdmin && role != model.RoleAdmin && admins <= 1 {
			return ErrLastAdmin
		}
		query := `UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + userColumns
		u, err := scanUser(tx.QueryRow(ctx, query, string(role), id))
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatus activates or deactivates a user
func (r *userRepo) UpdateStatus(ctx context.Context, id string, isActive bool) (*model.User, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + userColumns
	return scanUser(r.db.QueryRow(ctx, query, isActive, id))
}

// Delete removes a user inside a transaction holding the admin row locks
func (r *userRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}

	return r.withAdminLock(ctx, id, func(tx pgx.Tx, current model.Role, admins int) error {
		if current == model.RoleAdmin && admins <= 1 {
			return ErrLastAdmin
		}
		ct, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// withAdminLock locks all admin rows, then the target row, and runs fn with
// the target's current role and the admin count. fn's error aborts the tx.
func (r *userRepo) withAdminLock(ctx context.Context, id string, fn func(tx pgx.Tx, current model.Role, admins int) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var admins int
	if err := tx.QueryRow(ctx, lockAdminsQuery).Scan(&admins); err != nil {
		return fmt.Errorf("lock admins: %w", err)
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}

	if err := fn(tx, model.Role(current), admins); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func buildUserFilter(f UserFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Role != nil {
		args = append(args, string(*f.Role))
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of users matching the filter and the total match count
func (r *userRepo) List(ctx context.Context, p ListParams) ([]model.User, int, error) {
	where, args := buildUserFilter(p.Filter)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, p.Limit, p.Skip)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, p.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return users, total, nil
}

// CountAdmins returns the number of users with the admin role
func (r *userRepo) CountAdmins(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// Stats aggregates role and status counts in one pass
func (r *userRepo) Stats(ctx context.Context) (*model.UserStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE role = 'admin'),
			COUNT(*) FILTER (WHERE role = 'ordinary'),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE NOT is_active)
		FROM users`

	var s model.UserStats
	err := r.db.QueryRow(ctx, query).Scan(
		&s.TotalUsers,
		&s.TotalAdmins,
		&s.TotalOrdinaryUsers,
		&s.ActiveUsers,
		&s.InactiveUsers,
	)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	return &s, nil
}
