package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoneauth/server/internal/model"
)

func newUserTestFixture(t *testing.T) (UserRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewUserRepo(mock), mock
}

func sampleUser() *model.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.User{
		ID:             uuid.NewString(),
		FirstName:      "Aziz",
		LastName:       "Karimov",
		PhoneNumber:    "+998901234567",
		HashedPassword: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		Role:           model.RoleOrdinary,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func userRows(users ...*model.User) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "first_name", "last_name", "phone_number", "hashed_password",
		"role", "is_active", "created_at", "updated_at",
	})
	for _, u := range users {
		rows.AddRow(u.ID, u.FirstName, u.LastName, u.PhoneNumber, u.HashedPassword,
			string(u.Role), u.IsActive, u.CreatedAt, u.UpdatedAt)
	}
	return rows
}

func TestUserRepo_GetByID(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	u := sampleUser()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id =").
		WithArgs(u.ID).
		WillReturnRows(userRows(u))

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	id := uuid.NewString()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id =").
		WithArgs(id).
		WillReturnRows(userRows())

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID_NonUUIDSkipsQuery(t *testing.T) {
	repo, mock := newUserTestFixture(t)

	_, err := repo.GetByID(context.Background(), "42")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByPhone(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	u := sampleUser()

	mock.ExpectQuery("SELECT .+ FROM users WHERE phone_number =").
		WithArgs(u.PhoneNumber).
		WillReturnRows(userRows(u))

	got, err := repo.GetByPhone(context.Background(), u.PhoneNumber)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, model.RoleOrdinary, got.Role)
}

func TestUserRepo_Create(t *testing.T) {
	repo, mock := newUserTestFixture(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "Aziz", "Karimov", "+998901234567", "digest",
			"ordinary", true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	u, err := repo.Create(context.Background(), CreateUserParams{
		FirstName:      "Aziz",
		LastName:       "Karimov",
		PhoneNumber:    "+998901234567",
		HashedPassword: "digest",
		IsActive:       true,
	})
	require.NoError(t, err)
	_, err = uuid.Parse(u.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.RoleOrdinary, u.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_DuplicatePhone(t *testing.T) {
	repo, mock := newUserTestFixture(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"))

	_, err := repo.Create(context.Background(), CreateUserParams{PhoneNumber: "+1", Role: model.RoleAdmin})
	assert.ErrorIs(t, err, ErrPhoneTaken)
}

func TestUserRepo_UpdatePassword(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	id := uuid.NewString()

	mock.ExpectExec("UPDATE users SET hashed_password").
		WithArgs("new-digest", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdatePassword(context.Background(), id, "new-digest"))

	mock.ExpectExec("UPDATE users SET hashed_password").
		WithArgs("new-digest", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.UpdatePassword(context.Background(), id, "new-digest"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_UpdateRole_Promote(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	u := sampleUser()
	promoted := *u
	promoted.Role = model.RoleAdmin

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT role FROM users WHERE id = .+ FOR UPDATE").
		WithArgs(u.ID).
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("ordinary"))
	mock.ExpectQuery("UPDATE users SET role").
		WithArgs("admin", u.ID).
		WillReturnRows(userRows(&promoted))
	mock.ExpectCommit()

	got, err := repo.UpdateRole(context.Background(), u.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_UpdateRole_LastAdmin(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT role FROM users WHERE id = .+ FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectRollback()

	_, err := repo.UpdateRole(context.Background(), id, model.RoleOrdinary)
	assert.ErrorIs(t, err, ErrLastAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_UpdateRole_NotFound(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT role FROM users WHERE id = .+ FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"role"}))
	mock.ExpectRollback()

	_, err := repo.UpdateRole(context.Background(), id, model.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_UpdateStatus(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	u := sampleUser()
	u.IsActive = false

	mock.ExpectQuery("UPDATE users SET is_active").
		WithArgs(false, u.ID).
		WillReturnRows(userRows(u))

	got, err := repo.UpdateStatus(context.Background(), u.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestUserRepo_Delete(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT role FROM users WHERE id = .+ FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectExec("DELETE FROM users WHERE id =").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Delete_LastAdmin(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT role FROM users WHERE id = .+ FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.Delete(context.Background(), id), ErrLastAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Delete_BeginFails(t *testing.T) {
	repo, mock := newUserTestFixture(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := repo.Delete(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestUserRepo_List_WithFilters(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	a, b := sampleUser(), sampleUser()
	role := model.RoleOrdinary
	active := true

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE role = \$1 AND is_active = \$2`).
		WithArgs("ordinary", true).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`SELECT .+ FROM users WHERE role = \$1 AND is_active = \$2 ORDER BY created_at, id LIMIT \$3 OFFSET \$4`).
		WithArgs("ordinary", true, 2, 4).
		WillReturnRows(userRows(a, b))

	users, total, err := repo.List(context.Background(), ListParams{
		Filter: UserFilter{Role: &role, IsActive: &active},
		Skip:   4,
		Limit:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, users, 2)
	assert.Equal(t, a.ID, users[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_List_NoFilter(t *testing.T) {
	repo, mock := newUserTestFixture(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users$`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .+ FROM users ORDER BY created_at, id LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 0).
		WillReturnRows(userRows())

	users, total, err := repo.List(context.Background(), ListParams{Limit: 100})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, users)
	assert.NotNil(t, users)
}

func TestUserRepo_Stats(t *testing.T) {
	repo, mock := newUserTestFixture(t)

	mock.ExpectQuery("SELECT .+ FILTER").
		WillReturnRows(pgxmock.NewRows([]string{"total", "admins", "ordinary", "active", "inactive"}).
			AddRow(10, 2, 8, 9, 1))

	s, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &model.UserStats{
		TotalUsers: 10, TotalAdmins: 2, TotalOrdinaryUsers: 8, ActiveUsers: 9, InactiveUsers: 1,
	}, s)
}

func TestUserRepo_CountAdmins(t *testing.T) {
	repo, mock := newUserTestFixture(t)

	mock.ExpectQuery("SELECT COUNT.+ FROM users WHERE role = 'admin'").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountAdmins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
