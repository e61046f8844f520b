// Package repotest provides an in-memory repo.UserRepo for service and
// handler tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phoneauth/server/internal/model"
	"github.com/phoneauth/server/internal/repo"
)

// MemoryUserRepo mirrors the Postgres repository's contract, including
// ErrPhoneTaken and the last-admin guard.
type MemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	seq   int64
	// Err, when set, is returned by every call
	Err error
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]*model.User)}
}

var _ repo.UserRepo = (*MemoryUserRepo)(nil)

func clone(u *model.User) *model.User {
	c := *u
	return &c
}

func (m *MemoryUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(u), nil
}

func (m *MemoryUserRepo) GetByPhone(_ context.Context, phone string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if u.PhoneNumber == phone {
			return clone(u), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *MemoryUserRepo) Create(_ context.Context, p repo.CreateUserParams) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if u.PhoneNumber == p.PhoneNumber {
			return nil, repo.ErrPhoneTaken
		}
	}

	// strictly increasing timestamps keep List ordering deterministic
	m.seq++
	now := time.Unix(1_700_000_000+m.seq, 0).UTC()
	role := p.Role
	if role == "" {
		role = model.RoleOrdinary
	}
	u := &model.User{
		ID:             uuid.NewString(),
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		PhoneNumber:    p.PhoneNumber,
		HashedPassword: p.HashedPassword,
		Role:           role,
		IsActive:       p.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.users[u.ID] = u
	return clone(u), nil
}

func (m *MemoryUserRepo) UpdatePassword(_ context.Context, id, hashedPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.HashedPassword = hashedPassword
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryUserRepo) adminCount() int {
	n := 0
	for _, u := range m.users {
		if u.Role == model.RoleAdmin {
			n++
		}
	}
	return n
}

func (m *MemoryUserRepo) UpdateRole(_ context.Context, id string, role model.Role) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if u.Role == model.RoleAdmin && role != model.RoleAdmin && m.adminCount() <= 1 {
		return nil, repo.ErrLastAdmin
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	return clone(u), nil
}

func (m *MemoryUserRepo) UpdateStatus(_ context.Context, id string, isActive bool) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	u.IsActive = isActive
	u.UpdatedAt = time.Now().UTC()
	return clone(u), nil
}

func (m *MemoryUserRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	if u.Role == model.RoleAdmin && m.adminCount() <= 1 {
		return repo.ErrLastAdmin
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryUserRepo) List(_ context.Context, p repo.ListParams) ([]model.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}

	matched := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		if p.Filter.Role != nil && u.Role != *p.Filter.Role {
			continue
		}
		if p.Filter.IsActive != nil && u.IsActive != *p.Filter.IsActive {
			continue
		}
		matched = append(matched, *u)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(p.Skip, total)
	end := min(start+p.Limit, total)
	return matched[start:end], total, nil
}

func (m *MemoryUserRepo) CountAdmins(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.adminCount(), nil
}

func (m *MemoryUserRepo) Stats(_ context.Context) (*model.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var s model.UserStats
	for _, u := range m.users {
		s.TotalUsers++
		if u.Role == model.RoleAdmin {
			s.TotalAdmins++
		} else {
			s.TotalOrdinaryUsers++
		}
		if u.IsActive {
			s.ActiveUsers++
		} else {
			s.InactiveUsers++
		}
	}
	return &s, nil
}
