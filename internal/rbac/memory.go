package rbac

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and
// single-process development setups. Production deployments use the pg store.
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[string]Role
	assignments map[string]Assignment
	templates   map[string]PermissionTemplate
	users       map[string]AdminUser
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]Role),
		assignments: make(map[string]Assignment),
		templates:   make(map[string]PermissionTemplate),
		users:       make(map[string]AdminUser),
	}
}

func (m *MemoryStore) Roles(context.Context) RoleStore             { return (*memoryRoles)(m) }
func (m *MemoryStore) Assignments(context.Context) AssignmentStore { return (*memoryAssignments)(m) }
func (m *MemoryStore) Templates(context.Context) TemplateStore     { return (*memoryTemplates)(m) }
func (m *MemoryStore) Users(context.Context) UserStore             { return (*memoryUsers)(m) }

// Roles ---------------------------------------------------------------------

type memoryRoles MemoryStore

func (m *memoryRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrConflict
		}
	}
	m.roles[role.ID] = *role
	return nil
}

func (m *memoryRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &role, nil
}

func (m *memoryRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.roles {
		if role.Name == name {
			found := role
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRoles) Update(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.roles {
		if id != role.ID && existing.Name == role.Name {
			return ErrConflict
		}
	}
	m.roles[role.ID] = *role
	return nil
}

func (m *memoryRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memoryRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		found := role
		out = append(out, &found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Assignments ---------------------------------------------------------------

type memoryAssignments MemoryStore

func (m *memoryAssignments) Create(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = *a
	return nil
}

func (m *memoryAssignments) Deactivate(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := false
	for id, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			matched = true
			if a.Active {
				a.Active = false
				m.assignments[id] = a
			}
		}
	}
	if !matched {
		return ErrNotFound
	}
	return nil
}

func (m *memoryAssignments) ListByUser(_ context.Context, userID string) ([]*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Assignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			found := a
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (m *memoryAssignments) CountEffectiveByRole(_ context.Context, roleID string, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.EffectiveAt(now) {
			count++
		}
	}
	return count, nil
}

// Templates -----------------------------------------------------------------

type memoryTemplates MemoryStore

func (m *memoryTemplates) Create(_ context.Context, tpl *PermissionTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.templates {
		if existing.Name == tpl.Name {
			return ErrConflict
		}
	}
	m.templates[tpl.ID] = *tpl
	return nil
}

func (m *memoryTemplates) Find(_ context.Context, id string) (*PermissionTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tpl, nil
}

func (m *memoryTemplates) List(_ context.Context) ([]*PermissionTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PermissionTemplate, 0, len(m.templates))
	for _, tpl := range m.templates {
		found := tpl
		out = append(out, &found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Users ---------------------------------------------------------------------

type memoryUsers MemoryStore

func (m *memoryUsers) Create(_ context.Context, u *AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memoryUsers) Find(_ context.Context, id string) (*AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}
