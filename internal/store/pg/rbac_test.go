package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"vaultdesk.io/internal/authz"
	"vaultdesk.io/internal/rbac"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func mustMeetExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into roles").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Roles(context.Background()).Create(context.Background(), &rbac.Role{
		ID:   "role-1",
		Name: "Moderator",
	})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	mustMeetExpectations(t, mock)
}

func TestRoleFindRoundTripsGrants(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	grants := []authz.Grant{{
		Resource: authz.ResourceDashboard,
		Actions:  []authz.Permission{authz.PermissionRead, authz.PermissionUpdate},
	}}
	raw, err := json.Marshal(grants)
	if err != nil {
		t.Fatalf("marshal grants: %v", err)
	}
	mock.ExpectQuery("select id, name, description, grants, is_system, created_at, updated_at.*from roles").
		WithArgs("role-1").
		WillReturnRows(sqlmock.
			NewRows([]string{"id", "name", "description", "grants", "is_system", "created_at", "updated_at"}).
			AddRow("role-1", "Moderator", "handles tickets", raw, false, now, now))

	role, err := store.Roles(context.Background()).Find(context.Background(), "role-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if role.Name != "Moderator" || role.System {
		t.Fatalf("unexpected role %+v", role)
	}
	if len(role.Grants) != 1 || role.Grants[0].Resource != authz.ResourceDashboard || len(role.Grants[0].Actions) != 2 {
		t.Fatalf("grants not decoded: %+v", role.Grants)
	}
	mustMeetExpectations(t, mock)
}

func TestRoleFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select id, name, description, grants, is_system, created_at, updated_at.*from roles").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "grants", "is_system", "created_at", "updated_at"}))

	if _, err := store.Roles(context.Background()).Find(context.Background(), "missing"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mustMeetExpectations(t, mock)
}

func TestRoleUpdateNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update roles").
		WithArgs("role-1", "Moderator", "handles tickets", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Roles(context.Background()).Update(context.Background(), &rbac.Role{
		ID:          "role-1",
		Name:        "Moderator",
		Description: "handles tickets",
	})
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mustMeetExpectations(t, mock)
}

func TestAssignmentDeactivate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update role_assignments").
		WithArgs("user-1", "role-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := store.Assignments(context.Background()).Deactivate(context.Background(), "user-1", "role-1"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	mock.ExpectExec("update role_assignments").
		WithArgs("user-1", "role-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.Assignments(context.Background()).Deactivate(context.Background(), "user-1", "role-1")
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when nothing matched, got %v", err)
	}
	mustMeetExpectations(t, mock)
}

func TestAssignmentListByUserDecodesExpiry(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	expires := now.Add(time.Hour)
	mock.ExpectQuery("select id, user_id, role_id, coalesce.*from role_assignments").
		WithArgs("user-1").
		WillReturnRows(sqlmock.
			NewRows([]string{"id", "user_id", "role_id", "assigned_by", "assigned_at", "expires_at", "active"}).
			AddRow("a-1", "user-1", "role-1", "admin-9", now, expires, true).
			AddRow("a-2", "user-1", "role-2", "", now, nil, false))

	assignments, err := store.Assignments(context.Background()).ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}
	if assignments[0].ExpiresAt == nil || !assignments[0].ExpiresAt.Equal(expires) {
		t.Fatalf("expiry not decoded: %+v", assignments[0])
	}
	if assignments[1].ExpiresAt != nil || assignments[1].Active {
		t.Fatalf("unexpected second assignment: %+v", assignments[1])
	}
	mustMeetExpectations(t, mock)
}

func TestCountEffectiveByRole(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select count.*from role_assignments").
		WithArgs("role-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.Assignments(context.Background()).CountEffectiveByRole(context.Background(), "role-1", now)
	if err != nil {
		t.Fatalf("CountEffectiveByRole: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}
	mustMeetExpectations(t, mock)
}

func TestUserFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select id, email, password_hash, status, created_at, updated_at.*from admin_users").
		WithArgs("ops@example.com").
		WillReturnRows(sqlmock.
			NewRows([]string{"id", "email", "password_hash", "status", "created_at", "updated_at"}).
			AddRow("user-1", "ops@example.com", "$2a$10$hash", rbac.UserStatusActive, now, now))

	u, err := store.Users(context.Background()).FindByEmail(context.Background(), "ops@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "user-1" || u.Status != rbac.UserStatusActive {
		t.Fatalf("unexpected user %+v", u)
	}
	mustMeetExpectations(t, mock)
}

func TestTemplateCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into permission_templates").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Templates(context.Background()).Create(context.Background(), &rbac.PermissionTemplate{
		ID:   "tpl-1",
		Name: "Support",
	})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	mustMeetExpectations(t, mock)
}
