package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vaultdesk.io/internal/rbac"
)

type roleStore Store

var _ rbac.RoleStore = (*roleStore)(nil)

func (s *roleStore) Create(ctx context.Context, role *rbac.Role) error {
	grants, err := marshalGrants(role.Grants)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (id, name, description, grants, is_system, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, role.ID, role.Name, role.Description, grants, role.System, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*rbac.Role, error) {
	return s.findWhere(ctx, `id = $1`, id)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*rbac.Role, error) {
	return s.findWhere(ctx, `name = $1`, name)
}

func (s *roleStore) findWhere(ctx context.Context, where string, arg any) (*rbac.Role, error) {
	var (
		role rbac.Role
		raw  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, grants, is_system, created_at, updated_at
		from roles
		where `+where, arg).
		Scan(&role.ID, &role.Name, &role.Description, &raw, &role.System, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if role.Grants, err = unmarshalGrants(raw); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) Update(ctx context.Context, role *rbac.Role) error {
	grants, err := marshalGrants(role.Grants)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, grants = $4, updated_at = $5
		where id = $1
	`, role.ID, role.Name, role.Description, grants, role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *roleStore) List(ctx context.Context) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, grants, is_system, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*rbac.Role
	for rows.Next() {
		var (
			role rbac.Role
			raw  []byte
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &raw, &role.System, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if role.Grants, err = unmarshalGrants(raw); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

type assignmentStore Store

var _ rbac.AssignmentStore = (*assignmentStore)(nil)

func (s *assignmentStore) Create(ctx context.Context, a *rbac.Assignment) error {
	var expires sql.NullTime
	if a.ExpiresAt != nil {
		expires = sql.NullTime{Time: *a.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments (id, user_id, role_id, assigned_by, assigned_at, expires_at, active)
		values ($1, $2, $3, nullif($4, ''), $5, $6, $7)
	`, a.ID, a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt, expires, a.Active)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *assignmentStore) Deactivate(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		update role_assignments
		set active = false
		where user_id = $1 and role_id = $2 and active
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *assignmentStore) ListByUser(ctx context.Context, userID string) ([]*rbac.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, role_id, coalesce(assigned_by, ''), assigned_at, expires_at, active
		from role_assignments
		where user_id = $1
		order by assigned_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []*rbac.Assignment
	for rows.Next() {
		var (
			a       rbac.Assignment
			expires sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt, &expires, &a.Active); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			a.ExpiresAt = &t
		}
		assignments = append(assignments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *assignmentStore) CountEffectiveByRole(ctx context.Context, roleID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from role_assignments
		where role_id = $1 and active and (expires_at is null or expires_at > $2)
	`, roleID, now).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

type templateStore Store

var _ rbac.TemplateStore = (*templateStore)(nil)

func (s *templateStore) Create(ctx context.Context, tpl *rbac.PermissionTemplate) error {
	grants, err := marshalGrants(tpl.Grants)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into permission_templates (id, name, description, grants, is_default, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tpl.ID, tpl.Name, tpl.Description, grants, tpl.Default, tpl.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *templateStore) Find(ctx context.Context, id string) (*rbac.PermissionTemplate, error) {
	var (
		tpl rbac.PermissionTemplate
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, grants, is_default, created_at
		from permission_templates
		where id = $1
	`, id).Scan(&tpl.ID, &tpl.Name, &tpl.Description, &raw, &tpl.Default, &tpl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tpl.Grants, err = unmarshalGrants(raw); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *templateStore) List(ctx context.Context) ([]*rbac.PermissionTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, grants, is_default, created_at
		from permission_templates
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*rbac.PermissionTemplate
	for rows.Next() {
		var (
			tpl rbac.PermissionTemplate
			raw []byte
		)
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Description, &raw, &tpl.Default, &tpl.CreatedAt); err != nil {
			return nil, err
		}
		if tpl.Grants, err = unmarshalGrants(raw); err != nil {
			return nil, err
		}
		templates = append(templates, &tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

type userStore Store

var _ rbac.UserStore = (*userStore)(nil)

func (s *userStore) Create(ctx context.Context, u *rbac.AdminUser) error {
	_, err := s.db.ExecContext(ctx, `
		insert into admin_users (id, email, password_hash, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.PasswordHash, u.Status, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*rbac.AdminUser, error) {
	return s.findWhere(ctx, `id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*rbac.AdminUser, error) {
	return s.findWhere(ctx, `email = $1`, email)
}

func (s *userStore) findWhere(ctx context.Context, where string, arg any) (*rbac.AdminUser, error) {
	var u rbac.AdminUser
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, status, created_at, updated_at
		from admin_users
		where `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
