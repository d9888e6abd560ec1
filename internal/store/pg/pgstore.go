// Package pg persists rbac entities in PostgreSQL through database/sql with
// the pgx driver. Grant lists are stored as jsonb documents.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vaultdesk.io/internal/authz"
	"vaultdesk.io/internal/rbac"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ rbac.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Roles(context.Context) rbac.RoleStore { return (*roleStore)(s) }

func (s *Store) Assignments(context.Context) rbac.AssignmentStore { return (*assignmentStore)(s) }

func (s *Store) Templates(context.Context) rbac.TemplateStore { return (*templateStore)(s) }

func (s *Store) Users(context.Context) rbac.UserStore { return (*userStore)(s) }

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func marshalGrants(grants []authz.Grant) ([]byte, error) {
	if len(grants) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(grants)
	if err != nil {
		return nil, fmt.Errorf("marshal grants: %w", err)
	}
	return data, nil
}

func unmarshalGrants(raw []byte) ([]authz.Grant, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var grants []authz.Grant
	if err := json.Unmarshal(raw, &grants); err != nil {
		return nil, fmt.Errorf("decode grants: %w", err)
	}
	if len(grants) == 0 {
		return nil, nil
	}
	return grants, nil
}
