package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
)

// Constraint returns the SQLSTATE and constraint name of a Postgres error.
func Constraint(err error) (code, name string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", "", false
	}
	return pgErr.Code, pgErr.ConstraintName, true
}

// TranslateConstraint maps a constraint violation to the error registered for
// its constraint name. Unknown constraints and non-Postgres errors are
// returned unchanged.
func TranslateConstraint(err error, byConstraint map[string]error) error {
	if err == nil {
		return nil
	}
	_, name, ok := Constraint(err)
	if !ok {
		return err
	}
	if mapped, found := byConstraint[name]; found {
		return mapped
	}
	return err
}
