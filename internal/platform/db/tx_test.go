package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestConstraint(t *testing.T) {
	pgErr := &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "checkup_one_upcoming_per_patient"}
	code, name, ok := Constraint(fmt.Errorf("insert checkup: %w", pgErr))
	if !ok {
		t.Fatal("expected postgres error to be detected")
	}
	if code != CodeUniqueViolation {
		t.Errorf("expected code %s, got %s", CodeUniqueViolation, code)
	}
	if name != "checkup_one_upcoming_per_patient" {
		t.Errorf("unexpected constraint name %s", name)
	}

	if _, _, ok := Constraint(errors.New("plain")); ok {
		t.Error("expected plain error to be ignored")
	}
}

func TestTranslateConstraint(t *testing.T) {
	dup := errors.New("duplicate")
	mapping := map[string]error{"vaccine_name_key": dup}

	err := TranslateConstraint(&pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "vaccine_name_key"}, mapping)
	if !errors.Is(err, dup) {
		t.Errorf("expected mapped error, got %v", err)
	}

	other := &pgconn.PgError{Code: CodeCheckViolation, ConstraintName: "something_else"}
	if err := TranslateConstraint(other, mapping); err != other {
		t.Errorf("expected unmapped error to pass through, got %v", err)
	}

	if err := TranslateConstraint(nil, mapping); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
