package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	exclusion := fmt.Errorf("insert booking: %w", &pgconn.PgError{Code: "23P01"})
	if !IsExclusionViolation(exclusion) || IsUniqueViolation(exclusion) {
		t.Fatalf("expected exclusion violation only")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected unique violation")
	}
	if !IsTransient(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("serialization failure should be transient")
	}
	if IsTransient(errors.New("boom")) || IsTransient(nil) {
		t.Fatalf("plain errors are not transient")
	}
	if !IsNotFound(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Fatalf("expected not found")
	}
	if !IsInvalidText(fmt.Errorf("get: %w", &pgconn.PgError{Code: "22P02"})) || IsInvalidText(exclusion) {
		t.Fatalf("expected invalid text representation only for 22P02")
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{MinConns: 20, MaxConns: 4}.withDefaults()
	if o.MaxConns != 4 || o.MinConns != 4 {
		t.Fatalf("unexpected options %+v", o)
	}
	d := Options{}.withDefaults()
	if d.MaxConns != 10 || d.MinConns != 1 || d.MaxConnLifetime == 0 {
		t.Fatalf("unexpected defaults %+v", d)
	}
}
