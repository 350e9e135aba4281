package errors

import (
	"errors"
	"fmt"

	legacypgconn "github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// StoreFailure is the driver-level part of an error chain.
type StoreFailure struct {
	Driver     string
	State      string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// Report flattens an error chain for logging. It is never sent to clients.
type Report struct {
	Message string
	Code    Code
	Chain   []string
	Store   *StoreFailure
}

func Inspect(err error) Report {
	if err == nil {
		return Report{}
	}
	r := Report{Message: err.Error(), Store: storeFailure(err)}
	if typed := As(err); typed != nil {
		r.Code = typed.Code()
	}
	r.Chain = chain(err, nil)
	return r
}

// Fields renders the report as log fields, leaving out empty values.
func (r Report) Fields() map[string]any {
	f := map[string]any{"error": r.Message}
	if r.Code != "" {
		f["error_code"] = r.Code
	}
	if len(r.Chain) > 1 {
		f["error_chain"] = r.Chain
	}
	if s := r.Store; s != nil {
		f["db_driver"] = s.Driver
		put(f, "db_state", s.State)
		put(f, "db_constraint", s.Constraint)
		put(f, "db_table", s.Table)
		put(f, "db_column", s.Column)
		put(f, "db_detail", s.Detail)
		put(f, "db_message", s.Message)
	}
	return f
}

func put(f map[string]any, key, value string) {
	if value != "" {
		f[key] = value
	}
}

func chain(err error, acc []string) []string {
	for e := err; e != nil; {
		acc = append(acc, fmt.Sprintf("%T: %v", e, e))
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				acc = chain(inner, acc)
			}
			return acc
		case interface{ Unwrap() error }:
			e = u.Unwrap()
		default:
			return acc
		}
	}
	return acc
}

func storeFailure(err error) *StoreFailure {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &StoreFailure{
			Driver:     "pgx",
			State:      pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var legacyErr *legacypgconn.PgError
	if errors.As(err, &legacyErr) {
		return &StoreFailure{
			Driver:     "pgconn",
			State:      legacyErr.Code,
			Constraint: legacyErr.ConstraintName,
			Table:      legacyErr.TableName,
			Column:     legacyErr.ColumnName,
			Detail:     legacyErr.Detail,
			Message:    legacyErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &StoreFailure{
			Driver:     "pq",
			State:      string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return &StoreFailure{
			Driver:  "sqlite",
			State:   fmt.Sprintf("%d/%d", liteErr.Code, liteErr.ExtendedCode),
			Message: liteErr.Error(),
		}
	}
	return nil
}
