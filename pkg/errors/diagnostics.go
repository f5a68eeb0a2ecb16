package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of an error: its chain and, when the
// root cause is a Postgres error, the server-reported detail. It is never
// rendered to API clients.
type Diagnostics struct {
	Message string
	Code    Code
	Chain   []string

	SQLState   string
	Constraint string
	Table      string
	Column     string
	Detail     string
}

// Diagnose unwraps err. Both pgx and lib/pq driver errors are recognised.
func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", cur))
	}

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		d.SQLState, d.Constraint, d.Table, d.Column, d.Detail =
			pgErr.Code, pgErr.ConstraintName, pgErr.TableName, pgErr.ColumnName, pgErr.Detail
	case errors.As(err, &pqErr):
		d.SQLState, d.Constraint, d.Table, d.Column, d.Detail =
			string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Column, pqErr.Detail
	}
	return d
}

// Fields returns the populated diagnostics as log fields.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{"error": d.Message}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("error_code", string(d.Code))
	add("sql_state", d.SQLState)
	add("sql_constraint", d.Constraint)
	add("sql_table", d.Table)
	add("sql_column", d.Column)
	add("sql_detail", d.Detail)
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	return fields
}
