package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of a failure. Nothing here reaches clients.
type Diagnostics struct {
	Message string   `json:"message"`
	Code    Code     `json:"code,omitempty"`
	Chain   []string `json:"chain,omitempty"`

	// Postgres fields, set when either driver reported the failure.
	SQLState   string `json:"sql_state,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Diagnose walks err's chain for log fields.
func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.code
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		d.SQLState, d.Constraint, d.Detail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.Detail
		d.Table, d.Column = pgxErr.TableName, pgxErr.ColumnName
	case stdErrors.As(err, &pqErr):
		d.SQLState, d.Constraint, d.Detail = string(pqErr.Code), pqErr.Constraint, pqErr.Detail
		d.Table, d.Column = pqErr.Table, pqErr.Column
	}
	return d
}

// Fields flattens d into logger fields, omitting empty Postgres values.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	for key, value := range map[string]string{
		"pg_code":       d.SQLState,
		"pg_constraint": d.Constraint,
		"pg_table":      d.Table,
		"pg_column":     d.Column,
		"pg_detail":     d.Detail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
