package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorDump is a log-friendly snapshot of an error chain.
type ErrorDump struct {
	TopMessage string         `json:"top_message"`
	Code       Code           `json:"code,omitempty"`
	Retryable  bool           `json:"retryable"`
	Chain      []string       `json:"chain,omitempty"`
	Postgres   *PostgresError `json:"postgres,omitempty"`
}

// PostgresError carries the server fields of a ledger database failure.
type PostgresError struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
		Code:       CodeOf(err),
		Retryable:  IsRetryable(err),
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d.Postgres = &PostgresError{
			Code:       pgErr.Code,
			Constraint: pgErr.ConstraintName,
			Table:      pgErr.TableName,
			Column:     pgErr.ColumnName,
			Detail:     pgErr.Detail,
			Message:    pgErr.Message,
		}
	}

	return d
}

// Fields flattens the dump for structured log entries.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  string(d.Code),
		"error_chain": d.Chain,
		"retryable":   d.Retryable,
	}
	if d.Postgres != nil {
		fields["pg_code"] = d.Postgres.Code
		fields["pg_table"] = d.Postgres.Table
		fields["pg_constraint"] = d.Postgres.Constraint
		fields["pg_message"] = d.Postgres.Message
	}
	return fields
}
