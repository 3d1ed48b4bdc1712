package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn, pgx.Tx and test mocks.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres SQLSTATE codes the data-access layer distinguishes.
const (
	codeInvalidSchemaName   = "3F000"
	codeUndefinedTable      = "42P01"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

// Translate folds driver errors into the apperr taxonomy. Errors that already
// carry a taxonomy sentinel and unrecognised errors pass through unchanged.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInvalidSchemaName, codeUndefinedTable:
			return fmt.Errorf("%w: %s", apperr.ErrUnknownTenant, pgErr.Message)
		case codeCheckViolation, codeNotNullViolation, codeForeignKeyViolation, codeInvalidText:
			return fmt.Errorf("%w: %s", apperr.ErrValidation, pgErr.Message)
		}
	}
	return err
}
