package dbexec

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	ErrUniqueViolation     = errors.New("unique constraint violated")
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
	ErrAccessDenied        = errors.New("access denied")
)

const (
	mysqlErrDBAccessDenied     = 1044
	mysqlErrAccessDenied       = 1045
	mysqlErrDuplicateEntry     = 1062
	mysqlErrTableAccessDenied  = 1142
	mysqlErrColumnAccessDenied = 1143
	mysqlErrRowIsReferenced    = 1451
	mysqlErrNoReferencedRow    = 1452
)

const (
	pgUniqueViolation       = "23505"
	pgForeignKeyViolation   = "23503"
	pgInsufficientPrivilege = "42501"
	pgInvalidPassword       = "28P01"
	pgInvalidAuthorization  = "28000"
)

// NormalizeError classifies driver errors from pgx, lib/pq and the MySQL driver.
// The driver error stays in the chain so callers can still inspect it.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if class := classify(err); class != nil {
		return fmt.Errorf("%w: %w", class, err)
	}
	return err
}

func classify(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDuplicateEntry:
			return ErrUniqueViolation
		case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
			return ErrForeignKeyViolation
		case mysqlErrDBAccessDenied, mysqlErrAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
			return ErrAccessDenied
		}
		return nil
	}

	var code string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	default:
		return nil
	}

	switch code {
	case pgUniqueViolation:
		return ErrUniqueViolation
	case pgForeignKeyViolation:
		return ErrForeignKeyViolation
	case pgInsufficientPrivilege, pgInvalidPassword, pgInvalidAuthorization:
		return ErrAccessDenied
	}
	return nil
}
