package helpers

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WrapTxAndCommit runs fn inside tx when one is given, otherwise inside a new transaction that is
// committed on success and rolled back on error.
func WrapTxAndCommit[T any](fn func(*gorm.DB) (T, error), db *gorm.DB, tx *gorm.DB) (T, error) {
	exists := tx != nil

	if !exists {
		tx = db.Begin()
		if tx.Error != nil {
			var zero T
			return zero, tx.Error
		}
	}

	res, err := fn(tx)

	if err != nil && !exists {
		tx.Rollback()
	}
	if err == nil && !exists {
		if commitErr := tx.Commit().Error; commitErr != nil {
			return res, commitErr
		}
	}
	return res, err
}

func IsPostgres(grm *gorm.DB) bool {
	return grm.Dialector.Name() == "postgres"
}

// AmountColumnType is the column type for uint256 amounts stored as decimal strings. SQLite would
// coerce large numerics to REAL, so it gets text.
func AmountColumnType(grm *gorm.DB) string {
	if IsPostgres(grm) {
		return "numeric"
	}
	return "text"
}

func TimestampColumnType(grm *gorm.DB) string {
	if IsPostgres(grm) {
		return "timestamp with time zone"
	}
	return "datetime"
}

func JsonColumnType(grm *gorm.DB) string {
	if IsPostgres(grm) {
		return "jsonb"
	}
	return "text"
}

// AmountSortExpression orders an amount column numerically on both dialects.
func AmountSortExpression(grm *gorm.DB, column string) string {
	if IsPostgres(grm) {
		return column
	}
	return "CAST(" + column + " AS REAL)"
}

// ForUpdate adds a row lock on dialects that support one.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if IsPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
