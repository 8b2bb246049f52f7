package store

import "codeberg.org/mutker/modemstat/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrSchemaMismatch         = errors.ErrorCode("store_schema_mismatch")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrorCode("store_init_failed")
	ErrStorageClose = errors.ErrorCode("store_close_failed")
	ErrStorageRead  = errors.ErrReadHistory
)
