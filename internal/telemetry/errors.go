package telemetry

import "codeberg.org/mutker/sawctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Collection Errors
	ErrCollection    = errors.ErrorCode("telemetry_collection_failed")
	ErrInvalidRecord = errors.ErrorCode("telemetry_invalid_record")

	// Storage Errors
	ErrStorageInit            = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageClose           = errors.ErrorCode("telemetry_storage_close_failed")
	ErrTransactionFailed      = errors.ErrorCode("telemetry_transaction_failed")
	ErrSchemaInitFailed       = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("telemetry_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("telemetry_schema_migration_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrorCode("telemetry_operation_timeout")
	ErrServiceShutdown  = errors.ErrorCode("telemetry_service_shutdown_failed")
)

func init() {
	errors.Register(ErrInvalidConfig, errors.CategoryInternal, "Invalid telemetry configuration")
	errors.Register(ErrInvalidDBPath, errors.CategoryInternal, "Invalid telemetry database path")
	errors.Register(ErrCollection, errors.CategoryInternal, "Failed to record telemetry")
	errors.Register(ErrInvalidRecord, errors.CategoryInternal, "Invalid telemetry record")
	errors.Register(ErrStorageInit, errors.CategoryInternal, "Failed to initialize telemetry storage")
	errors.Register(ErrStorageClose, errors.CategoryInternal, "Failed to close telemetry storage")
	errors.Register(ErrTransactionFailed, errors.CategoryInternal, "Telemetry transaction failed")
	errors.Register(ErrSchemaInitFailed, errors.CategoryInternal, "Failed to initialize telemetry schema")
	errors.Register(ErrSchemaValidationFailed, errors.CategoryInternal, "Failed to validate telemetry schema")
	errors.Register(ErrSchemaMigrationFailed, errors.CategoryInternal, "Failed to migrate telemetry schema")
	errors.Register(ErrOperationTimeout, errors.CategoryInternal, "Telemetry operation timed out")
	errors.Register(ErrServiceShutdown, errors.CategoryInternal, "Failed to shut down telemetry service")
}
