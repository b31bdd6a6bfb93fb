package config

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/rongwang/medchain-server/internal/utils"
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Create tables if they don't exist
	if err := CreateTables(db, utils.NewLogger(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// OpenRepository opens the keyed store selected by cfg.Store.Driver
func OpenRepository(cfg *Config) (repository.Repository, error) {
	switch cfg.Store.Driver {
	case DriverPostgres:
		db, err := SetupDatabase(cfg)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresRepository(db), nil
	case DriverLevelDB:
		return repository.OpenLevelDB(cfg.Store.LevelDBPath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// CreateTables creates the tables and indexes if they do not exist
func CreateTables(db *sqlx.DB, logger *utils.Logger) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			role VARCHAR(10) NOT NULL,
			auth_method VARCHAR(10) NOT NULL,
			salt_hex VARCHAR(64) NOT NULL DEFAULT '',
			password_hash_hex VARCHAR(255) NOT NULL DEFAULT '',
			wallet_address VARCHAR(255) NOT NULL DEFAULT '',
			profile TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			CHECK ((password_hash_hex = '') <> (wallet_address = ''))
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id VARCHAR(36) PRIMARY KEY,
			patient_id VARCHAR(36) NOT NULL,
			author_id VARCHAR(36) NOT NULL,
			author_name VARCHAR(255) NOT NULL,
			type VARCHAR(20) NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			file_id VARCHAR(36) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id VARCHAR(36) PRIMARY KEY,
			content_type VARCHAR(255) NOT NULL DEFAULT '',
			data BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		// At most one live grant per pair; revoke deletes the row
		`CREATE TABLE IF NOT EXISTS permissions (
			id VARCHAR(36) PRIMARY KEY,
			patient_id VARCHAR(36) NOT NULL,
			doctor_id VARCHAR(36) NOT NULL,
			granted_at TIMESTAMP NOT NULL,
			UNIQUE (patient_id, doctor_id)
		)`,
		// Blocks have no foreign keys: the audit trail outlives what it documents
		`CREATE TABLE IF NOT EXISTS blocks (
			id VARCHAR(36) PRIMARY KEY,
			patient_id VARCHAR(36) NOT NULL,
			idx BIGINT NOT NULL,
			prev_hash VARCHAR(64) NOT NULL,
			hash VARCHAR(64) NOT NULL,
			timestamp BIGINT NOT NULL,
			payload_type VARCHAR(20) NOT NULL,
			payload_ref VARCHAR(80) NOT NULL DEFAULT '',
			author_id VARCHAR(36) NOT NULL,
			author_name VARCHAR(255) NOT NULL,
			UNIQUE (patient_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS prescriptions (
			id VARCHAR(36) PRIMARY KEY,
			patient_id VARCHAR(36) NOT NULL,
			doctor_id VARCHAR(36) NOT NULL,
			doctor_name VARCHAR(255) NOT NULL,
			medication TEXT NOT NULL,
			dosage TEXT NOT NULL,
			frequency TEXT NOT NULL,
			duration TEXT NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)",
		"CREATE INDEX IF NOT EXISTS idx_records_patient ON records(patient_id)",
		"CREATE INDEX IF NOT EXISTS idx_records_patient_created ON records(patient_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_permissions_patient ON permissions(patient_id)",
		"CREATE INDEX IF NOT EXISTS idx_permissions_doctor ON permissions(doctor_id)",
		"CREATE INDEX IF NOT EXISTS idx_blocks_patient ON blocks(patient_id)",
		"CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions(patient_id)",
		"CREATE INDEX IF NOT EXISTS idx_prescriptions_patient_created ON prescriptions(patient_id, created_at)",
	}

	for _, idx := range indexes {
		_, err := db.Exec(idx)
		if err != nil {
			logger.Warn("failed to create index: %v", err)
			// Don't return error here, indexes are not critical
		}
	}

	return nil
}
