package db

import (
	"fmt"

	"github.com/reportdesk/reportdesk/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// allModels lists every table in migration order.
func allModels() []any {
	return []any{
		&models.User{},
		&models.Company{},
		&models.Report{},
		&models.Dispatch{},
	}
}

// ddl defines an index or DDL statement to apply.
type ddl struct {
	name string // Human-readable name for error reporting.
	sql  string // SQL to execute.
}

// sharedDDLs lists index statements valid on both dialects.
var sharedDDLs = []ddl{
	{
		name: "idx_reports_user_id_created_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_reports_user_id_created_at
			ON reports (user_id, created_at DESC)
		`,
	},
	{
		name: "idx_reports_user_id_status",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_reports_user_id_status
			ON reports (user_id, status)
		`,
	},
	{
		name: "idx_reports_company_id_created_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_reports_company_id_created_at
			ON reports (company_id, created_at DESC)
		`,
	},
	{
		name: "idx_dispatches_pending_next_try",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_dispatches_pending_next_try
			ON dispatches (next_try_at)
			WHERE status = 'pending'
		`,
	},
	{
		name: "idx_companies_created_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_companies_created_at
			ON companies (created_at DESC)
		`,
	},
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(allModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	for _, item := range sharedDDLs {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	_ = conn.Exec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).Error

	// trgmIndex defines trigram and fallback index statements.
	type trgmIndex struct {
		name     string // Logical index name.
		trgmSQL  string // Trigram index SQL.
		lowerSQL string // Lowercase fallback index SQL.
	}
	trgmIndexes := []trgmIndex{
		{
			name: "idx_companies_name",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_companies_name_trgm
				ON companies USING gin (LOWER(name) gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_companies_name_lower
				ON companies (LOWER(name))
			`,
		},
		{
			name: "idx_users_email",
			trgmSQL: `
				CREATE INDEX IF NOT EXISTS idx_users_email_trgm
				ON users USING gin (LOWER(email) gin_trgm_ops)
			`,
			lowerSQL: `
				CREATE INDEX IF NOT EXISTS idx_users_email_lower
				ON users (LOWER(email))
			`,
		},
	}
	for _, item := range trgmIndexes {
		if errIdx := conn.Exec(item.trgmSQL).Error; errIdx != nil {
			if errLower := conn.Exec(item.lowerSQL).Error; errLower != nil {
				return fmt.Errorf("db: create index %s: %w", item.name, errLower)
			}
		}
	}

	return nil
}

// migrateSQLite applies SQLite-specific schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(allModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	for _, item := range sharedDDLs {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}
