package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all access-control migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create departments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS departments (
					id BIGSERIAL PRIMARY KEY,
					parent_id BIGINT REFERENCES departments(id) ON DELETE RESTRICT,
					name VARCHAR(255) NOT NULL,
					sort INT NOT NULL DEFAULT 0
				);

				CREATE INDEX IF NOT EXISTS idx_departments_parent_id ON departments(parent_id);

				CREATE TABLE IF NOT EXISTS principal_departments (
					principal_id BIGINT PRIMARY KEY,
					dept_id BIGINT NOT NULL REFERENCES departments(id) ON DELETE RESTRICT
				);

				CREATE INDEX IF NOT EXISTS idx_principal_departments_dept_id ON principal_departments(dept_id);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					parent_role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_roles_parent_role_id ON roles(parent_role_id);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(255) NOT NULL UNIQUE,
					parent_id BIGINT REFERENCES permissions(id) ON DELETE SET NULL,
					label VARCHAR(255) NOT NULL,
					kind VARCHAR(20) NOT NULL DEFAULT 'api',
					sort INT NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE TABLE IF NOT EXISTS principal_roles (
					principal_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					PRIMARY KEY (principal_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_principal_roles_role_id ON principal_roles(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create row permission rule tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS row_permission_rules (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					code VARCHAR(255) NOT NULL UNIQUE,
					scope VARCHAR(20) NOT NULL,
					entities TEXT[] NOT NULL DEFAULT '{}',
					payload JSONB
				);

				CREATE TABLE IF NOT EXISTS role_row_rules (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					rule_id BIGINT NOT NULL REFERENCES row_permission_rules(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, rule_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_row_rules_rule_id ON role_row_rules(rule_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS access_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM access_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO access_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("migration completed")
	}

	return nil
}
