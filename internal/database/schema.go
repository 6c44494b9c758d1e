package database

import (
	"database/sql"
	"fmt"
)

// Bootstrap creates the tables the ticket pipeline depends on. Statements are
// idempotent so repeated runs are safe.
func Bootstrap(db *sql.DB) error {
	for _, stmt := range schemaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func schemaStatements() []string {
	id := idColumn()
	ts := timestampType()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_user (
			%s,
			email VARCHAR(191) NOT NULL,
			first_name VARCHAR(191) NOT NULL DEFAULT '',
			last_name VARCHAR(191) NOT NULL DEFAULT '',
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at %s NOT NULL,
			UNIQUE (email)
		)`, id, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_support_role (
			%s,
			code VARCHAR(191) NOT NULL,
			UNIQUE (code)
		)`, id),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_user_instance (
			%s,
			user_id INTEGER NOT NULL,
			source VARCHAR(191) NOT NULL,
			support_role_id INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_verified BOOLEAN NOT NULL DEFAULT TRUE,
			UNIQUE (user_id, source)
		)`, id),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_ticket_status (
			%s,
			code VARCHAR(191) NOT NULL,
			description TEXT,
			UNIQUE (code)
		)`, id),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_ticket_priority (
			%s,
			code VARCHAR(191) NOT NULL,
			description TEXT,
			UNIQUE (code)
		)`, id),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_ticket_type (
			%s,
			code VARCHAR(191) NOT NULL,
			description TEXT,
			UNIQUE (code)
		)`, id),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_ticket (
			%s,
			subject TEXT NOT NULL,
			source VARCHAR(191) NOT NULL,
			mailbox_email VARCHAR(191) NOT NULL DEFAULT '',
			reference_ids TEXT NOT NULL DEFAULT '',
			customer_id INTEGER NOT NULL,
			agent_id INTEGER,
			status_id INTEGER NOT NULL,
			priority_id INTEGER NOT NULL,
			type_id INTEGER NOT NULL,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, id, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_thread (
			%s,
			ticket_id INTEGER NOT NULL,
			user_instance_id INTEGER NOT NULL,
			source VARCHAR(191) NOT NULL,
			thread_type VARCHAR(191) NOT NULL,
			message_id VARCHAR(255),
			message TEXT NOT NULL DEFAULT '',
			cc TEXT NOT NULL DEFAULT '',
			bcc TEXT NOT NULL DEFAULT '',
			created_at %s NOT NULL,
			updated_at %s NOT NULL,
			UNIQUE (message_id)
		)`, id, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_tickets_collaborators (
			%s,
			ticket_id INTEGER NOT NULL,
			user_instance_id INTEGER NOT NULL,
			UNIQUE (ticket_id, user_instance_id)
		)`, id),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS uv_mailbox (
			%s,
			name VARCHAR(191) NOT NULL DEFAULT '',
			email VARCHAR(191) NOT NULL,
			protocol VARCHAR(32) NOT NULL DEFAULT 'imap',
			imap_host VARCHAR(191) NOT NULL,
			imap_port INTEGER NOT NULL DEFAULT 0,
			imap_encryption VARCHAR(32) NOT NULL DEFAULT 'none',
			imap_username VARCHAR(191) NOT NULL,
			imap_password VARCHAR(191) NOT NULL,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			delete_after_fetch BOOLEAN NOT NULL DEFAULT FALSE
		)`, id),
	}
}

func idColumn() string {
	switch Driver() {
	case "postgres":
		return "id SERIAL PRIMARY KEY"
	case "sqlite3":
		return "id INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return "id INTEGER NOT NULL AUTO_INCREMENT PRIMARY KEY"
	}
}

func timestampType() string {
	if IsMySQL() {
		return "DATETIME"
	}
	return "TIMESTAMP"
}
