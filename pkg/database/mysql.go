package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

// RunMigrations creates the three core tables. The unique keys on
// conversations.phone_canonical and messages.provider_sid carry the
// concurrency guarantees: insert-or-get conversation upserts and reject-on-
// duplicate inbound idempotency both rely on them.
func RunMigrations(db *sqlx.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			phone_canonical VARCHAR(32) NOT NULL,
			phone_original VARCHAR(64),
			tenant_id VARCHAR(64),
			workflow_tag VARCHAR(64),
			language VARCHAR(16) NOT NULL DEFAULT 'unknown',
			language_confidence DOUBLE NOT NULL DEFAULT 0,
			last_message_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_conversations_phone (phone_canonical),
			INDEX idx_conversations_tenant (tenant_id),
			INDEX idx_conversations_last_message_at (last_message_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			conversation_id BIGINT NOT NULL,
			tracking_id CHAR(36) NOT NULL,
			provider_sid VARCHAR(64),
			direction VARCHAR(16) NOT NULL,
			from_number VARCHAR(64),
			to_number VARCHAR(64),
			body TEXT,
			delivery_status VARCHAR(32) NOT NULL,
			error_code VARCHAR(64),
			raw_payload JSON,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_messages_tracking (tracking_id),
			UNIQUE KEY uq_messages_provider_sid (provider_sid),
			INDEX idx_messages_conversation_created (conversation_id, created_at),
			INDEX idx_messages_status (delivery_status),
			CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS message_status_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			message_id BIGINT NOT NULL,
			status VARCHAR(32) NOT NULL,
			error_code VARCHAR(64),
			raw_payload JSON,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_status_events_message (message_id, created_at),
			CONSTRAINT fk_status_events_message FOREIGN KEY (message_id) REFERENCES messages(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

func SeedTestData(db *sqlx.DB) error {
	var count int

	err := db.Get(&count, "SELECT COUNT(*) FROM conversations")
	if err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d conversations, skipping seed", count)
		return nil
	}

	seed := []struct {
		phone    string
		tenant   *string
		language string
		conf     float64
		body     string
		sid      string
	}{
		{"+15551230001", strPtr("tenant-1001"), "en", 0.8, "Yes, works for me", "SM-seed-0001"},
		{"+15551230002", nil, "es", 0.9, "Sí, gracias", "SM-seed-0002"},
		{"+15551230003", nil, "unknown", 0, "ok", "SM-seed-0003"},
		{"+5511998760004", strPtr("tenant-2044"), "pt", 0.9, "Sim, pode ser", "SM-seed-0004"},
	}

	for _, row := range seed {
		res, err := db.Exec(
			`INSERT INTO conversations (phone_canonical, phone_original, tenant_id, language, language_confidence, last_message_at)
			 VALUES (?, ?, ?, ?, ?, NOW())`,
			row.phone, row.phone, row.tenant, row.language, row.conf,
		)
		if err != nil {
			return fmt.Errorf("failed to seed conversation: %w", err)
		}
		convID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get seeded conversation id: %w", err)
		}
		_, err = db.Exec(
			`INSERT INTO messages (conversation_id, tracking_id, provider_sid, direction, from_number, body, delivery_status)
			 VALUES (?, UUID(), ?, 'inbound', ?, ?, 'received')`,
			convID, row.sid, row.phone, row.body,
		)
		if err != nil {
			return fmt.Errorf("failed to seed message: %w", err)
		}
	}

	logger.Infof("Seeded %d test conversations", len(seed))
	return nil
}

func strPtr(s string) *string { return &s }
