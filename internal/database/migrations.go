package database

// Migration represents a database migration
type Migration struct {
	Version int
	SQL     string
}

// migrations is the list of all database migrations. Tables here back the
// AccountRepository / EmailRepository contracts consumed by internal/sync; the
// core never depends on a specific store, but this schema is what the
// SQLite-backed account, folder, email, credential and config stores are
// built against; their store tests open a real database with it.
var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			-- Accounts table (spec §3 Account)
			CREATE TABLE accounts (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL UNIQUE,
				provider TEXT NOT NULL DEFAULT '',

				-- IMAP settings
				imap_host TEXT NOT NULL,
				imap_port INTEGER NOT NULL DEFAULT 993,
				imap_security TEXT NOT NULL DEFAULT 'tls',

				-- SMTP settings
				smtp_host TEXT NOT NULL,
				smtp_port INTEGER NOT NULL DEFAULT 587,
				smtp_security TEXT NOT NULL DEFAULT 'starttls',

				-- Authentication
				auth_type TEXT NOT NULL DEFAULT 'password',
				username TEXT NOT NULL,
				encrypted_password TEXT,

				-- State
				active INTEGER NOT NULL DEFAULT 1,
				order_index INTEGER NOT NULL DEFAULT 0,

				-- Sync settings
				sync_window_days INTEGER NOT NULL DEFAULT 30,
				connection_limit INTEGER NOT NULL DEFAULT 5,
				idle_refresh_seconds INTEGER NOT NULL DEFAULT 1500,
				archive_strategy TEXT NOT NULL DEFAULT 'copy_to_archive',

				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			-- Folders table (spec §3 Folder)
			CREATE TABLE folders (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				imap_path TEXT NOT NULL,
				delimiter TEXT NOT NULL DEFAULT '/',
				folder_type TEXT NOT NULL DEFAULT 'custom',

				uid_validity INTEGER NOT NULL DEFAULT 0,
				total_count INTEGER NOT NULL DEFAULT 0,
				unread_count INTEGER NOT NULL DEFAULT 0,

				last_sync_at DATETIME,
				forward_cursor_uid INTEGER,
				backfill_cursor_uid INTEGER,
				initial_fast_completed INTEGER NOT NULL DEFAULT 0,
				catch_up_status TEXT NOT NULL DEFAULT 'idle',

				UNIQUE(account_id, imap_path)
			);

			CREATE INDEX idx_folders_account ON folders(account_id);

			-- Emails table (spec §3 Email)
			CREATE TABLE emails (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,

				message_id TEXT,
				identity_key TEXT NOT NULL,
				in_reply_to TEXT,
				references_list TEXT,

				subject TEXT,
				from_name TEXT,
				from_email TEXT,
				to_list TEXT,
				cc_list TEXT,
				bcc_list TEXT,

				date_received DATETIME,
				snippet TEXT,
				plain_body TEXT,
				html_body TEXT,

				is_read INTEGER NOT NULL DEFAULT 0,
				is_starred INTEGER NOT NULL DEFAULT 0,
				is_draft INTEGER NOT NULL DEFAULT 0,
				is_deleted INTEGER NOT NULL DEFAULT 0,

				category TEXT NOT NULL DEFAULT 'uncategorized',
				thread_id TEXT,

				size_bytes INTEGER NOT NULL DEFAULT 0,
				authentication_results TEXT,

				send_state TEXT NOT NULL DEFAULT 'none',
				retry_count INTEGER NOT NULL DEFAULT 0,

				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,

				UNIQUE(account_id, identity_key)
			);

			CREATE INDEX idx_emails_account ON emails(account_id);
			CREATE INDEX idx_emails_thread ON emails(thread_id);
			CREATE INDEX idx_emails_message_id ON emails(account_id, message_id);
			CREATE INDEX idx_emails_date ON emails(date_received DESC);

			-- EmailFolder join table (spec §3 EmailFolder)
			CREATE TABLE email_folders (
				email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
				folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				imap_uid INTEGER NOT NULL,
				PRIMARY KEY (folder_id, imap_uid)
			);

			CREATE INDEX idx_email_folders_email ON email_folders(email_id);

			-- Attachments table (spec §3 Attachment)
			CREATE TABLE attachments (
				id TEXT PRIMARY KEY,
				email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
				filename TEXT NOT NULL,
				mime_type TEXT,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				body_section TEXT,
				transfer_encoding TEXT,
				content_id TEXT,
				is_inline INTEGER NOT NULL DEFAULT 0,
				downloaded INTEGER NOT NULL DEFAULT 0,
				local_path TEXT
			);

			CREATE INDEX idx_attachments_email ON attachments(email_id);

			-- Threads table (spec §3 Thread)
			CREATE TABLE threads (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				subject TEXT,
				latest_date DATETIME,
				message_count INTEGER NOT NULL DEFAULT 0,
				unread_count INTEGER NOT NULL DEFAULT 0,
				starred INTEGER NOT NULL DEFAULT 0,
				participants TEXT,
				snippet TEXT,
				ai_category TEXT NOT NULL DEFAULT 'uncategorized'
			);

			CREATE INDEX idx_threads_account ON threads(account_id);

			-- Contact cache, populated from From/To/CC on every synced header
			CREATE TABLE contacts (
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				email TEXT NOT NULL,
				name TEXT,
				last_seen_at DATETIME,
				PRIMARY KEY (account_id, email)
			);

			-- OAuth tokens (kept out of the general store conceptually; spec marks
			-- Credential as keychain-only, but the encrypted fallback path needs a
			-- durable place to land when the OS keyring is unavailable)
			CREATE TABLE oauth_tokens (
				account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
				encrypted_access_token TEXT,
				encrypted_refresh_token TEXT,
				expires_at DATETIME,
				scope TEXT
			);

			-- Generic key/value config store for core tunables (internal/config)
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			-- Provider discovery cache (internal/discovery), persisted so the
			-- LRU+TTL cache survives process restarts
			CREATE TABLE IF NOT EXISTS discovery_cache (
				domain TEXT PRIMARY KEY,
				config_json TEXT NOT NULL,
				source TEXT NOT NULL,
				cached_at DATETIME NOT NULL,
				last_used_at DATETIME NOT NULL
			);
		`,
	},
}
