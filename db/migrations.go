package db

import (
	"database/sql"

	"github.com/charmbracelet/log"
)

const (
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		kind TEXT DEFAULT 'Person',
		display_name TEXT,
		summary TEXT,
		inbox_uri TEXT NOT NULL,
		outbox_uri TEXT,
		wall_uri TEXT,
		public_key_pem TEXT NOT NULL,
		avatar_url TEXT,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_actor_uri ON remote_accounts(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`

	sqlCreateRemoteObjectsTable = `CREATE TABLE IF NOT EXISTS remote_objects (
		object_uri TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL,
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		stale INTEGER DEFAULT 0
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		accepted INTEGER DEFAULT 0
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_account_id ON follows(account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, post_id)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_post_id ON likes(post_id);
	`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		owner_id TEXT NOT NULL,
		object_type TEXT NOT NULL,
		object_id TEXT NOT NULL,
		type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(owner_id, object_type, object_id, type, actor_id)
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_notifications_identity ON notifications(object_type, object_id, type, actor_id);
	`

	sqlCreateNewsfeedTable = `CREATE TABLE IF NOT EXISTS newsfeed (
		type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(type, actor_id, object_id)
	)`

	sqlCreateNewsfeedIndices = `
		CREATE INDEX IF NOT EXISTS idx_newsfeed_created_at ON newsfeed(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_newsfeed_object ON newsfeed(object_id);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		processed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		local INTEGER DEFAULT 0
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_owner_id ON posts(owner_id);
		CREATE INDEX IF NOT EXISTS idx_posts_object_uri ON posts(object_uri);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
	`
)

// RunMigrations executes all database migrations.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			ddl  string
		}{
			{"accounts", sqlCreateAccountsTable},
			{"posts", sqlCreatePostsTable},
			{"remote_accounts", sqlCreateRemoteAccountsTable},
			{"remote_objects", sqlCreateRemoteObjectsTable},
			{"follows", sqlCreateFollowsTable},
			{"likes", sqlCreateLikesTable},
			{"notifications", sqlCreateNotificationsTable},
			{"newsfeed", sqlCreateNewsfeedTable},
			{"activities", sqlCreateActivitiesTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.ddl, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreatePostsIndices,
			sqlCreateRemoteAccountsIndices,
			sqlCreateFollowsIndices,
			sqlCreateLikesIndices,
			sqlCreateNotificationsIndices,
			sqlCreateNewsfeedIndices,
			sqlCreateActivitiesIndices,
			sqlCreateDeliveryQueueIndices,
		}
		for _, ddl := range indices {
			if _, err := tx.Exec(ddl); err != nil {
				log.Warn("Failed to create indices", "err", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Error("Error creating table", "table", tableName, "err", err)
		return err
	}
	return nil
}
