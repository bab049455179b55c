package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"palisade/domain"
	"palisade/util"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	//Accounts
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
                        id TEXT NOT NULL PRIMARY KEY,
                        username TEXT UNIQUE NOT NULL,
                        display_name TEXT,
                        summary TEXT,
                        avatar_url TEXT,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
                        web_public_key TEXT,
                        web_private_key TEXT
                        )`
	sqlInsertAccount           = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccountById       = `SELECT id, username, display_name, summary, avatar_url, created_at, web_public_key, web_private_key FROM accounts WHERE id = ?`
	sqlSelectAccountByUsername = `SELECT id, username, display_name, summary, avatar_url, created_at, web_public_key, web_private_key FROM accounts WHERE username = ?`

	//Posts
	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts(
                        id TEXT NOT NULL PRIMARY KEY,
                        owner_id TEXT NOT NULL,
                        owner_uri TEXT NOT NULL,
                        object_uri TEXT UNIQUE NOT NULL,
                        in_reply_to_uri TEXT DEFAULT '',
                        content TEXT,
                        sensitive INTEGER DEFAULT 0,
                        content_warning TEXT DEFAULT '',
                        local INTEGER DEFAULT 0,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
                        edited_at TIMESTAMP
                        )`
	sqlInsertPost = `INSERT INTO posts(id, owner_id, owner_uri, object_uri, in_reply_to_uri, content, sensitive, content_warning, local, created_at, edited_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                        ON CONFLICT(object_uri) DO UPDATE SET
                        content = excluded.content,
                        sensitive = excluded.sensitive,
                        content_warning = excluded.content_warning,
                        in_reply_to_uri = excluded.in_reply_to_uri,
                        edited_at = excluded.edited_at`
	sqlSelectPostById        = `SELECT id, owner_id, owner_uri, object_uri, in_reply_to_uri, content, sensitive, content_warning, local, created_at, edited_at FROM posts WHERE id = ?`
	sqlSelectPostByObjectURI = `SELECT id, owner_id, owner_uri, object_uri, in_reply_to_uri, content, sensitive, content_warning, local, created_at, edited_at FROM posts WHERE object_uri = ?`
	sqlSelectPostsByOwnerId  = `SELECT id, owner_id, owner_uri, object_uri, in_reply_to_uri, content, sensitive, content_warning, local, created_at, edited_at FROM posts WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlDeletePost            = `DELETE FROM posts WHERE id = ?`
)

// UpsertPost inserts a post or, if a row with the same object URI exists,
// overwrites its content fields. The existing local id is preserved: the
// upsert never touches the id column on conflict.
func (db *DB) UpsertPost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPost,
			post.Id.String(),
			post.OwnerId.String(),
			post.OwnerURI,
			post.ObjectURI,
			post.InReplyToURI,
			post.Content,
			post.Sensitive,
			post.ContentWarning,
			post.Local,
			post.CreatedAt,
			post.EditedAt,
		)
		return err
	})
}

func (db *DB) CreateAccount(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.AvatarURL,
			acc.WebPublicKey,
			acc.WebPrivateKey,
			acc.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountById, id.String()))
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByUsername, username))
}

func (db *DB) scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &acc.CreatedAt, &acc.WebPublicKey, &acc.WebPrivateKey)
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostById, id.String()))
}

func (db *DB) ReadPostByObjectURI(uri string) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostByObjectURI, uri))
}

func (db *DB) ReadPostsByOwnerId(ownerId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectPostsByOwnerId, ownerId.String(), limit, offset)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		var idStr, ownerIdStr string
		if err := rows.Scan(&idStr, &ownerIdStr, &post.OwnerURI, &post.ObjectURI, &post.InReplyToURI, &post.Content, &post.Sensitive, &post.ContentWarning, &post.Local, &post.CreatedAt, &post.EditedAt); err != nil {
			return err, &posts
		}
		post.Id, _ = uuid.Parse(idStr)
		post.OwnerId, _ = uuid.Parse(ownerIdStr)
		posts = append(posts, post)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}
	return nil, &posts
}

func (db *DB) DeletePost(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePost, id.String())
		return err
	})
}

func (db *DB) scanPost(row *sql.Row) (error, *domain.Post) {
	var post domain.Post
	var idStr, ownerIdStr string
	err := row.Scan(&idStr, &ownerIdStr, &post.OwnerURI, &post.ObjectURI, &post.InReplyToURI, &post.Content, &post.Sensitive, &post.ContentWarning, &post.Local, &post.CreatedAt, &post.EditedAt)
	if err != nil {
		return err, nil
	}
	post.Id, _ = uuid.Parse(idStr)
	post.OwnerId, _ = uuid.Parse(ownerIdStr)
	return nil, &post
}

// Open opens a SQLite database at the given data source and runs the schema
// migrations. GetDB is the tuned singleton for the server process; Open
// exists for tooling and tests that need an isolated handle.
func Open(dataSource string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if dataSource == ":memory:" {
		// a memory database exists per connection
		sqlDB.SetMaxOpenConns(1)
	}
	database := &DB{db: sqlDB}
	if err := database.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return database, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

func GetDB() *DB {
	dbOnce.Do(func() {
		sqlDB, err := sql.Open("sqlite", util.ResolveFilePath("palisade.db"))
		if err != nil {
			panic(err)
		}

		// Connection pool for concurrent inbox deliveries
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			log.Warn("Failed to enable WAL mode", "err", err)
		} else {
			log.Info("Database journal mode", "mode", journalMode)
		}

		sqlDB.Exec("PRAGMA synchronous = NORMAL")
		sqlDB.Exec("PRAGMA cache_size = -64000")
		sqlDB.Exec("PRAGMA temp_store = MEMORY")
		sqlDB.Exec("PRAGMA busy_timeout = 5000")
		sqlDB.Exec("PRAGMA foreign_keys = ON")

		dbInstance = &DB{db: sqlDB}

		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction, retrying on
// SQLITE_BUSY.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("error starting transaction", "err", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Error("error committing transaction", "err", err)
			return err
		}
		break
	}
	return nil
}
