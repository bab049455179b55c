package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"palisade/domain"
)

// Remote accounts cache
const (
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, kind, display_name, summary, inbox_uri, outbox_uri, wall_uri, public_key_pem, avatar_url, last_fetched_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                        ON CONFLICT(actor_uri) DO UPDATE SET
                        kind = excluded.kind,
                        display_name = excluded.display_name,
                        summary = excluded.summary,
                        inbox_uri = excluded.inbox_uri,
                        outbox_uri = excluded.outbox_uri,
                        wall_uri = excluded.wall_uri,
                        public_key_pem = excluded.public_key_pem,
                        avatar_url = excluded.avatar_url,
                        last_fetched_at = excluded.last_fetched_at`
	sqlSelectRemoteAccountByURI = `SELECT id, username, domain, actor_uri, kind, display_name, summary, inbox_uri, outbox_uri, wall_uri, public_key_pem, avatar_url, last_fetched_at FROM remote_accounts WHERE actor_uri = ?`
	sqlSelectRemoteAccountById  = `SELECT id, username, domain, actor_uri, kind, display_name, summary, inbox_uri, outbox_uri, wall_uri, public_key_pem, avatar_url, last_fetched_at FROM remote_accounts WHERE id = ?`
	sqlDeleteRemoteAccount      = `DELETE FROM remote_accounts WHERE id = ?`
)

// UpsertRemoteAccount inserts a remote account or refreshes the cached copy
// in place. The local id assigned on first insert never changes: on conflict
// only the content columns are overwritten.
func (db *DB) UpsertRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.Kind,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.OutboxURI,
			acc.WallURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.LastFetchedAt,
		)
		return err
	})
}

func (db *DB) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	return db.scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccountByURI, uri))
}

func (db *DB) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	return db.scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccountById, id.String()))
}

func (db *DB) DeleteRemoteAccount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteAccount, id.String())
		return err
	})
}

func (db *DB) scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&acc.Kind,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.OutboxURI,
		&acc.WallURI,
		&acc.PublicKeyPem,
		&acc.AvatarURL,
		&acc.LastFetchedAt,
	)
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

// Resolved-object cache. The resolver owns these rows exclusively; a row maps
// an object URI to its local post id plus a freshness marker.
const (
	sqlInsertRemoteObject = `INSERT INTO remote_objects(object_uri, post_id, fetched_at, stale)
                        VALUES (?, ?, ?, 0)
                        ON CONFLICT(object_uri) DO UPDATE SET
                        fetched_at = excluded.fetched_at,
                        stale = 0`
	sqlSelectRemoteObject    = `SELECT object_uri, post_id, fetched_at, stale FROM remote_objects WHERE object_uri = ?`
	sqlMarkRemoteObjectStale = `UPDATE remote_objects SET stale = 1 WHERE object_uri = ?`
	sqlDeleteRemoteObject    = `DELETE FROM remote_objects WHERE object_uri = ?`
)

type RemoteObjectRow struct {
	ObjectURI string
	PostId    uuid.UUID
	FetchedAt time.Time
	Stale     bool
}

func (db *DB) UpsertRemoteObject(uri string, postId uuid.UUID, fetchedAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteObject, uri, postId.String(), fetchedAt)
		return err
	})
}

func (db *DB) ReadRemoteObject(uri string) (error, *RemoteObjectRow) {
	row := db.db.QueryRow(sqlSelectRemoteObject, uri)
	var obj RemoteObjectRow
	var postIdStr string
	err := row.Scan(&obj.ObjectURI, &postIdStr, &obj.FetchedAt, &obj.Stale)
	if err != nil {
		return err, nil
	}
	obj.PostId, _ = uuid.Parse(postIdStr)
	return nil, &obj
}

func (db *DB) MarkRemoteObjectStale(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkRemoteObjectStale, uri)
		return err
	})
}

func (db *DB) DeleteRemoteObject(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteObject, uri)
		return err
	})
}

// Follows
const (
	sqlInsertFollow              = `INSERT OR IGNORE INTO follows(id, account_id, target_account_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollowByURI         = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows WHERE uri = ?`
	sqlSelectFollowByAccountIds  = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows WHERE account_id = ? AND target_account_id = ?`
	sqlDeleteFollowByURI         = `DELETE FROM follows WHERE uri = ?`
	sqlAcceptFollowByURI         = `UPDATE follows SET accepted = 1 WHERE uri = ?`
	sqlDeleteFollowsByAccountId  = `DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`
	sqlSelectFollowersOfAccount  = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows WHERE target_account_id = ? AND accepted = 1`
	sqlSelectFollowedByAccountId = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows WHERE account_id = ? AND accepted = 1`
)

// CreateFollow inserts a follow keyed by its activity URI; re-delivering the
// same Follow is a no-op.
func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.TargetAccountId.String(),
			follow.URI,
			follow.Accepted,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

func (db *DB) ReadFollowByAccountIds(accountId, targetId uuid.UUID) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByAccountIds, accountId.String(), targetId.String()))
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

func (db *DB) DeleteFollowsByAccountId(accountId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsByAccountId, accountId.String(), accountId.String())
		return err
	})
}

func (db *DB) ReadFollowersOfAccount(targetId uuid.UUID) (error, *[]domain.Follow) {
	return db.scanFollows(sqlSelectFollowersOfAccount, targetId)
}

func (db *DB) ReadFollowedByAccountId(accountId uuid.UUID) (error, *[]domain.Follow) {
	return db.scanFollows(sqlSelectFollowedByAccountId, accountId)
}

func (db *DB) scanFollows(query string, id uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(query, id.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		var follow domain.Follow
		var idStr, accountIdStr, targetIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &targetIdStr, &follow.URI, &follow.Accepted, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.AccountId, _ = uuid.Parse(accountIdStr)
		follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}
	return nil, &follows
}

func (db *DB) scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, accountIdStr, targetIdStr string
	err := row.Scan(&idStr, &accountIdStr, &targetIdStr, &follow.URI, &follow.Accepted, &follow.CreatedAt)
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accountIdStr)
	follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
	return nil, &follow
}

// Likes
const (
	sqlInsertLike          = `INSERT OR IGNORE INTO likes(id, account_id, post_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlDeleteLike          = `DELETE FROM likes WHERE account_id = ? AND post_id = ?`
	sqlDeleteLikesByPost   = `DELETE FROM likes WHERE post_id = ?`
	sqlSelectLikeByWhoWhat = `SELECT id, account_id, post_id, uri, created_at FROM likes WHERE account_id = ? AND post_id = ?`
)

func (db *DB) CreateLike(like *domain.Like) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike,
			like.Id.String(),
			like.AccountId.String(),
			like.PostId.String(),
			like.URI,
			like.CreatedAt,
		)
		return err
	})
}

func (db *DB) DeleteLike(accountId, postId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLike, accountId.String(), postId.String())
		return err
	})
}

func (db *DB) DeleteLikesByPostId(postId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLikesByPost, postId.String())
		return err
	})
}

func (db *DB) ReadLike(accountId, postId uuid.UUID) (error, *domain.Like) {
	row := db.db.QueryRow(sqlSelectLikeByWhoWhat, accountId.String(), postId.String())
	var like domain.Like
	var idStr, accountIdStr, postIdStr string
	err := row.Scan(&idStr, &accountIdStr, &postIdStr, &like.URI, &like.CreatedAt)
	if err != nil {
		return err, nil
	}
	like.Id, _ = uuid.Parse(idStr)
	like.AccountId, _ = uuid.Parse(accountIdStr)
	like.PostId, _ = uuid.Parse(postIdStr)
	return nil, &like
}

// Activity log
const (
	sqlInsertActivity      = `INSERT OR IGNORE INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity      = `UPDATE activities SET processed = ?, object_uri = ? WHERE id = ?`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Processed,
			activity.Local,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpdateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity,
			activity.Processed,
			activity.ObjectURI,
			activity.Id.String(),
		)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	row := db.db.QueryRow(sqlSelectActivityByURI, uri)
	var activity domain.Activity
	var idStr string
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.Local,
		&activity.CreatedAt,
	)
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	return nil, &activity
}

// Delivery queue
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxURI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
