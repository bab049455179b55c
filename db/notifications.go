package db

import (
	"database/sql"

	"github.com/google/uuid"

	"palisade/domain"
)

// Notifications and newsfeed entries are keyed by composite logical identity
// so that re-applying an effect is an overwrite and reversing one is a
// delete-if-present. Duplicate or out-of-order deliveries converge.
const (
	sqlInsertNotification = `INSERT OR IGNORE INTO notifications(owner_id, object_type, object_id, type, actor_id, created_at)
                        VALUES (?, ?, ?, ?, ?, ?)`
	sqlDeleteNotification          = `DELETE FROM notifications WHERE object_type = ? AND object_id = ? AND type = ? AND actor_id = ?`
	sqlDeleteNotificationsByObject = `DELETE FROM notifications WHERE object_type = ? AND object_id = ?`
	sqlSelectNotificationsByOwner  = `SELECT owner_id, object_type, object_id, type, actor_id, created_at FROM notifications WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`
	sqlCountNotifications          = `SELECT COUNT(*) FROM notifications WHERE object_type = ? AND object_id = ? AND type = ? AND actor_id = ?`

	sqlInsertNewsfeedEntry = `INSERT OR IGNORE INTO newsfeed(type, actor_id, object_id, created_at)
                        VALUES (?, ?, ?, ?)`
	sqlDeleteNewsfeedEntry           = `DELETE FROM newsfeed WHERE type = ? AND actor_id = ? AND object_id = ?`
	sqlDeleteNewsfeedEntriesByObject = `DELETE FROM newsfeed WHERE object_id = ?`
	sqlCountNewsfeedEntries          = `SELECT COUNT(*) FROM newsfeed WHERE type = ? AND actor_id = ? AND object_id = ?`
)

// PutNotification inserts a notification unless a live row with the same
// composite identity already exists for the recipient.
func (db *DB) PutNotification(n *domain.Notification) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNotification,
			n.OwnerId.String(),
			n.ObjectType,
			n.ObjectId.String(),
			n.Type,
			n.ActorId.String(),
			n.CreatedAt,
		)
		return err
	})
}

// DeleteNotification removes the row(s) matching the composite identity.
// Zero matching rows is not an error.
func (db *DB) DeleteNotification(objectType string, objectId uuid.UUID, notifType string, actorId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNotification, objectType, objectId.String(), notifType, actorId.String())
		return err
	})
}

// DeleteNotificationsByObject removes every notification about an object,
// used when the object itself is deleted.
func (db *DB) DeleteNotificationsByObject(objectType string, objectId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNotificationsByObject, objectType, objectId.String())
		return err
	})
}

func (db *DB) ReadNotificationsByOwner(ownerId uuid.UUID, limit int) (error, *[]domain.Notification) {
	rows, err := db.db.Query(sqlSelectNotificationsByOwner, ownerId.String(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var ownerIdStr, objectIdStr, actorIdStr string
		if err := rows.Scan(&ownerIdStr, &n.ObjectType, &objectIdStr, &n.Type, &actorIdStr, &n.CreatedAt); err != nil {
			return err, &notifications
		}
		n.OwnerId, _ = uuid.Parse(ownerIdStr)
		n.ObjectId, _ = uuid.Parse(objectIdStr)
		n.ActorId, _ = uuid.Parse(actorIdStr)
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return err, &notifications
	}
	return nil, &notifications
}

func (db *DB) CountNotifications(objectType string, objectId uuid.UUID, notifType string, actorId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountNotifications, objectType, objectId.String(), notifType, actorId.String()).Scan(&count)
	return err, count
}

// PutNewsfeedEntry inserts a feed entry unless one with the same composite
// identity already exists.
func (db *DB) PutNewsfeedEntry(e *domain.NewsfeedEntry) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNewsfeedEntry,
			e.Type,
			e.ActorId.String(),
			e.ObjectId.String(),
			e.CreatedAt,
		)
		return err
	})
}

// DeleteNewsfeedEntry removes the entry matching the composite identity.
// Zero matching rows is not an error.
func (db *DB) DeleteNewsfeedEntry(entryType string, actorId, objectId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNewsfeedEntry, entryType, actorId.String(), objectId.String())
		return err
	})
}

func (db *DB) DeleteNewsfeedEntriesByObject(objectId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNewsfeedEntriesByObject, objectId.String())
		return err
	})
}

func (db *DB) CountNewsfeedEntries(entryType string, actorId, objectId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountNewsfeedEntries, entryType, actorId.String(), objectId.String()).Scan(&count)
	return err, count
}
