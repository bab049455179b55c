package domain

import (
	"time"

	"github.com/google/uuid"
)

// Post is a wall post, local or remote. Remote posts are only ever created
// through the object link resolver; the local id is assigned on first upsert
// and never changes afterwards.
type Post struct {
	Id             uuid.UUID
	OwnerId        uuid.UUID // local Account or RemoteAccount id
	OwnerURI       string
	ObjectURI      string // stable federation identity, unique
	InReplyToURI   string // empty for top-level posts
	Content        string
	Sensitive      bool
	ContentWarning string
	Local          bool
	CreatedAt      time.Time
	EditedAt       *time.Time
}

// IsReply reports whether the post is part of a reply chain.
func (p *Post) IsReply() bool {
	return p.InReplyToURI != ""
}

// Notification types.
const (
	NotificationReply   = "reply"
	NotificationMention = "mention"
	NotificationReshare = "reshare"
	NotificationLike    = "like"
	NotificationFollow  = "follow"
)

// Notification object types.
const (
	ObjectTypePost    = "post"
	ObjectTypeAccount = "account"
)

// Notification is keyed by (ObjectType, ObjectId, Type, ActorId) per
// recipient: re-delivering the activity that produced it must not produce a
// second row, and reversing the activity deletes by the same key.
type Notification struct {
	OwnerId    uuid.UUID // the local recipient
	ObjectType string
	ObjectId   uuid.UUID
	Type       string
	ActorId    uuid.UUID // the actor whose action caused the notification
	CreatedAt  time.Time
}

// Newsfeed entry types.
const (
	FeedEntryPost    = "post"
	FeedEntryReshare = "reshare"
)

// NewsfeedEntry is keyed by (Type, ActorId, ObjectId) with the same
// at-most-one-live-row rule as notifications.
type NewsfeedEntry struct {
	Type      string
	ActorId   uuid.UUID
	ObjectId  uuid.UUID
	CreatedAt time.Time
}
