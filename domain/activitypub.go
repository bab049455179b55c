package domain

import (
	"time"

	"github.com/google/uuid"
)

// RemoteAccount represents a cached federated user or group.
type RemoteAccount struct {
	Id            uuid.UUID
	Username      string
	Domain        string
	ActorURI      string
	Kind          string // Person or Group
	DisplayName   string
	Summary       string
	InboxURI      string
	OutboxURI     string
	WallURI       string // the actor's own wall collection, from the actor document
	PublicKeyPem  string
	AvatarURL     string
	LastFetchedAt time.Time
}

// Follow represents a follow relationship between two actors.
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // the follower (local or remote)
	TargetAccountId uuid.UUID // the account being followed (local or remote)
	URI             string    // ActivityPub Follow activity URI
	CreatedAt       time.Time
	Accepted        bool
}

// Like represents a like on a post.
type Like struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	PostId    uuid.UUID
	URI       string
	CreatedAt time.Time
}

// Activity is the log row kept for every processed delivery, keyed by
// activity URI for deduplication. The activity itself is transient; only
// this row and the handler effects persist.
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Add, Create, Announce, Like, Follow, Undo, ...
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool
}

// DeliveryQueueItem is a pending outbound delivery to a remote inbox.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
