package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"palisade/db"
	"palisade/domain"
	"palisade/util"
)

// HandlerContext bundles the application services a handler may touch.
// Exactly one context exists per inbound delivery; it is never shared
// between deliveries, and every service inside it is safe for concurrent
// use because concurrency is resolved at the storage layer.
type HandlerContext struct {
	Ctx           context.Context
	Conf          *util.AppConfig
	Walls         WallController
	Feed          NewsfeedStore
	Notifications NotificationStore
	Resolver      ObjectResolver
	Accounts      AccountDirectory
	DB            *db.DB
}

// WallController is the post-storage collaborator: lookups by reference and
// reply-chain traversal.
type WallController interface {
	// GetPostOrThrow returns the post with the given object URI or fails
	// with ErrNotFound.
	GetPostOrThrow(uri string) (*domain.Post, error)

	// TopLevelPost walks the reply chain of post up to its top-level
	// ancestor, resolving remote ancestors through the resolver on demand.
	TopLevelPost(ctx context.Context, post *domain.Post) (*domain.Post, error)
}

// NewsfeedStore applies and reverses feed fan-out. Both operations are
// idempotent on the (type, actor, object) composite identity.
type NewsfeedStore interface {
	InsertEntry(entry *domain.NewsfeedEntry) error
	DeleteEntry(actorId, objectId uuid.UUID, entryType string) error
}

// NotificationStore applies and reverses notification fan-out, idempotent on
// the (objectType, objectId, type, actorId) composite identity.
type NotificationStore interface {
	Put(n *domain.Notification) error
	Delete(objectType string, objectId uuid.UUID, notifType string, actorId uuid.UUID) error
}

// ObjectResolver is the object link resolver contract consumed by handlers;
// see Resolver for the implementation.
type ObjectResolver interface {
	Resolve(ctx context.Context, uri string) (*domain.Post, error)
	StoreOrUpdateRemoteObject(ctx context.Context, post *domain.Post) error
	ResolveActor(ctx context.Context, uri string) (*domain.RemoteAccount, error)
	RefreshActor(ctx context.Context, uri string) (*domain.RemoteAccount, error)
	MarkStale(uri string) error
}

// AccountDirectory looks up local accounts. Notification fan-out uses it to
// decide which recipients live on this server.
type AccountDirectory interface {
	ById(id uuid.UUID) (*domain.Account, error)
	ByUsername(username string) (*domain.Account, error)
}

// NewHandlerContext builds the per-delivery service bundle on top of the
// shared database handle.
func NewHandlerContext(ctx context.Context, database *db.DB, resolver ObjectResolver, conf *util.AppConfig) *HandlerContext {
	return &HandlerContext{
		Ctx:           ctx,
		Conf:          conf,
		Walls:         &dbWalls{db: database, resolver: resolver},
		Feed:          &dbNewsfeed{db: database},
		Notifications: &dbNotifications{db: database},
		Resolver:      resolver,
		Accounts:      &dbAccounts{db: database},
		DB:            database,
	}
}

const maxReplyDepth = 64

type dbWalls struct {
	db       *db.DB
	resolver ObjectResolver
}

func (w *dbWalls) GetPostOrThrow(uri string) (*domain.Post, error) {
	err, post := w.db.ReadPostByObjectURI(uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: post %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (w *dbWalls) TopLevelPost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	current := post
	for depth := 0; current.IsReply(); depth++ {
		if depth >= maxReplyDepth {
			return nil, badActivity("reply chain exceeds depth limit")
		}
		parent, err := w.resolver.Resolve(ctx, current.InReplyToURI)
		if err != nil {
			return nil, err
		}
		current = parent
	}
	return current, nil
}

type dbNewsfeed struct {
	db *db.DB
}

func (f *dbNewsfeed) InsertEntry(entry *domain.NewsfeedEntry) error {
	return f.db.PutNewsfeedEntry(entry)
}

func (f *dbNewsfeed) DeleteEntry(actorId, objectId uuid.UUID, entryType string) error {
	return f.db.DeleteNewsfeedEntry(entryType, actorId, objectId)
}

type dbNotifications struct {
	db *db.DB
}

func (n *dbNotifications) Put(notification *domain.Notification) error {
	return n.db.PutNotification(notification)
}

func (n *dbNotifications) Delete(objectType string, objectId uuid.UUID, notifType string, actorId uuid.UUID) error {
	return n.db.DeleteNotification(objectType, objectId, notifType, actorId)
}

type dbAccounts struct {
	db *db.DB
}

func (a *dbAccounts) ById(id uuid.UUID) (*domain.Account, error) {
	err, acc := a.db.ReadAccById(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (a *dbAccounts) ByUsername(username string) (*domain.Account, error) {
	err, acc := a.db.ReadAccByUsername(username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}
