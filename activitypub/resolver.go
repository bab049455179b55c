package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/doyensec/safeurl"
	"github.com/google/uuid"

	"palisade/db"
	"palisade/domain"
)

const (
	fetchTimeout       = 10 * time.Second
	actorFreshness     = 24 * time.Hour
	maxFetchedBodySize = 1 * 1024 * 1024
)

// Resolver resolves object and actor references (stable URIs) to local
// representations, fetching and caching remote copies on demand. It owns the
// URI to local-id mapping exclusively: handlers never create local rows for
// remote objects except through it.
type Resolver struct {
	db     *db.DB
	domain string
	client *http.Client
}

// NewResolver builds a resolver whose remote fetches go through an
// SSRF-guarded client: private, loopback, link-local and metadata addresses
// are rejected at dial time, which also covers DNS rebinding.
func NewResolver(database *db.DB, domain string) *Resolver {
	config := safeurl.GetConfigBuilder().
		SetTimeout(fetchTimeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return &Resolver{
		db:     database,
		domain: domain,
		client: safeurl.Client(config).Client,
	}
}

// Resolve returns the local representation of the object behind uri. A fresh
// cached mapping short-circuits without any network operation; otherwise the
// remote copy is fetched, validated for self-consistency and upserted.
//
// Distinguishes an affirmative remote denial (ErrNotFound) from a fetch that
// could not complete (ErrResolveFailed, retryable by the caller).
func (r *Resolver) Resolve(ctx context.Context, uri string) (*domain.Post, error) {
	err, post := r.db.ReadPostByObjectURI(uri)
	if err == nil {
		if post.Local {
			return post, nil
		}
		cacheErr, cached := r.db.ReadRemoteObject(uri)
		if cacheErr == nil && !cached.Stale {
			return post, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	note, err := r.fetchNote(ctx, uri)
	if err != nil {
		return nil, err
	}

	fetched, err := r.noteToPost(ctx, note)
	if err != nil {
		return nil, err
	}

	if err := r.StoreOrUpdateRemoteObject(ctx, fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}

// StoreOrUpdateRemoteObject upserts a post keyed by its object URI. The
// first call assigns the local id; later calls overwrite content fields and
// preserve the id, so concurrent deliveries racing on the same object
// converge without locking. The cache row is refreshed and marked fresh.
func (r *Resolver) StoreOrUpdateRemoteObject(ctx context.Context, post *domain.Post) error {
	if post.ObjectURI == "" {
		return badActivity("post has no object URI")
	}
	if post.Id == uuid.Nil {
		post.Id = uuid.New()
	}

	if err := r.db.UpsertPost(post); err != nil {
		return err
	}

	// The conflict path keeps the original row's id; read it back so the
	// caller holds the canonical identity.
	err, stored := r.db.ReadPostByObjectURI(post.ObjectURI)
	if err != nil {
		return err
	}
	*post = *stored

	return r.db.UpsertRemoteObject(post.ObjectURI, post.Id, time.Now())
}

// MarkStale flags the cached mapping for uri so the next Resolve refetches.
// Called when an Update activity for the URI is processed; there is no
// background expiry.
func (r *Resolver) MarkStale(uri string) error {
	return r.db.MarkRemoteObjectStale(uri)
}

// ResolveActor returns the cached remote account for actorURI, refetching
// when the cached copy is older than the freshness window.
func (r *Resolver) ResolveActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	err, cached := r.db.ReadRemoteAccountByURI(actorURI)
	if err == nil && time.Since(cached.LastFetchedAt) < actorFreshness {
		return cached, nil
	}

	return r.fetchActor(ctx, actorURI)
}

// RefreshActor refetches the actor document unconditionally, used when an
// Update(Person) activity announces a profile change.
func (r *Resolver) RefreshActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	return r.fetchActor(ctx, actorURI)
}

func (r *Resolver) fetchNote(ctx context.Context, uri string) (*Note, error) {
	body, err := r.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	var note Note
	if err := json.Unmarshal(body, &note); err != nil {
		return nil, fmt.Errorf("%w: unparseable object at %s: %v", ErrResolveFailed, uri, err)
	}

	// Self-consistency: the fetched representation must actually be the
	// object that was asked for, from the host that owns it.
	if note.ID != uri {
		return nil, badActivity("object at %s claims id %s", uri, note.ID)
	}
	if note.AttributedTo == "" {
		return nil, badActivity("object %s has no attributedTo", uri)
	}
	if !sameHost(note.ID, note.AttributedTo) {
		return nil, badActivity("object %s attributed to foreign host %s", note.ID, note.AttributedTo)
	}

	return &note, nil
}

func (r *Resolver) fetchActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	body, err := r.get(ctx, actorURI)
	if err != nil {
		return nil, err
	}

	var doc actorDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: unparseable actor at %s: %v", ErrResolveFailed, actorURI, err)
	}
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, badActivity("actor %s is missing required fields", actorURI)
	}
	if doc.ID != actorURI {
		return nil, badActivity("actor at %s claims id %s", actorURI, doc.ID)
	}

	parsed, err := url.Parse(doc.ID)
	if err != nil {
		return nil, badActivity("invalid actor URI %s", doc.ID)
	}

	wallURI := doc.Wall
	if wallURI == "" {
		wallURI = doc.ID + "/wall"
	}

	acc := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      doc.PreferredUsername,
		Domain:        parsed.Host,
		ActorURI:      doc.ID,
		Kind:          doc.Type,
		DisplayName:   doc.Name,
		Summary:       doc.Summary,
		InboxURI:      doc.Inbox,
		OutboxURI:     doc.Outbox,
		WallURI:       wallURI,
		PublicKeyPem:  doc.PublicKey.PublicKeyPem,
		AvatarURL:     doc.Icon.URL,
		LastFetchedAt: time.Now(),
	}

	if err := r.db.UpsertRemoteAccount(acc); err != nil {
		return nil, err
	}

	// The upsert preserves the id of an existing row; read back to hold it.
	err, stored := r.db.ReadRemoteAccountByURI(doc.ID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// get performs one authenticated-content fetch. Remote 404/410 is an
// affirmative denial; any other failure is a retryable resolution failure.
func (r *Resolver) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, badActivity("invalid URI %s", uri)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug("Remote fetch failed", "uri", uri, "err", err)
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrResolveFailed, uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned status %d", ErrResolveFailed, uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrResolveFailed, uri, err)
	}
	return body, nil
}

// noteToPost converts a fetched note into a post, resolving its owner.
func (r *Resolver) noteToPost(ctx context.Context, note *Note) (*domain.Post, error) {
	owner, err := r.ResolveActor(ctx, note.AttributedTo)
	if err != nil {
		return nil, err
	}
	return postFromNote(note, owner), nil
}

func sameHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.Host == ub.Host
}
