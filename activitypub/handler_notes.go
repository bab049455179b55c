package activitypub

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"palisade/domain"
	"palisade/util"
)

// HandleAddNote processes "a post is added to a wall collection". All guards
// run before any of the handler's own writes; a violation rejects the whole
// activity with zero state change.
func HandleAddNote(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	targetURI, err := d.TargetURI()
	if err != nil {
		return err
	}
	if targetURI != actor.WallURI {
		return badActivity("target %s is not the wall of %s", targetURI, actor.ActorURI)
	}

	note, err := d.ObjectNote()
	if err != nil {
		return err
	}
	if err := guardNoteOrigin(actor, note); err != nil {
		return err
	}

	post := postFromNote(note, actor)

	// A reply stays on the wall its thread root lives on.
	if post.IsReply() {
		top, err := hc.Walls.TopLevelPost(hc.Ctx, post)
		if err != nil {
			return err
		}
		if top.OwnerURI != post.OwnerURI {
			return badActivity("reply chain root belongs to %s, not %s", top.OwnerURI, post.OwnerURI)
		}
	}

	if err := hc.Resolver.StoreOrUpdateRemoteObject(hc.Ctx, post); err != nil {
		return err
	}
	return putNotificationsForPost(hc, post, note)
}

// HandleCreateNote stores a newly created remote post and fans out its
// notifications and feed entry. A note from an actor nobody here follows is
// dropped unless it replies to a local post, so strangers cannot seed feeds.
func HandleCreateNote(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	note, err := d.ObjectNote()
	if err != nil {
		return err
	}
	if err := guardNoteOrigin(actor, note); err != nil {
		return err
	}

	solicited, err := noteIsSolicited(hc, actor, note)
	if err != nil {
		return err
	}
	if !solicited {
		return nil
	}

	post := postFromNote(note, actor)

	if err := hc.Resolver.StoreOrUpdateRemoteObject(hc.Ctx, post); err != nil {
		return err
	}
	if err := hc.Feed.InsertEntry(&domain.NewsfeedEntry{
		Type:      domain.FeedEntryPost,
		ActorId:   actor.Id,
		ObjectId:  post.Id,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	return putNotificationsForPost(hc, post, note)
}

// HandleUpdateNote overwrites the content fields of a known post, keeping
// its local id. An Update for a post this server never saw is dropped.
func HandleUpdateNote(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	note, err := d.ObjectNote()
	if err != nil {
		return err
	}
	if err := guardNoteOrigin(actor, note); err != nil {
		return err
	}

	stored, err := hc.Walls.GetPostOrThrow(note.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored.OwnerURI != actor.ActorURI {
		return badActivity("post %s belongs to %s, not %s", note.ID, stored.OwnerURI, actor.ActorURI)
	}

	post := postFromNote(note, actor)
	if post.EditedAt == nil {
		now := time.Now()
		post.EditedAt = &now
	}
	return hc.Resolver.StoreOrUpdateRemoteObject(hc.Ctx, post)
}

// HandleUpdatePerson refetches the actor's authoritative document instead of
// trusting the embedded copy. The cached profile is replaced in place.
func HandleUpdatePerson(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	if d.Object.URI != actor.ActorURI {
		return badActivity("actor %s cannot update profile of %s", actor.ActorURI, d.Object.URI)
	}
	_, err := hc.Resolver.RefreshActor(hc.Ctx, actor.ActorURI)
	return err
}

// guardNoteOrigin checks that a pushed embedded note really belongs to the
// sender: the claimed author is the delivering actor, and the note's id
// lives on the actor's own host. Without the host check a sender could
// embed a note whose id collides with a stored post it does not own and
// have the upsert rewrite that post's content. Fetched objects get the
// equivalent check in the resolver.
func guardNoteOrigin(actor *domain.RemoteAccount, note *Note) error {
	if note.AttributedTo != actor.ActorURI {
		return badActivity("post owner %s does not match actor %s", note.AttributedTo, actor.ActorURI)
	}
	if !sameHost(note.ID, actor.ActorURI) {
		return badActivity("object %s does not originate from %s", note.ID, actor.ActorURI)
	}
	return nil
}

// noteIsSolicited reports whether a Create(Note) was asked for: either the
// note replies to a locally owned post, or a local account follows the
// sender.
func noteIsSolicited(hc *HandlerContext, actor *domain.RemoteAccount, note *Note) (bool, error) {
	if note.InReplyTo != "" {
		parent, err := hc.Walls.GetPostOrThrow(note.InReplyTo)
		if err == nil && parent.Local {
			return true, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}

	err, followers := hc.DB.ReadFollowersOfAccount(actor.Id)
	if err != nil {
		return false, err
	}
	return len(*followers) > 0, nil
}

// postFromNote builds the stored representation of a federated note owned by
// the given actor. Content is sanitized on the way in.
func postFromNote(note *Note, owner *domain.RemoteAccount) *domain.Post {
	post := &domain.Post{
		Id:           uuid.New(),
		OwnerId:      owner.Id,
		OwnerURI:     owner.ActorURI,
		ObjectURI:    note.ID,
		InReplyToURI: note.InReplyTo,
		Content:      util.SanitizeHTML(note.Content),
		Sensitive:    note.Sensitive,
		Local:        false,
		CreatedAt:    time.Now(),
	}
	if note.Summary != nil {
		post.ContentWarning = *note.Summary
	}
	if published, err := time.Parse(time.RFC3339, note.Published); err == nil {
		post.CreatedAt = published
	}
	if note.Updated != "" {
		if updated, err := time.Parse(time.RFC3339, note.Updated); err == nil {
			post.EditedAt = &updated
		}
	}
	return post
}
