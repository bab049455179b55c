package activitypub

import (
	"errors"
	"time"

	"palisade/domain"
)

// HandleAnnounceNote processes a re-share. The announced object is resolved
// first (fetching it if this server never saw it), then a re-share feed
// entry and a notification for the post's local owner are inserted. Both
// writes are keyed, so redelivery converges to the same single row each.
func HandleAnnounceNote(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	post, err := resolveDeliveredObject(hc, actor, d)
	if err != nil {
		return err
	}

	if err := hc.Feed.InsertEntry(&domain.NewsfeedEntry{
		Type:      domain.FeedEntryReshare,
		ActorId:   actor.Id,
		ObjectId:  post.Id,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	if post.OwnerId == actor.Id {
		return nil
	}
	if _, err := hc.Accounts.ById(post.OwnerId); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return hc.Notifications.Put(&domain.Notification{
		OwnerId:    post.OwnerId,
		ObjectType: domain.ObjectTypePost,
		ObjectId:   post.Id,
		Type:       domain.NotificationReshare,
		ActorId:    actor.Id,
		CreatedAt:  time.Now(),
	})
}

// HandleUndoAnnounceNote retracts a re-share. The post is looked up locally
// only: a retraction of a re-share this server never saw is acknowledged as
// a no-op rather than triggering a remote fetch, since an Undo may race with
// or arrive without its corresponding Announce.
func HandleUndoAnnounceNote(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	post, err := hc.Walls.GetPostOrThrow(d.Object.URI)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := hc.Feed.DeleteEntry(actor.Id, post.Id, domain.FeedEntryReshare); err != nil {
		return err
	}
	return hc.Notifications.Delete(domain.ObjectTypePost, post.Id, domain.NotificationReshare, actor.Id)
}

// resolveDeliveredObject hydrates the object a delivery references. An
// embedded note is stored under its own author only when the delivering
// actor's host owns it; a bare URI or a cross-host embedded copy goes
// through the resolver's cache-then-fetch path, which rechecks the object
// against its origin instead of trusting the sender's copy.
func resolveDeliveredObject(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) (*domain.Post, error) {
	if d.Object.Raw == nil || !sameHost(d.Object.URI, actor.ActorURI) {
		return hc.Resolver.Resolve(hc.Ctx, d.Object.URI)
	}

	note, err := d.ObjectNote()
	if err != nil {
		return nil, err
	}
	if !sameHost(note.ID, note.AttributedTo) {
		return nil, badActivity("object %s attributed to foreign host %s", note.ID, note.AttributedTo)
	}
	author, err := hc.Resolver.ResolveActor(hc.Ctx, note.AttributedTo)
	if err != nil {
		return nil, err
	}
	post := postFromNote(note, author)
	if err := hc.Resolver.StoreOrUpdateRemoteObject(hc.Ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}
