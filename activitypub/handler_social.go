package activitypub

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"palisade/domain"
)

// HandleLikeNote records a like on a post this server knows about. Liking an
// unknown post is a not-found, not a fetch trigger.
func HandleLikeNote(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	post, err := hc.Walls.GetPostOrThrow(d.Object.URI)
	if err != nil {
		return err
	}

	if err := hc.DB.CreateLike(&domain.Like{
		Id:        uuid.New(),
		AccountId: actor.Id,
		PostId:    post.Id,
		URI:       d.Activity.ID,
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
		Type:       domain.NotificationLike,
		ActorId:    actor.Id,
		CreatedAt:  time.Now(),
	})
}

// HandleUndoLikeNote removes a like if present. Absence is a no-op.
func HandleUndoLikeNote(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	post, err := hc.Walls.GetPostOrThrow(d.Object.URI)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := hc.DB.DeleteLike(actor.Id, post.Id); err != nil {
		return err
	}
	return hc.Notifications.Delete(domain.ObjectTypePost, post.Id, domain.NotificationLike, actor.Id)
}

// HandleFollow records a follow of a local account and queues the Accept
// back to the sender's inbox.
func HandleFollow(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	username, ok := localUsernameFromURI(d.Object.URI, hc.Conf.Conf.Domain)
	if !ok {
		return badActivity("follow object %s is not a local actor", d.Object.URI)
	}
	local, err := hc.Accounts.ByUsername(username)
	if err != nil {
		return err
	}

	// A closed instance does not take on new followers. The Reject still
	// echoes the Follow so the remote side can settle its pending state.
	if hc.Conf.Conf.Closed {
		return queueFollowResponse(hc, "Reject", local, actor, d)
	}

	if err := hc.DB.CreateFollow(&domain.Follow{
		Id:              uuid.New(),
		AccountId:       actor.Id,
		TargetAccountId: local.Id,
		URI:             d.Activity.ID,
		CreatedAt:       time.Now(),
		Accepted:        true,
	}); err != nil {
		return err
	}

	if err := hc.Notifications.Put(&domain.Notification{
		OwnerId:    local.Id,
		ObjectType: domain.ObjectTypeAccount,
		ObjectId:   local.Id,
		Type:       domain.NotificationFollow,
		ActorId:    actor.Id,
		CreatedAt:  time.Now(),
	}); err != nil {
		return err
	}

	return queueFollowResponse(hc, "Accept", local, actor, d)
}

// HandleAcceptFollow marks a follow this server sent as accepted by the
// remote side.
func HandleAcceptFollow(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	followURI := d.Object.URI
	if d.Nested != nil && d.Nested.ID != "" {
		followURI = d.Nested.ID
	}

	err, follow := hc.DB.ReadFollowByURI(followURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if follow.TargetAccountId != actor.Id {
		return badActivity("actor %s cannot accept a follow of someone else", actor.ActorURI)
	}
	return hc.DB.AcceptFollowByURI(followURI)
}

// HandleUndoFollow removes a follow if present. The follow is found by the
// nested activity's URI, falling back to the (follower, followed) pair when
// the retraction references the relationship without the original URI.
func HandleUndoFollow(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	var follow *domain.Follow
	if d.Nested != nil && d.Nested.ID != "" {
		if err, found := hc.DB.ReadFollowByURI(d.Nested.ID); err == nil {
			follow = found
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if follow == nil {
		username, ok := localUsernameFromURI(d.Object.URI, hc.Conf.Conf.Domain)
		if !ok {
			return nil
		}
		local, err := hc.Accounts.ByUsername(username)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err, found := hc.DB.ReadFollowByAccountIds(actor.Id, local.Id); err == nil {
			follow = found
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if follow == nil {
		return nil
	}
	if follow.AccountId != actor.Id {
		return badActivity("actor %s cannot undo a follow by someone else", actor.ActorURI)
	}

	if err := hc.DB.DeleteFollowByURI(follow.URI); err != nil {
		return err
	}
	return hc.Notifications.Delete(domain.ObjectTypeAccount, follow.TargetAccountId, domain.NotificationFollow, actor.Id)
}

// HandleDelete removes a post or a whole remote account, restricted to the
// actor's own objects. Deleting something this server never saw is a no-op.
func HandleDelete(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error {
	if d.Object.URI == actor.ActorURI {
		return deleteRemoteAccount(hc, actor)
	}

	post, err := hc.Walls.GetPostOrThrow(d.Object.URI)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if post.OwnerURI != actor.ActorURI {
		return badActivity("actor %s cannot delete a post owned by %s", actor.ActorURI, post.OwnerURI)
	}

	return deletePostCascade(hc, post)
}

func deletePostCascade(hc *HandlerContext, post *domain.Post) error {
	if err := hc.DB.DeleteLikesByPostId(post.Id); err != nil {
		return err
	}
	if err := hc.DB.DeleteNotificationsByObject(domain.ObjectTypePost, post.Id); err != nil {
		return err
	}
	if err := hc.DB.DeleteNewsfeedEntriesByObject(post.Id); err != nil {
		return err
	}
	if err := hc.DB.DeleteRemoteObject(post.ObjectURI); err != nil {
		return err
	}
	return hc.DB.DeletePost(post.Id)
}

func deleteRemoteAccount(hc *HandlerContext, actor *domain.RemoteAccount) error {
	err, posts := hc.DB.ReadPostsByOwnerId(actor.Id, 1000, 0)
	if err != nil {
		return err
	}
	for i := range *posts {
		if err := deletePostCascade(hc, &(*posts)[i]); err != nil {
			return err
		}
	}
	if err := hc.DB.DeleteFollowsByAccountId(actor.Id); err != nil {
		return err
	}
	return hc.DB.DeleteRemoteAccount(actor.Id)
}
