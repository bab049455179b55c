package activitypub

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"palisade/domain"
	"palisade/util"
)

// putNotificationsForPost fans out the notifications a newly stored post
// produces: a reply notification for every local participant along the
// reply chain and a mention notification for every mentioned local user.
// The composite identity on the notification table makes redelivery a
// no-op, and a user never gets notified about their own activity.
func putNotificationsForPost(hc *HandlerContext, post *domain.Post, note *Note) error {
	notified := map[uuid.UUID]bool{post.OwnerId: true}

	parentURI := post.InReplyToURI
	for depth := 0; parentURI != "" && depth < maxReplyDepth; depth++ {
		parent, perr := hc.Walls.GetPostOrThrow(parentURI)
		if errors.Is(perr, ErrNotFound) {
			break
		}
		if perr != nil {
			return perr
		}
		if !notified[parent.OwnerId] {
			if owner, err := hc.Accounts.ById(parent.OwnerId); err == nil {
				if err := hc.Notifications.Put(&domain.Notification{
					OwnerId:    owner.Id,
					ObjectType: domain.ObjectTypePost,
					ObjectId:   post.Id,
					Type:       domain.NotificationReply,
					ActorId:    post.OwnerId,
					CreatedAt:  time.Now(),
				}); err != nil {
					return err
				}
				notified[owner.Id] = true
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		parentURI = parent.InReplyToURI
	}

	// Mentions arrive both as Mention tags and as @user@domain text in the
	// body; either form notifies a mentioned local user once.
	var usernames []string
	for _, href := range note.Mentions() {
		if username, ok := localUsernameFromURI(href, hc.Conf.Conf.Domain); ok {
			usernames = append(usernames, username)
		}
	}
	for _, mention := range util.ExtractMentions(note.Content) {
		if mention[1] == hc.Conf.Conf.Domain {
			usernames = append(usernames, mention[0])
		}
	}

	for _, username := range usernames {
		mentioned, err := hc.Accounts.ByUsername(username)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if notified[mentioned.Id] {
			continue
		}
		if err := hc.Notifications.Put(&domain.Notification{
			OwnerId:    mentioned.Id,
			ObjectType: domain.ObjectTypePost,
			ObjectId:   post.Id,
			Type:       domain.NotificationMention,
			ActorId:    post.OwnerId,
			CreatedAt:  time.Now(),
		}); err != nil {
			return err
		}
		notified[mentioned.Id] = true
	}

	return nil
}

// localUsernameFromURI extracts the username from a local actor URI. Returns
// false for URIs pointing at other hosts or non-actor paths.
func localUsernameFromURI(uri, localDomain string) (string, bool) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host != localDomain {
		return "", false
	}
	rest, found := strings.CutPrefix(parsed.Path, "/users/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
