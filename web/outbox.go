package web

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"palisade/db"
	"palisade/domain"
	"palisade/util"
)

const itemsPerPage = 20

// GetOutbox returns an OrderedCollection of a user's posts so remote servers
// can discover them without following. Page 0 returns collection metadata.
func GetOutbox(actor string, page int, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(actor)
	if err != nil {
		log.Debug("Outbox requested for unknown user", "user", actor)
		return err, "{}"
	}

	outboxURL := getIRI(conf.Conf.Domain, actor, outbox)

	if page == 0 {
		err, posts := db.GetDB().ReadPostsByOwnerId(acc.Id, 999999, 0)
		if err != nil {
			return err, "{}"
		}
		totalItems := 0
		if posts != nil {
			totalItems = len(*posts)
		}
		return marshalCollection(map[string]interface{}{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": totalItems,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		})
	}

	offset := (page - 1) * itemsPerPage
	err, posts := db.GetDB().ReadPostsByOwnerId(acc.Id, itemsPerPage+1, offset)
	if err != nil {
		return err, "{}"
	}

	hasMore := false
	items := []interface{}{}
	if posts != nil {
		entries := *posts
		if len(entries) > itemsPerPage {
			hasMore = true
			entries = entries[:itemsPerPage]
		}
		for _, post := range entries {
			items = append(items, map[string]interface{}{
				"id":        fmt.Sprintf("%s/activity", post.ObjectURI),
				"type":      "Create",
				"actor":     acc.ActorURI(conf.Conf.Domain),
				"object":    post.ObjectURI,
				"published": post.CreatedAt,
			})
		}
	}

	collectionPage := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	return marshalCollection(collectionPage)
}

// GetWallCollection returns the wall as an OrderedCollection of post URIs.
// The collection id is what remote Add activities name as their target.
func GetWallCollection(actor string, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	err, posts := db.GetDB().ReadPostsByOwnerId(acc.Id, itemsPerPage, 0)
	if err != nil {
		return err, "{}"
	}

	items := []string{}
	if posts != nil {
		for _, post := range *posts {
			items = append(items, post.ObjectURI)
		}
	}

	return marshalCollection(map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           getIRI(conf.Conf.Domain, actor, wall),
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	})
}

// GetFollowersCollection returns the actor URIs following a local account.
func GetFollowersCollection(actor string, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	err, follows := db.GetDB().ReadFollowersOfAccount(acc.Id)
	if err != nil {
		return err, "{}"
	}

	uris := followActorURIs(*follows, func(f domain.Follow) uuid.UUID { return f.AccountId })
	return marshalCollection(map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           getIRI(conf.Conf.Domain, actor, followers),
		"type":         "OrderedCollection",
		"totalItems":   len(uris),
		"orderedItems": uris,
	})
}

// GetFollowingCollection returns the actor URIs a local account follows.
func GetFollowingCollection(actor string, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	err, follows := db.GetDB().ReadFollowedByAccountId(acc.Id)
	if err != nil {
		return err, "{}"
	}

	uris := followActorURIs(*follows, func(f domain.Follow) uuid.UUID { return f.TargetAccountId })
	return marshalCollection(map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           getIRI(conf.Conf.Domain, actor, following),
		"type":         "OrderedCollection",
		"totalItems":   len(uris),
		"orderedItems": uris,
	})
}

// followActorURIs maps follow rows to remote actor URIs, skipping rows whose
// remote side is no longer cached.
func followActorURIs(follows []domain.Follow, pick func(domain.Follow) uuid.UUID) []string {
	database := db.GetDB()
	uris := []string{}
	for _, follow := range follows {
		if err, remote := database.ReadRemoteAccountById(pick(follow)); err == nil {
			uris = append(uris, remote.ActorURI)
		}
	}
	return uris
}

func marshalCollection(collection map[string]interface{}) (error, string) {
	jsonBytes, err := json.Marshal(collection)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}
