package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"palisade/db"
	"palisade/util"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	following
	wall
	sharedInbox
)

// GetActor renders a local account as an ActivityPub actor document,
// including the wall collection remote servers target with Add activities.
func GetActor(actor string, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	username := acc.Username
	displayName := acc.DisplayName
	if displayName == "" {
		displayName = username
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        getIRI(conf.Conf.Domain, username, id),
		"type":                      "Person",
		"preferredUsername":         username,
		"name":                      displayName,
		"summary":                   acc.Summary,
		"inbox":                     getIRI(conf.Conf.Domain, username, inbox),
		"outbox":                    getIRI(conf.Conf.Domain, username, outbox),
		"followers":                 getIRI(conf.Conf.Domain, username, followers),
		"following":                 getIRI(conf.Conf.Domain, username, following),
		"wall":                      getIRI(conf.Conf.Domain, username, wall),
		"url":                       getIRI(conf.Conf.Domain, username, id),
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]string{
			"sharedInbox": getIRI(conf.Conf.Domain, username, sharedInbox),
		},
		"publicKey": map[string]string{
			"id":           fmt.Sprintf("%s#main-key", getIRI(conf.Conf.Domain, username, id)),
			"owner":        getIRI(conf.Conf.Domain, username, id),
			"publicKeyPem": acc.WebPublicKey,
		},
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

func getIRI(domain string, username string, action action) string {
	prefix := fmt.Sprintf("https://%s/users/%s", domain, username)
	switch action {
	case inbox:
		return fmt.Sprintf("%s/inbox", prefix)
	case outbox:
		return fmt.Sprintf("%s/outbox", prefix)
	case followers:
		return fmt.Sprintf("%s/followers", prefix)
	case following:
		return fmt.Sprintf("%s/following", prefix)
	case wall:
		return fmt.Sprintf("%s/wall", prefix)
	case id:
		return prefix
	case sharedInbox:
		return fmt.Sprintf("https://%s/inbox", domain)
	default:
		return ""
	}
}

// GetNoteObject renders a local post as an ActivityPub Note.
func GetNoteObject(postId uuid.UUID, conf *util.AppConfig) (error, string) {
	database := db.GetDB()
	err, post := database.ReadPostById(postId)
	if err != nil {
		return err, "{}"
	}
	if !post.Local {
		return fmt.Errorf("post %s is not local", postId), "{}"
	}

	err, account := database.ReadAccById(post.OwnerId)
	if err != nil {
		return err, "{}"
	}

	actorURI := account.ActorURI(conf.Conf.Domain)
	noteObj := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           post.ObjectURI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      post.Content,
		"published":    post.CreatedAt.Format(time.RFC3339),
		"sensitive":    post.Sensitive,
		"to": []string{
			"https://www.w3.org/ns/activitystreams#Public",
		},
		"cc": []string{
			fmt.Sprintf("%s/followers", actorURI),
		},
	}
	if post.IsReply() {
		noteObj["inReplyTo"] = post.InReplyToURI
	}
	if post.ContentWarning != "" {
		noteObj["summary"] = post.ContentWarning
	}
	if post.EditedAt != nil {
		noteObj["updated"] = post.EditedAt.Format(time.RFC3339)
	}

	jsonBytes, err := json.Marshal(noteObj)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}
