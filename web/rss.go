package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"

	"palisade/db"
	"palisade/util"
)

// GetRSS renders a local user's wall as an RSS feed.
func GetRSS(conf *util.AppConfig, username string) (string, error) {
	err, acc := db.GetDB().ReadAccByUsername(username)
	if err != nil {
		return "", errors.New("error retrieving account by username")
	}

	err, posts := db.GetDB().ReadPostsByOwnerId(acc.Id, itemsPerPage, 0)
	if err != nil || posts == nil {
		log.Debug("Could not get wall posts", "user", username, "err", err)
		return "", errors.New("error retrieving posts by username")
	}

	email := fmt.Sprintf("%s@%s", username, conf.Conf.Domain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Palisade Wall - %s", username),
		Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/feed?username=%s", conf.Conf.Domain, username)},
		Description: fmt.Sprintf("wall posts of %s", username),
		Author:      &feeds.Author{Name: username, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range *posts {
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      post.Id.String(),
				Title:   post.CreatedAt.Format(time.DateTime),
				Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/feed/%s", conf.Conf.Domain, post.Id)},
				Content: post.Content,
				Author:  &feeds.Author{Name: username, Email: email},
				Created: post.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single post as a one-item RSS feed.
func GetRSSItem(conf *util.AppConfig, postId uuid.UUID) (string, error) {
	err, post := db.GetDB().ReadPostById(postId)
	if err != nil || post == nil {
		return "", errors.New("error retrieving post by id")
	}

	name := post.OwnerURI
	if err, acc := db.GetDB().ReadAccById(post.OwnerId); err == nil {
		name = acc.Username
	}

	url := fmt.Sprintf("https://%s/feed/%s", conf.Conf.Domain, post.Id)
	email := fmt.Sprintf("%s@%s", name, conf.Conf.Domain)

	feed := &feeds.Feed{
		Title:       "Single Palisade Post",
		Link:        &feeds.Link{Href: url},
		Description: "single wall post",
		Author:      &feeds.Author{Name: name, Email: email},
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{
		{
			Id:      post.Id.String(),
			Title:   post.CreatedAt.Format(time.DateTime),
			Link:    &feeds.Link{Href: url},
			Content: post.Content,
			Author:  &feeds.Author{Name: name, Email: email},
			Created: post.CreatedAt,
		},
	}
	return feed.ToRss()
}
