package web

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"palisade/activitypub"
	"palisade/db"
	"palisade/util"
)

// Router starts the HTTP server carrying the federation surface: inboxes,
// actor and object documents, webfinger, collections and feeds.
func Router(conf *util.AppConfig, resolver activitypub.ObjectResolver) error {
	log.Info("Starting server", "host", conf.Conf.Host, "port", conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for inbox endpoints, plus a body cap sized for
	// activity documents.
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	handleInbox := func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.Status(400)
			return
		}

		status, perr := activitypub.ProcessDelivery(c.Request.Context(), conf, db.GetDB(), resolver, c.Request, body)
		countDelivery(activityTypeOf(body), status)
		if perr != nil {
			log.Debug("Delivery rejected", "status", status, "err", perr)
		}
		c.Status(status)
	}

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, handleInbox)

	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		if err, _ := db.GetDB().ReadAccByUsername(c.Param("actor")); err != nil {
			c.JSON(404, gin.H{"error": "No such user"})
			return
		}
		handleInbox(c)
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, actor := GetActor(c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: actor})
		} else {
			c.Render(200, render.String{Format: actor})
		}
	})

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		page, _ := strconv.Atoi(c.Query("page"))
		err, collection := GetOutbox(c.Param("actor"), page, conf)
		if err != nil {
			c.Render(404, render.String{Format: collection})
		} else {
			c.Render(200, render.String{Format: collection})
		}
	})

	g.GET("/users/:actor/wall", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, collection := GetWallCollection(c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: collection})
		} else {
			c.Render(200, render.String{Format: collection})
		}
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, collection := GetFollowersCollection(c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: collection})
		} else {
			c.Render(200, render.String{Format: collection})
		}
	})

	g.GET("/users/:actor/following", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, collection := GetFollowingCollection(c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: collection})
		} else {
			c.Render(200, render.String{Format: collection})
		}
	})

	g.GET("/notes/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		noteId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid note ID"})
			return
		}
		err, note := GetNoteObject(noteId, conf)
		if err != nil {
			c.JSON(404, gin.H{"error": "Note not found"})
		} else {
			c.Render(200, render.String{Format: note})
		}
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}
		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.Domain))
		err, resp := GetWebfinger(resource, conf)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.Render(200, render.String{Format: resp})
		}
	})

	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(conf, c.Query("username"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		feedId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}
		rssItem, err := GetRSSItem(conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	g.GET("/metrics", MetricsHandler())

	return g.Run(fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort))
}

// activityTypeOf peeks at the activity type for metrics without committing
// to a full parse.
func activityTypeOf(body []byte) string {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return ""
	}
	return peek.Type
}
