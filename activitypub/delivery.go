package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/doyensec/safeurl"
	"github.com/google/uuid"

	"palisade/db"
	"palisade/domain"
	"palisade/util"
)

const (
	deliveryInterval = 10 * time.Second
	deliveryBatch    = 50
	deliveryTimeout  = 30 * time.Second
	maxAttempts      = 10
)

// queueFollowResponse enqueues an Accept or Reject for a just-processed
// Follow, echoing the original activity as the object so the remote side
// can correlate.
func queueFollowResponse(hc *HandlerContext, responseType string, local *domain.Account, remote *domain.RemoteAccount, d *Delivery) error {
	response := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("https://%s/activities/%s", hc.Conf.Conf.Domain, uuid.New()),
		"type":     responseType,
		"actor":    local.ActorURI(hc.Conf.Conf.Domain),
		"object":   json.RawMessage(d.RawBody),
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return hc.DB.EnqueueDelivery(&domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     remote.InboxURI,
		ActivityJSON: string(payload),
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	})
}

// StartDeliveryWorker runs the outbound delivery loop in the background.
// Failed deliveries back off exponentially and are dropped after the attempt
// limit.
func StartDeliveryWorker(conf *util.AppConfig) {
	log.Info("Starting delivery worker")

	client := safeurl.Client(safeurl.GetConfigBuilder().
		SetTimeout(deliveryTimeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()).Client

	ticker := time.NewTicker(deliveryInterval)
	go func() {
		for range ticker.C {
			processDeliveryQueue(conf, client)
		}
	}()
}

func processDeliveryQueue(conf *util.AppConfig, client *http.Client) {
	database := db.GetDB()

	err, items := database.ReadPendingDeliveries(deliveryBatch)
	if err != nil {
		log.Error("Failed to read delivery queue", "err", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	for _, item := range *items {
		if err := deliverActivity(&item, conf, client); err != nil {
			item.Attempts++
			backoffMinutes := []int{1, 5, 15, 60, 240, 1440}[min(item.Attempts-1, 5)]
			item.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)

			if item.Attempts >= maxAttempts {
				log.Warn("Giving up on delivery", "inbox", item.InboxURI, "attempts", item.Attempts)
				database.DeleteDelivery(item.Id)
			} else {
				log.Debug("Delivery failed, will retry", "inbox", item.InboxURI, "attempt", item.Attempts, "err", err)
				database.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
			}
		} else {
			database.DeleteDelivery(item.Id)
		}
	}
}

// deliverActivity signs and posts one queued activity to a remote inbox. The
// signing account is the activity's actor, which is always local for queued
// deliveries.
func deliverActivity(item *domain.DeliveryQueueItem, conf *util.AppConfig, client *http.Client) error {
	var activity struct {
		Actor string `json:"actor"`
	}
	if err := json.Unmarshal([]byte(item.ActivityJSON), &activity); err != nil {
		return fmt.Errorf("failed to parse queued activity: %w", err)
	}

	username, ok := localUsernameFromURI(activity.Actor, conf.Conf.Domain)
	if !ok {
		return fmt.Errorf("queued activity has non-local actor %s", activity.Actor)
	}

	database := db.GetDB()
	err, localAccount := database.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}

	privateKey, err := ParsePrivateKey(localAccount.WebPrivateKey)
	if err != nil {
		return err
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequest(http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", hostOf(item.InboxURI))

	keyId := fmt.Sprintf("%s#main-key", activity.Actor)
	if err := SignRequest(req, privateKey, keyId, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status %d", resp.StatusCode)
	}
	return nil
}

func hostOf(uri string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(uri, "https://"), "http://")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}
