package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"palisade/db"
	"palisade/domain"
	"palisade/util"
)

// ProcessDelivery runs the full inbox pipeline for one inbound activity and
// returns the HTTP status to answer with. The pipeline is: verify the
// sender, deduplicate by activity URI, dispatch to the registered handler,
// map the handler outcome onto the response taxonomy.
//
// Status mapping: structural violation 400, unverifiable sender 401,
// referenced object affirmatively absent 404, transient resolution failure
// 502 (sender retries), unsupported shape 202 with no state change, anything
// else 500.
func ProcessDelivery(ctx context.Context, conf *util.AppConfig, database *db.DB, resolver ObjectResolver, req *http.Request, body []byte) (int, error) {
	d, err := ParseDelivery(body)
	if err != nil {
		return http.StatusBadRequest, err
	}

	actor, status, err := verifySender(ctx, resolver, req, d)
	if err != nil {
		return status, err
	}

	// Redelivery of an already-processed activity is acknowledged without
	// running the handler again. Handlers are idempotent regardless; the
	// log just saves the work.
	if d.Activity.ID != "" {
		err, logged := database.ReadActivityByURI(d.Activity.ID)
		if err == nil && logged.Processed {
			return http.StatusAccepted, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return http.StatusInternalServerError, err
		}
	}

	synthesizeNestedVerb(database, d)

	fn, ok := Lookup(actorKindOf(actor), Verb(d.Activity.Type), d.NestedVerb(), objectKindOf(d.Object))
	if !ok {
		log.Debug("Dropping unsupported activity",
			"type", d.Activity.Type, "nested", string(d.NestedVerb()), "actor", actor.ActorURI)
		return http.StatusAccepted, nil
	}

	hc := NewHandlerContext(ctx, database, resolver, conf)
	if err := fn(hc, actor, d); err != nil {
		switch {
		case errors.Is(err, ErrBadActivity):
			return http.StatusBadRequest, err
		case errors.Is(err, ErrNotFound):
			return http.StatusNotFound, err
		case errors.Is(err, ErrResolveFailed):
			return http.StatusBadGateway, err
		default:
			return http.StatusInternalServerError, err
		}
	}

	logProcessed(database, d, actor)
	return http.StatusAccepted, nil
}

// verifySender authenticates the delivery: the HTTP signature must verify
// against the key of the actor the activity claims to come from. No
// processing starts for an unverified sender.
func verifySender(ctx context.Context, resolver ObjectResolver, req *http.Request, d *Delivery) (*domain.RemoteAccount, int, error) {
	keyOwner, err := KeyOwnerURI(req)
	if err != nil {
		return nil, http.StatusUnauthorized, err
	}
	if keyOwner != d.Activity.Actor {
		return nil, http.StatusUnauthorized, badActivity("signature key owner %s does not match activity actor %s", keyOwner, d.Activity.Actor)
	}

	actor, err := resolver.ResolveActor(ctx, keyOwner)
	if err != nil {
		if errors.Is(err, ErrResolveFailed) {
			return nil, http.StatusBadGateway, err
		}
		return nil, http.StatusUnauthorized, err
	}

	if _, err := VerifyRequest(req, actor.PublicKeyPem); err != nil {
		return nil, http.StatusUnauthorized, err
	}
	return actor, http.StatusOK, nil
}

// synthesizeNestedVerb recovers the nested activity for an Undo or Accept
// whose object arrived as a bare activity URI. The activity log keeps the
// verb and object of everything this server processed, so a reference to a
// previously seen Announce or Like can still route to the specific handler.
func synthesizeNestedVerb(database *db.DB, d *Delivery) {
	if d.Nested != nil || !nestedObjectVerbs[d.Activity.Type] || d.Object.URI == "" {
		return
	}
	err, logged := database.ReadActivityByURI(d.Object.URI)
	if err != nil {
		return
	}
	d.Nested = &Activity{
		ID:    logged.ActivityURI,
		Type:  logged.ActivityType,
		Actor: logged.ActorURI,
	}
	if logged.ObjectURI != "" {
		d.Object = ObjectRef{URI: logged.ObjectURI}
	}
}

// logProcessed records the activity in the dedup log. Failures only cost a
// redundant reprocessing later, so they are logged and swallowed.
func logProcessed(database *db.DB, d *Delivery, actor *domain.RemoteAccount) {
	if d.Activity.ID == "" {
		return
	}
	raw, _ := json.Marshal(d.Activity)
	entry := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  d.Activity.ID,
		ActivityType: d.Activity.Type,
		ActorURI:     actor.ActorURI,
		ObjectURI:    d.Object.URI,
		RawJSON:      string(raw),
		Processed:    true,
		CreatedAt:    time.Now(),
		Local:        false,
	}
	if err := database.CreateActivity(entry); err != nil {
		log.Warn("Failed to log processed activity", "uri", d.Activity.ID, "err", err)
	}
}
