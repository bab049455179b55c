package activitypub

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"palisade/db"
	"palisade/domain"
	"palisade/util"
)

type inboxFixture struct {
	conf       *util.AppConfig
	db         *db.DB
	resolver   ObjectResolver
	privateKey *rsa.PrivateKey
	bob        *domain.RemoteAccount
	alice      *domain.Account
}

func setupInboxTest(t *testing.T) *inboxFixture {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.Domain = "local.example"

	RegisterHandlers()

	keypair := util.GeneratePemKeypair()
	privateKey, err := ParsePrivateKey(keypair.Private)
	if err != nil {
		t.Fatalf("Failed to parse generated key: %v", err)
	}

	bob := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      "bob",
		Domain:        "remote.example",
		ActorURI:      "https://remote.example/users/bob",
		Kind:          "Person",
		InboxURI:      "https://remote.example/users/bob/inbox",
		WallURI:       "https://remote.example/users/bob/wall",
		PublicKeyPem:  keypair.Public,
		LastFetchedAt: time.Now(),
	}
	if err := database.UpsertRemoteAccount(bob); err != nil {
		t.Fatalf("Failed to store remote actor: %v", err)
	}

	alice := &domain.Account{Id: uuid.New(), Username: "alice", CreatedAt: time.Now()}
	if err := database.CreateAccount(alice); err != nil {
		t.Fatalf("Failed to create local account: %v", err)
	}

	return &inboxFixture{
		conf:       conf,
		db:         database,
		resolver:   &fakeResolver{db: database},
		privateKey: privateKey,
		bob:        bob,
		alice:      alice,
	}
}

func (f *inboxFixture) deliver(t *testing.T, body string) (int, error) {
	req := signedTestRequest(t, f.privateKey, f.bob.ActorURI+"#main-key", []byte(body))
	return ProcessDelivery(context.Background(), f.conf, f.db, f.resolver, req, []byte(body))
}

func TestProcessDeliveryFollow(t *testing.T) {
	f := setupInboxTest(t)

	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/follow-1",
		"type": "Follow",
		"actor": "%s",
		"object": "https://local.example/users/alice"
	}`, f.bob.ActorURI)

	status, err := f.deliver(t, body)
	if err != nil {
		t.Fatalf("Delivery failed: %v", err)
	}
	if status != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", status)
	}

	err, follow := f.db.ReadFollowByAccountIds(f.bob.Id, f.alice.Id)
	if err != nil {
		t.Fatalf("Expected a follow row: %v", err)
	}
	if !follow.Accepted {
		t.Error("Expected follow to be accepted")
	}

	// Redelivery short-circuits on the activity log, so the Accept is not
	// queued a second time.
	status, err = f.deliver(t, body)
	if err != nil || status != http.StatusAccepted {
		t.Fatalf("Redelivery must be acknowledged, got status %d err %v", status, err)
	}
	err, pending := f.db.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("Failed to read pending deliveries: %v", err)
	}
	if len(*pending) != 1 {
		t.Errorf("Expected one queued Accept after redelivery, got %d", len(*pending))
	}
}

func TestProcessDeliveryRejectsUnsigned(t *testing.T) {
	f := setupInboxTest(t)

	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/follow-2",
		"type": "Follow",
		"actor": "%s",
		"object": "https://local.example/users/alice"
	}`, f.bob.ActorURI)

	req, _ := http.NewRequest("POST", "https://local.example/inbox", nil)
	status, err := ProcessDelivery(context.Background(), f.conf, f.db, f.resolver, req, []byte(body))
	if status != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for an unsigned request, got %d (err %v)", status, err)
	}
}

func TestProcessDeliveryRejectsKeyOwnerMismatch(t *testing.T) {
	f := setupInboxTest(t)

	// Signed with bob's key, but the activity claims a different actor
	body := `{
		"id": "https://remote.example/activities/follow-3",
		"type": "Follow",
		"actor": "https://remote.example/users/carol",
		"object": "https://local.example/users/alice"
	}`

	status, err := f.deliver(t, body)
	if status != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a key owner mismatch, got %d (err %v)", status, err)
	}
}

func TestProcessDeliveryRejectsTamperedSignature(t *testing.T) {
	f := setupInboxTest(t)

	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/follow-4",
		"type": "Follow",
		"actor": "%s",
		"object": "https://local.example/users/alice"
	}`, f.bob.ActorURI)

	req := signedTestRequest(t, f.privateKey, f.bob.ActorURI+"#main-key", []byte(body))
	req.Header.Set("Date", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))

	status, _ := ProcessDelivery(context.Background(), f.conf, f.db, f.resolver, req, []byte(body))
	if status != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a tampered request, got %d", status)
	}
}

func TestProcessDeliveryUnsupportedShape(t *testing.T) {
	f := setupInboxTest(t)

	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/block-1",
		"type": "Block",
		"actor": "%s",
		"object": "https://local.example/users/alice"
	}`, f.bob.ActorURI)

	status, err := f.deliver(t, body)
	if err != nil {
		t.Fatalf("Unsupported shape must not error: %v", err)
	}
	if status != http.StatusAccepted {
		t.Errorf("Expected status 202 for an unsupported activity, got %d", status)
	}
}

func TestProcessDeliveryRejectsMalformedBody(t *testing.T) {
	f := setupInboxTest(t)

	status, err := ProcessDelivery(context.Background(), f.conf, f.db, f.resolver, nil, []byte(`{"type": 42}`))
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a malformed body, got %d (err %v)", status, err)
	}
}

func TestProcessDeliveryUndoRecoversNestedVerb(t *testing.T) {
	f := setupInboxTest(t)
	post := storeLocalPost(t, f.db, f.alice, "https://local.example/notes/1")

	announce := fmt.Sprintf(`{
		"id": "https://remote.example/activities/announce-1",
		"type": "Announce",
		"actor": "%s",
		"object": "%s"
	}`, f.bob.ActorURI, post.ObjectURI)

	if status, err := f.deliver(t, announce); err != nil || status != http.StatusAccepted {
		t.Fatalf("Announce failed: status %d err %v", status, err)
	}

	// The Undo references the Announce by bare URI; the activity log
	// recovers the nested verb and the announced object.
	undo := fmt.Sprintf(`{
		"id": "https://remote.example/activities/undo-1",
		"type": "Undo",
		"actor": "%s",
		"object": "https://remote.example/activities/announce-1"
	}`, f.bob.ActorURI)

	if status, err := f.deliver(t, undo); err != nil || status != http.StatusAccepted {
		t.Fatalf("Undo failed: status %d err %v", status, err)
	}

	err, count := f.db.CountNewsfeedEntries(domain.FeedEntryReshare, f.bob.Id, post.Id)
	if err != nil {
		t.Fatalf("Failed to count feed entries: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected the re-share feed entry to be retracted, got %d rows", count)
	}
}
