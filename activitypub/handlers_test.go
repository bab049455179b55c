package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"palisade/db"
	"palisade/domain"
	"palisade/util"
)

// fakeResolver serves handler tests from storage only: objects this server
// does not already hold are not found, and no network operation happens.
type fakeResolver struct {
	db *db.DB
}

func (r *fakeResolver) Resolve(ctx context.Context, uri string) (*domain.Post, error) {
	err, post := r.db.ReadPostByObjectURI(uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (r *fakeResolver) StoreOrUpdateRemoteObject(ctx context.Context, post *domain.Post) error {
	if post.Id == uuid.Nil {
		post.Id = uuid.New()
	}
	if err := r.db.UpsertPost(post); err != nil {
		return err
	}
	err, stored := r.db.ReadPostByObjectURI(post.ObjectURI)
	if err != nil {
		return err
	}
	*post = *stored
	return r.db.UpsertRemoteObject(post.ObjectURI, post.Id, time.Now())
}

func (r *fakeResolver) ResolveActor(ctx context.Context, uri string) (*domain.RemoteAccount, error) {
	err, acc := r.db.ReadRemoteAccountByURI(uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *fakeResolver) RefreshActor(ctx context.Context, uri string) (*domain.RemoteAccount, error) {
	return r.ResolveActor(ctx, uri)
}

func (r *fakeResolver) MarkStale(uri string) error {
	return r.db.MarkRemoteObjectStale(uri)
}

func setupHandlerTest(t *testing.T) (*HandlerContext, *domain.RemoteAccount, *domain.Account) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.Domain = "local.example"

	hc := NewHandlerContext(context.Background(), database, &fakeResolver{db: database}, conf)

	bob := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      "bob",
		Domain:        "remote.example",
		ActorURI:      "https://remote.example/users/bob",
		Kind:          "Person",
		InboxURI:      "https://remote.example/users/bob/inbox",
		WallURI:       "https://remote.example/users/bob/wall",
		LastFetchedAt: time.Now(),
	}
	if err := database.UpsertRemoteAccount(bob); err != nil {
		t.Fatalf("Failed to store remote actor: %v", err)
	}

	alice := &domain.Account{Id: uuid.New(), Username: "alice", CreatedAt: time.Now()}
	if err := database.CreateAccount(alice); err != nil {
		t.Fatalf("Failed to create local account: %v", err)
	}

	return hc, bob, alice
}

func mustParse(t *testing.T, body string) *Delivery {
	d, err := ParseDelivery([]byte(body))
	if err != nil {
		t.Fatalf("Failed to parse delivery: %v", err)
	}
	return d
}

func storeLocalPost(t *testing.T, database *db.DB, owner *domain.Account, objectURI string) *domain.Post {
	post := &domain.Post{
		Id:        uuid.New(),
		OwnerId:   owner.Id,
		OwnerURI:  owner.ActorURI("local.example"),
		ObjectURI: objectURI,
		Content:   "a local post",
		Local:     true,
		CreatedAt: time.Now(),
	}
	if err := database.UpsertPost(post); err != nil {
		t.Fatalf("Failed to store local post: %v", err)
	}
	return post
}

const addNoteBody = `{
	"id": "https://remote.example/activities/add-1",
	"type": "Add",
	"actor": "https://remote.example/users/bob",
	"target": "%s",
	"object": {
		"id": "https://remote.example/notes/1",
		"type": "Note",
		"attributedTo": "%s",
		"content": "hello wall",
		"tag": [{"type": "Mention", "href": "https://local.example/users/alice"}]
	}
}`

func TestHandleAddNoteIsIdempotent(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)
	body := fmt.Sprintf(addNoteBody, bob.WallURI, bob.ActorURI)

	for i := 0; i < 2; i++ {
		if err := HandleAddNote(hc, bob, mustParse(t, body)); err != nil {
			t.Fatalf("Delivery %d failed: %v", i+1, err)
		}
	}

	err, posts := hc.DB.ReadPostsByOwnerId(bob.Id, 10, 0)
	if err != nil {
		t.Fatalf("Failed to read posts: %v", err)
	}
	if len(*posts) != 1 {
		t.Fatalf("Expected exactly one post row, got %d", len(*posts))
	}

	post := (*posts)[0]
	err, count := hc.DB.CountNotifications(domain.ObjectTypePost, post.Id, domain.NotificationMention, bob.Id)
	if err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly one mention notification, got %d", count)
	}
}

func TestHandleAddNoteRejectsForeignWall(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)
	body := fmt.Sprintf(addNoteBody, "https://remote.example/users/carol/wall", bob.ActorURI)

	err := HandleAddNote(hc, bob, mustParse(t, body))
	if !errors.Is(err, ErrBadActivity) {
		t.Fatalf("Expected ErrBadActivity, got %v", err)
	}

	err2, posts := hc.DB.ReadPostsByOwnerId(bob.Id, 10, 0)
	if err2 != nil {
		t.Fatalf("Failed to read posts: %v", err2)
	}
	if len(*posts) != 0 {
		t.Errorf("Rejected activity must produce zero storage rows, got %d", len(*posts))
	}
}

func TestHandleAddNoteRejectsOwnershipMismatch(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)
	body := fmt.Sprintf(addNoteBody, bob.WallURI, "https://remote.example/users/carol")

	if err := HandleAddNote(hc, bob, mustParse(t, body)); !errors.Is(err, ErrBadActivity) {
		t.Fatalf("Expected ErrBadActivity, got %v", err)
	}
}

func TestHandleAddNoteRejectsRetargetedReply(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)
	parent := storeLocalPost(t, hc.DB, alice, "https://local.example/notes/parent")

	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/add-2",
		"type": "Add",
		"actor": "https://remote.example/users/bob",
		"target": "%s",
		"object": {
			"id": "https://remote.example/notes/2",
			"type": "Note",
			"attributedTo": "%s",
			"inReplyTo": "%s",
			"content": "a reply"
		}
	}`, bob.WallURI, bob.ActorURI, parent.ObjectURI)

	if err := HandleAddNote(hc, bob, mustParse(t, body)); !errors.Is(err, ErrBadActivity) {
		t.Fatalf("Reply rooted on another actor's wall must be rejected, got %v", err)
	}
}

func TestHandleCreateNoteSpamGuard(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)

	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/create-1",
		"type": "Create",
		"actor": "%s",
		"object": {
			"id": "https://remote.example/notes/10",
			"type": "Note",
			"attributedTo": "%s",
			"content": "unsolicited"
		}
	}`, bob.ActorURI, bob.ActorURI)

	// Nobody follows bob yet, so the note is dropped without error
	if err := HandleCreateNote(hc, bob, mustParse(t, body)); err != nil {
		t.Fatalf("Unsolicited note must be dropped silently, got %v", err)
	}
	err, posts := hc.DB.ReadPostsByOwnerId(bob.Id, 10, 0)
	if err != nil {
		t.Fatalf("Failed to read posts: %v", err)
	}
	if len(*posts) != 0 {
		t.Fatalf("Unsolicited note must not be stored, got %d rows", len(*posts))
	}

	// Once alice follows bob, the same note is accepted
	if err := hc.DB.CreateFollow(&domain.Follow{
		Id:              uuid.New(),
		AccountId:       alice.Id,
		TargetAccountId: bob.Id,
		URI:             "https://local.example/activities/follow-out-1",
		CreatedAt:       time.Now(),
		Accepted:        true,
	}); err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}

	if err := HandleCreateNote(hc, bob, mustParse(t, body)); err != nil {
		t.Fatalf("Solicited note failed: %v", err)
	}
	err, posts = hc.DB.ReadPostsByOwnerId(bob.Id, 10, 0)
	if err != nil {
		t.Fatalf("Failed to read posts: %v", err)
	}
	if len(*posts) != 1 {
		t.Errorf("Expected one stored post, got %d", len(*posts))
	}
}

func TestHandleAnnounceThenUndo(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)
	post := storeLocalPost(t, hc.DB, alice, "https://local.example/notes/1")

	announce := fmt.Sprintf(`{
		"id": "https://remote.example/activities/announce-1",
		"type": "Announce",
		"actor": "%s",
		"object": "%s"
	}`, bob.ActorURI, post.ObjectURI)

	for i := 0; i < 2; i++ {
		if err := HandleAnnounceNote(hc, bob, mustParse(t, announce)); err != nil {
			t.Fatalf("Announce %d failed: %v", i+1, err)
		}
	}

	err, feedCount := hc.DB.CountNewsfeedEntries(domain.FeedEntryReshare, bob.Id, post.Id)
	if err != nil {
		t.Fatalf("Failed to count feed entries: %v", err)
	}
	if feedCount != 1 {
		t.Errorf("Expected one re-share feed entry, got %d", feedCount)
	}
	err, notifCount := hc.DB.CountNotifications(domain.ObjectTypePost, post.Id, domain.NotificationReshare, bob.Id)
	if err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if notifCount != 1 {
		t.Errorf("Expected one re-share notification, got %d", notifCount)
	}

	undo := fmt.Sprintf(`{
		"id": "https://remote.example/activities/undo-1",
		"type": "Undo",
		"actor": "%s",
		"object": {
			"id": "https://remote.example/activities/announce-1",
			"type": "Announce",
			"actor": "%s",
			"object": "%s"
		}
	}`, bob.ActorURI, bob.ActorURI, post.ObjectURI)

	if err := HandleUndoAnnounceNote(hc, bob, mustParse(t, undo)); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	err, feedCount = hc.DB.CountNewsfeedEntries(domain.FeedEntryReshare, bob.Id, post.Id)
	if err != nil {
		t.Fatalf("Failed to count feed entries: %v", err)
	}
	if feedCount != 0 {
		t.Errorf("Expected re-share feed entry to be deleted, got %d rows", feedCount)
	}
	err, notifCount = hc.DB.CountNotifications(domain.ObjectTypePost, post.Id, domain.NotificationReshare, bob.Id)
	if err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if notifCount != 0 {
		t.Errorf("Expected re-share notification to be deleted, got %d rows", notifCount)
	}

	// Redelivered Undo converges as a no-op
	if err := HandleUndoAnnounceNote(hc, bob, mustParse(t, undo)); err != nil {
		t.Errorf("Redelivered Undo must be a no-op, got %v", err)
	}
}

func TestHandleUndoAnnounceForUnknownPost(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)

	undo := fmt.Sprintf(`{
		"id": "https://remote.example/activities/undo-2",
		"type": "Undo",
		"actor": "%s",
		"object": {
			"id": "https://remote.example/activities/announce-99",
			"type": "Announce",
			"actor": "%s",
			"object": "https://local.example/notes/never-seen"
		}
	}`, bob.ActorURI, bob.ActorURI)

	if err := HandleUndoAnnounceNote(hc, bob, mustParse(t, undo)); err != nil {
		t.Errorf("Undo of a never-seen re-share must succeed as a no-op, got %v", err)
	}
}

func TestHandleFollowThenUndo(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)

	follow := fmt.Sprintf(`{
		"id": "https://remote.example/activities/follow-1",
		"type": "Follow",
		"actor": "%s",
		"object": "https://local.example/users/alice"
	}`, bob.ActorURI)

	if err := HandleFollow(hc, bob, mustParse(t, follow)); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}

	err, stored := hc.DB.ReadFollowByAccountIds(bob.Id, alice.Id)
	if err != nil {
		t.Fatalf("Expected a follow row: %v", err)
	}
	if !stored.Accepted {
		t.Error("Expected follow to be auto-accepted")
	}
	err, notifCount := hc.DB.CountNotifications(domain.ObjectTypeAccount, alice.Id, domain.NotificationFollow, bob.Id)
	if err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if notifCount != 1 {
		t.Errorf("Expected one follow notification, got %d", notifCount)
	}
	err, pending := hc.DB.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("Failed to read pending deliveries: %v", err)
	}
	if len(*pending) != 1 {
		t.Errorf("Expected one queued Accept, got %d", len(*pending))
	}

	undo := fmt.Sprintf(`{
		"id": "https://remote.example/activities/undo-follow-1",
		"type": "Undo",
		"actor": "%s",
		"object": {
			"id": "https://remote.example/activities/follow-1",
			"type": "Follow",
			"actor": "%s",
			"object": "https://local.example/users/alice"
		}
	}`, bob.ActorURI, bob.ActorURI)

	if err := HandleUndoFollow(hc, bob, mustParse(t, undo)); err != nil {
		t.Fatalf("Undo follow failed: %v", err)
	}
	err, _ = hc.DB.ReadFollowByAccountIds(bob.Id, alice.Id)
	if err == nil {
		t.Error("Expected follow row to be deleted")
	}
	err, notifCount = hc.DB.CountNotifications(domain.ObjectTypeAccount, alice.Id, domain.NotificationFollow, bob.Id)
	if err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if notifCount != 0 {
		t.Errorf("Expected follow notification to be deleted, got %d", notifCount)
	}
}

func TestHandleLikeThenUndo(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)
	post := storeLocalPost(t, hc.DB, alice, "https://local.example/notes/1")

	like := fmt.Sprintf(`{
		"id": "https://remote.example/activities/like-1",
		"type": "Like",
		"actor": "%s",
		"object": "%s"
	}`, bob.ActorURI, post.ObjectURI)

	for i := 0; i < 2; i++ {
		if err := HandleLikeNote(hc, bob, mustParse(t, like)); err != nil {
			t.Fatalf("Like %d failed: %v", i+1, err)
		}
	}
	err, _ := hc.DB.ReadLike(bob.Id, post.Id)
	if err != nil {
		t.Fatalf("Expected a like row: %v", err)
	}

	undo := fmt.Sprintf(`{
		"id": "https://remote.example/activities/undo-like-1",
		"type": "Undo",
		"actor": "%s",
		"object": {
			"id": "https://remote.example/activities/like-1",
			"type": "Like",
			"actor": "%s",
			"object": "%s"
		}
	}`, bob.ActorURI, bob.ActorURI, post.ObjectURI)

	if err := HandleUndoLikeNote(hc, bob, mustParse(t, undo)); err != nil {
		t.Fatalf("Undo like failed: %v", err)
	}
	err, _ = hc.DB.ReadLike(bob.Id, post.Id)
	if err == nil {
		t.Error("Expected like row to be deleted")
	}
}

func TestHandleLikeUnknownPost(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)

	like := fmt.Sprintf(`{
		"id": "https://remote.example/activities/like-2",
		"type": "Like",
		"actor": "%s",
		"object": "https://local.example/notes/never-seen"
	}`, bob.ActorURI)

	if err := HandleLikeNote(hc, bob, mustParse(t, like)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHandleDeleteGuardsOwnership(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)
	alicePost := storeLocalPost(t, hc.DB, alice, "https://local.example/notes/1")

	del := fmt.Sprintf(`{
		"id": "https://remote.example/activities/delete-1",
		"type": "Delete",
		"actor": "%s",
		"object": "%s"
	}`, bob.ActorURI, alicePost.ObjectURI)

	if err := HandleDelete(hc, bob, mustParse(t, del)); !errors.Is(err, ErrBadActivity) {
		t.Fatalf("Deleting someone else's post must be rejected, got %v", err)
	}

	// Bob's own post deletes cleanly
	bobPost := &domain.Post{
		Id:        uuid.New(),
		OwnerId:   bob.Id,
		OwnerURI:  bob.ActorURI,
		ObjectURI: "https://remote.example/notes/1",
		CreatedAt: time.Now(),
	}
	if err := hc.DB.UpsertPost(bobPost); err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}
	del = fmt.Sprintf(`{
		"id": "https://remote.example/activities/delete-2",
		"type": "Delete",
		"actor": "%s",
		"object": "%s"
	}`, bob.ActorURI, bobPost.ObjectURI)
	if err := HandleDelete(hc, bob, mustParse(t, del)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	err, _ := hc.DB.ReadPostById(bobPost.Id)
	if err == nil {
		t.Error("Expected post to be deleted")
	}
}

func TestHandleAddNoteRejectsForeignObjectId(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)

	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/add-3",
		"type": "Add",
		"actor": "%s",
		"target": "%s",
		"object": {
			"id": "https://other.example/notes/1",
			"type": "Note",
			"attributedTo": "%s",
			"content": "smuggled"
		}
	}`, bob.ActorURI, bob.WallURI, bob.ActorURI)

	if err := HandleAddNote(hc, bob, mustParse(t, body)); !errors.Is(err, ErrBadActivity) {
		t.Fatalf("A note id on a foreign host must be rejected, got %v", err)
	}
	err, posts := hc.DB.ReadPostsByOwnerId(bob.Id, 10, 0)
	if err != nil {
		t.Fatalf("Failed to read posts: %v", err)
	}
	if len(*posts) != 0 {
		t.Errorf("Rejected note must not be stored, got %d rows", len(*posts))
	}
}

func TestHandleUpdateNoteRewritesOwnPost(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)

	add := fmt.Sprintf(addNoteBody, bob.WallURI, bob.ActorURI)
	if err := HandleAddNote(hc, bob, mustParse(t, add)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	err, before := hc.DB.ReadPostByObjectURI("https://remote.example/notes/1")
	if err != nil {
		t.Fatalf("Failed to read stored post: %v", err)
	}

	update := fmt.Sprintf(`{
		"id": "https://remote.example/activities/update-1",
		"type": "Update",
		"actor": "%s",
		"object": {
			"id": "https://remote.example/notes/1",
			"type": "Note",
			"attributedTo": "%s",
			"content": "hello wall, edited"
		}
	}`, bob.ActorURI, bob.ActorURI)
	if err := HandleUpdateNote(hc, bob, mustParse(t, update)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err, after := hc.DB.ReadPostByObjectURI("https://remote.example/notes/1")
	if err != nil {
		t.Fatalf("Failed to read updated post: %v", err)
	}
	if after.Id != before.Id {
		t.Errorf("Update must keep the post id, got %s and %s", before.Id, after.Id)
	}
	if after.Content != "hello wall, edited" {
		t.Errorf("Expected updated content, got '%s'", after.Content)
	}
	if after.EditedAt == nil {
		t.Error("Expected edited_at to be set")
	}
}

func TestHandleUpdateNoteGuardsOwnership(t *testing.T) {
	hc, bob, _ := setupHandlerTest(t)

	mallory := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      "mallory",
		Domain:        "remote.example",
		ActorURI:      "https://remote.example/users/mallory",
		Kind:          "Person",
		InboxURI:      "https://remote.example/users/mallory/inbox",
		WallURI:       "https://remote.example/users/mallory/wall",
		LastFetchedAt: time.Now(),
	}
	if err := hc.DB.UpsertRemoteAccount(mallory); err != nil {
		t.Fatalf("Failed to store remote actor: %v", err)
	}
	victim := &domain.Post{
		Id:        uuid.New(),
		OwnerId:   mallory.Id,
		OwnerURI:  mallory.ActorURI,
		ObjectURI: "https://remote.example/notes/m1",
		Content:   "mallory's words",
		CreatedAt: time.Now(),
	}
	if err := hc.DB.UpsertPost(victim); err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}

	// Bob claims mallory's note as his own and tries to rewrite it
	update := fmt.Sprintf(`{
		"id": "https://remote.example/activities/update-2",
		"type": "Update",
		"actor": "%s",
		"object": {
			"id": "%s",
			"type": "Note",
			"attributedTo": "%s",
			"content": "rewritten by bob"
		}
	}`, bob.ActorURI, victim.ObjectURI, bob.ActorURI)
	if err := HandleUpdateNote(hc, bob, mustParse(t, update)); !errors.Is(err, ErrBadActivity) {
		t.Fatalf("Updating someone else's post must be rejected, got %v", err)
	}

	err, stored := hc.DB.ReadPostByObjectURI(victim.ObjectURI)
	if err != nil {
		t.Fatalf("Failed to read post: %v", err)
	}
	if stored.Content != "mallory's words" {
		t.Errorf("Expected content to survive the rejected update, got '%s'", stored.Content)
	}
}

func TestHandleAnnounceDistrustsForeignEmbeddedCopy(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)
	post := storeLocalPost(t, hc.DB, alice, "https://local.example/notes/1")

	// The embedded copy carries tampered content for a post bob's host
	// does not own; only the stored original may be used.
	announce := fmt.Sprintf(`{
		"id": "https://remote.example/activities/announce-2",
		"type": "Announce",
		"actor": "%s",
		"object": {
			"id": "%s",
			"type": "Note",
			"attributedTo": "%s",
			"content": "tampered copy"
		}
	}`, bob.ActorURI, post.ObjectURI, bob.ActorURI)

	if err := HandleAnnounceNote(hc, bob, mustParse(t, announce)); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}

	err, stored := hc.DB.ReadPostByObjectURI(post.ObjectURI)
	if err != nil {
		t.Fatalf("Failed to read post: %v", err)
	}
	if stored.Content != "a local post" {
		t.Errorf("Expected the embedded copy to be ignored, got '%s'", stored.Content)
	}
	err, feedCount := hc.DB.CountNewsfeedEntries(domain.FeedEntryReshare, bob.Id, post.Id)
	if err != nil {
		t.Fatalf("Failed to count feed entries: %v", err)
	}
	if feedCount != 1 {
		t.Errorf("Expected one re-share feed entry, got %d", feedCount)
	}
}

func TestHandleFollowRejectedWhenClosed(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)
	hc.Conf.Conf.Closed = true

	follow := fmt.Sprintf(`{
		"id": "https://remote.example/activities/follow-2",
		"type": "Follow",
		"actor": "%s",
		"object": "https://local.example/users/alice"
	}`, bob.ActorURI)

	if err := HandleFollow(hc, bob, mustParse(t, follow)); err != nil {
		t.Fatalf("Follow on a closed instance failed: %v", err)
	}

	err, _ := hc.DB.ReadFollowByAccountIds(bob.Id, alice.Id)
	if err == nil {
		t.Error("Expected no follow row on a closed instance")
	}
	err, notifCount := hc.DB.CountNotifications(domain.ObjectTypeAccount, alice.Id, domain.NotificationFollow, bob.Id)
	if err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if notifCount != 0 {
		t.Errorf("Expected no follow notification, got %d", notifCount)
	}
	err, pending := hc.DB.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("Failed to read pending deliveries: %v", err)
	}
	if len(*pending) != 1 {
		t.Fatalf("Expected one queued Reject, got %d", len(*pending))
	}
	if !strings.Contains((*pending)[0].ActivityJSON, `"type":"Reject"`) {
		t.Errorf("Expected a Reject response, got %s", (*pending)[0].ActivityJSON)
	}
}

func TestReplyChainNotifiesAllLocalParticipants(t *testing.T) {
	hc, bob, alice := setupHandlerTest(t)
	root := storeLocalPost(t, hc.DB, alice, "https://local.example/notes/root")

	mid := &domain.Post{
		Id:           uuid.New(),
		OwnerId:      bob.Id,
		OwnerURI:     bob.ActorURI,
		ObjectURI:    "https://remote.example/notes/mid",
		InReplyToURI: root.ObjectURI,
		Content:      "first reply",
		CreatedAt:    time.Now(),
	}
	if err := hc.DB.UpsertPost(mid); err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}

	if err := hc.DB.CreateFollow(&domain.Follow{
		Id:              uuid.New(),
		AccountId:       alice.Id,
		TargetAccountId: bob.Id,
		URI:             "https://local.example/activities/follow-out-2",
		CreatedAt:       time.Now(),
		Accepted:        true,
	}); err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}

	// A reply to the remote mid post still reaches the local root author
	body := fmt.Sprintf(`{
		"id": "https://remote.example/activities/create-2",
		"type": "Create",
		"actor": "%s",
		"object": {
			"id": "https://remote.example/notes/leaf",
			"type": "Note",
			"attributedTo": "%s",
			"content": "second reply",
			"inReplyTo": "%s"
		}
	}`, bob.ActorURI, bob.ActorURI, mid.ObjectURI)
	if err := HandleCreateNote(hc, bob, mustParse(t, body)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err, leaf := hc.DB.ReadPostByObjectURI("https://remote.example/notes/leaf")
	if err != nil {
		t.Fatalf("Failed to read stored reply: %v", err)
	}
	err, notifCount := hc.DB.CountNotifications(domain.ObjectTypePost, leaf.Id, domain.NotificationReply, bob.Id)
	if err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if notifCount != 1 {
		t.Errorf("Expected the thread root author to be notified, got %d rows", notifCount)
	}
}
