package db

import (
	"errors"
	"testing"
	"time"

	"chatfeed/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

type fixture struct {
	messages *MessageRepository
	channels *ChannelRepository
	users    *UserRepository
	channel  *models.Channel
	alice    *models.User
	bob      *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := openTestDB(t)
	f := &fixture{
		messages: NewMessageRepository(d),
		channels: NewChannelRepository(d),
		users:    NewUserRepository(d),
	}

	var err error
	if f.channel, err = f.channels.Ensure("general"); err != nil {
		t.Fatalf("Ensure(channel) error = %v", err)
	}
	if f.alice, err = f.users.Ensure("alice"); err != nil {
		t.Fatalf("Ensure(alice) error = %v", err)
	}
	if f.bob, err = f.users.Ensure("bob"); err != nil {
		t.Fatalf("Ensure(bob) error = %v", err)
	}
	return f
}

func TestListHistoryPagesBackwards(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := f.messages.Seed(f.channel.ID, []string{f.alice.ID, f.bob.ID}, 7, start, time.Minute); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	page, err := f.messages.ListHistory(f.channel.ID, "", f.alice.ID, 3)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("first page = %d messages, hasMore %v; want 3, true", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].Content != "Message 7" {
		t.Fatalf("first page starts with %q, want newest message", page.Messages[0].Content)
	}
	if page.NextCursor != page.Messages[2].ID {
		t.Fatalf("NextCursor = %q, want oldest id %q", page.NextCursor, page.Messages[2].ID)
	}

	seen := map[string]bool{}
	for _, m := range page.Messages {
		seen[m.ID] = true
	}

	cursor := page.NextCursor
	total := len(page.Messages)
	for cursor != "" {
		page, err = f.messages.ListHistory(f.channel.ID, cursor, f.alice.ID, 3)
		if err != nil {
			t.Fatalf("ListHistory(%s) error = %v", cursor, err)
		}
		for _, m := range page.Messages {
			if seen[m.ID] {
				t.Fatalf("message %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		total += len(page.Messages)
		cursor = page.NextCursor
	}

	if total != 7 {
		t.Fatalf("paged %d messages, want 7", total)
	}
	if page.HasMore {
		t.Fatal("last page reports more history")
	}
}

func TestListHistoryClampsLimitAndRejectsUnknownCursor(t *testing.T) {
	f := newFixture(t)
	if err := f.messages.Seed(f.channel.ID, []string{f.alice.ID}, 120, time.Now().Add(-time.Hour), time.Second); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	page, err := f.messages.ListHistory(f.channel.ID, "", "", 500)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(page.Messages) != 100 || !page.HasMore {
		t.Fatalf("got %d messages, hasMore %v; want 100, true", len(page.Messages), page.HasMore)
	}

	page, err = f.messages.ListHistory(f.channel.ID, "", "", 0)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(page.Messages) != 50 {
		t.Fatalf("default limit returned %d messages, want 50", len(page.Messages))
	}

	if _, err := f.messages.ListHistory(f.channel.ID, "msg_missing", "", 10); !errors.Is(err, ErrCursorNotFound) {
		t.Fatalf("ListHistory(unknown cursor) error = %v, want ErrCursorNotFound", err)
	}
}

func TestListHistoryPagesPastDeletedCursor(t *testing.T) {
	f := newFixture(t)
	if err := f.messages.Seed(f.channel.ID, []string{f.alice.ID}, 10, time.Now().Add(-time.Hour), time.Second); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	head, err := f.messages.ListHistory(f.channel.ID, "", "", 4)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	cursor := head.NextCursor

	if _, err := f.messages.Delete(cursor, f.alice.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	page, err := f.messages.ListHistory(f.channel.ID, cursor, "", 4)
	if err != nil {
		t.Fatalf("ListHistory(deleted cursor) error = %v", err)
	}
	if len(page.Messages) != 4 || !page.HasMore {
		t.Fatalf("got %d messages, hasMore %v; want 4, true", len(page.Messages), page.HasMore)
	}
	for _, m := range page.Messages {
		if m.ID == cursor {
			t.Fatalf("deleted message %s returned", cursor)
		}
		if !m.CreatedAt.Before(head.Messages[3].CreatedAt) {
			t.Fatalf("message %s is not older than the cursor", m.ID)
		}
	}
}

func TestListHistoryScopesToChannel(t *testing.T) {
	f := newFixture(t)
	other, err := f.channels.Create("random")
	if err != nil {
		t.Fatalf("Create(channel) error = %v", err)
	}
	if _, err := f.messages.Create(other.ID, f.alice.ID, "elsewhere", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	created, err := f.messages.Create(f.channel.ID, f.alice.ID, "here", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	page, err := f.messages.ListHistory(f.channel.ID, "", "", 10)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != created.ID {
		t.Fatalf("history = %+v, want only %s", page.Messages, created.ID)
	}

	// A cursor from another channel does not leak history.
	if _, err := f.messages.ListHistory(other.ID, created.ID, "", 10); !errors.Is(err, ErrCursorNotFound) {
		t.Fatalf("ListHistory(foreign cursor) error = %v, want ErrCursorNotFound", err)
	}
}

func TestCreateLoadsAttachmentsAndAuthor(t *testing.T) {
	f := newFixture(t)
	m, err := f.messages.Create(f.channel.ID, f.alice.ID, "look", []models.Attachment{
		{Name: "a.png", MimeType: "image/png", Size: 10},
		{Name: "b.txt", MimeType: "text/plain", Size: 20},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if m.AuthorName != "alice" {
		t.Fatalf("AuthorName = %q, want alice", m.AuthorName)
	}
	if len(m.Attachments) != 2 || m.Attachments[0].Name != "a.png" || m.Attachments[1].Name != "b.txt" {
		t.Fatalf("Attachments = %+v", m.Attachments)
	}
	if !m.HasImage() {
		t.Fatal("HasImage() = false, want true")
	}
}

func TestUpdateAndDeleteRequireAuthor(t *testing.T) {
	f := newFixture(t)
	m, err := f.messages.Create(f.channel.ID, f.alice.ID, "draft", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := f.messages.Update(m.ID, f.bob.ID, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Update() by other user error = %v, want ErrForbidden", err)
	}

	updated, err := f.messages.Update(m.ID, f.alice.ID, "final")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Content != "final" || updated.EditedAt == nil {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := f.messages.Delete(m.ID, f.bob.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Delete() by other user error = %v, want ErrForbidden", err)
	}
	channelID, err := f.messages.Delete(m.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if channelID != f.channel.ID {
		t.Fatalf("Delete() channel = %q, want %q", channelID, f.channel.ID)
	}
	if _, err := f.messages.FindByID(m.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := f.messages.Update("msg_missing", f.alice.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update() missing error = %v, want ErrNotFound", err)
	}
}

func TestReactionsAggregatePerEmoji(t *testing.T) {
	f := newFixture(t)
	m, err := f.messages.Create(f.channel.ID, f.alice.ID, "vote", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, userID := range []string{f.alice.ID, f.bob.ID, f.bob.ID} {
		if _, err := f.messages.AddReaction(m.ID, userID, ":+1:"); err != nil {
			t.Fatalf("AddReaction() error = %v", err)
		}
	}
	got, err := f.messages.AddReaction(m.ID, f.bob.ID, ":tada:")
	if err != nil {
		t.Fatalf("AddReaction() error = %v", err)
	}

	want := []models.Reaction{{Emoji: ":+1:", Count: 2, Me: true}, {Emoji: ":tada:", Count: 1, Me: true}}
	if len(got.Reactions) != len(want) {
		t.Fatalf("Reactions = %+v, want %+v", got.Reactions, want)
	}
	for i := range want {
		if got.Reactions[i] != want[i] {
			t.Fatalf("Reactions[%d] = %+v, want %+v", i, got.Reactions[i], want[i])
		}
	}

	got, err = f.messages.RemoveReaction(m.ID, f.bob.ID, ":tada:")
	if err != nil {
		t.Fatalf("RemoveReaction() error = %v", err)
	}
	if len(got.Reactions) != 1 {
		t.Fatalf("Reactions after remove = %+v", got.Reactions)
	}

	if _, err := f.messages.AddReaction("msg_missing", f.bob.ID, ":+1:"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddReaction() missing message error = %v, want ErrNotFound", err)
	}
}

func TestCleanupDeletesExpiredMessages(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	if err := f.messages.Seed(f.channel.ID, []string{f.alice.ID}, 4, now.Add(-72*time.Hour), 24*time.Hour); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	svc := NewCleanupService(f.messages, 36*time.Hour, 0)
	svc.now = func() time.Time { return now }
	if deleted := svc.runCleanup(); deleted != 2 {
		t.Fatalf("runCleanup() deleted %d, want 2", deleted)
	}

	page, err := f.messages.ListHistory(f.channel.ID, "", "", 10)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("remaining messages = %d, want 2", len(page.Messages))
	}

	// The oldest survivor pages into the expired range as an empty page.
	oldest := page.Messages[1].ID
	svc.now = func() time.Time { return now.Add(24 * time.Hour) }
	if deleted := svc.runCleanup(); deleted != 1 {
		t.Fatalf("second runCleanup() deleted %d, want 1", deleted)
	}
	page, err = f.messages.ListHistory(f.channel.ID, oldest, "", 10)
	if err != nil {
		t.Fatalf("ListHistory(expired cursor) error = %v", err)
	}
	if len(page.Messages) != 0 || page.HasMore {
		t.Fatalf("expired cursor returned %d messages, hasMore %v", len(page.Messages), page.HasMore)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	f := newFixture(t)

	again, err := f.channels.Ensure("general")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if again.ID != f.channel.ID {
		t.Fatalf("Ensure() id = %q, want %q", again.ID, f.channel.ID)
	}
	if _, err := f.channels.Create("general"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create() duplicate error = %v, want ErrDuplicate", err)
	}

	if err := f.users.UpdateUsername(f.bob.ID, "alice"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("UpdateUsername() duplicate error = %v, want ErrDuplicate", err)
	}
	user, err := f.users.Ensure("alice")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if user.ID != f.alice.ID {
		t.Fatalf("Ensure() id = %q, want %q", user.ID, f.alice.ID)
	}

	channels, err := f.channels.FindAll()
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("FindAll() = %d channels, want 1", len(channels))
	}
}
