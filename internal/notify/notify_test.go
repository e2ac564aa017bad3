package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/realtime"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[uint][]realtime.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, userID uint, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[uint][]realtime.Event{}
	}
	p.events[userID] = append(p.events[userID], ev)
	return p.err
}

func TestRender(t *testing.T) {
	cases := []struct {
		name  string
		email Email
		want  []string
	}{
		{"placement", Email{Kind: KindPlacement, Data: EmailData{UserName: "Asha", Company: "Acme", Title: "SDE"}}, []string{"New Placement Opportunity", "Acme", "SDE", "Hello Asha"}},
		{"announcement", Email{Kind: KindAnnouncement, Data: EmailData{Title: "Drive", Content: "Bring ID", Link: "https://portal/announcements"}}, []string{"New Announcement", "Bring ID", "View Announcement", "Hello there"}},
		{"approved video", Email{Kind: KindVideoReview, Data: EmailData{Status: "approved", Title: "Intro"}}, []string{"Video Approved", "#10b981"}},
		{"rejected video", Email{Kind: KindVideoReview, Data: EmailData{Status: "rejected", ReviewNotes: "audio missing"}}, []string{"Video Rejected", "audio missing"}},
		{"unknown falls back", Email{Kind: "weird", Data: EmailData{Content: "hello world"}}, []string{"Notification", "hello world"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			html, err := Render(tc.email)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(html, want) {
					t.Fatalf("expected %q in %s", want, html)
				}
			}
		})
	}
}

func TestRenderEscapesContent(t *testing.T) {
	html, err := Render(Email{Kind: KindAnnouncement, Data: EmailData{Content: "<script>alert(1)</script>"}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("content must be escaped: %s", html)
	}
}

func TestSubjects(t *testing.T) {
	if got := AnnouncementSubject("Drive"); got != "New Announcement: Drive" {
		t.Fatalf("unexpected %q", got)
	}
	if got := PlacementSubject("Acme"); got != "New Placement Opportunity: Acme" {
		t.Fatalf("unexpected %q", got)
	}
	if got := VideoReviewSubject("rejected"); got != "Your Video Has Been Rejected" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestLogSender(t *testing.T) {
	sender := NewSender("", "Cell", "cell@vvce.ac.in", nil)
	if _, ok := sender.(*LogSender); !ok {
		t.Fatalf("expected LogSender without api key")
	}
	if err := sender.Send(context.Background(), Email{Kind: KindGeneral, To: "a@vvce.ac.in"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := NewSender("key", "Cell", "cell@vvce.ac.in", nil).(*SendGridSender); !ok {
		t.Fatalf("expected SendGridSender with api key")
	}
}

func TestStoreLifecycle(t *testing.T) {
	db := dbtest.New(t)
	pub := &recordingPublisher{}
	store := NewStore(db, pub, nil)
	ctx := context.Background()

	created, err := store.Create(ctx,
		database.Notification{UserID: 1, Title: "A", Message: "m", Type: "general"},
		database.Notification{UserID: 1, Title: "B", Message: "m", Type: "general"},
		database.Notification{UserID: 2, Title: "C", Message: "m", Type: "general"},
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created) != 3 || created[0].ID == 0 {
		t.Fatalf("unexpected created rows %+v", created)
	}
	if len(pub.events[1]) != 2 || pub.events[1][0].Op != realtime.OpInsert {
		t.Fatalf("expected two insert events for user 1, got %+v", pub.events[1])
	}

	count, _ := store.UnreadCount(ctx, 1)
	if count != 2 {
		t.Fatalf("expected 2 unread got %d", count)
	}

	if _, err := store.MarkRead(ctx, 2, created[0].ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("other user's notification must not be found, got %v", err)
	}
	read, err := store.MarkRead(ctx, 1, created[0].ID)
	if err != nil || !read.IsRead {
		t.Fatalf("mark read: %v %+v", err, read)
	}

	n, err := store.MarkAllRead(ctx, 1)
	if err != nil || n != 1 {
		t.Fatalf("mark all read: %v %d", err, n)
	}
	count, _ = store.UnreadCount(ctx, 1)
	if count != 0 {
		t.Fatalf("expected 0 unread got %d", count)
	}

	if err := store.Delete(ctx, 1, created[1].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	last := pub.events[1][len(pub.events[1])-1]
	if last.Op != realtime.OpDelete || last.Notification.ID != created[1].ID {
		t.Fatalf("expected delete event, got %+v", last)
	}

	list, _ := store.List(ctx, 1, 0)
	if len(list) != 1 {
		t.Fatalf("expected one remaining notification got %d", len(list))
	}
}

func TestStorePublishFailureDoesNotFailWrite(t *testing.T) {
	db := dbtest.New(t)
	store := NewStore(db, &recordingPublisher{err: errors.New("redis down")}, nil)

	if _, err := store.Create(context.Background(), database.Notification{UserID: 1, Title: "A", Message: "m", Type: "general"}); err != nil {
		t.Fatalf("create must succeed when publish fails: %v", err)
	}
}
