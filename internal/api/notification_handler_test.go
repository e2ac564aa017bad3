package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/realtime"
)

type notificationList struct {
	Notifications []realtime.Notification `json:"notifications"`
}

func TestNotifications_ReadAndDelete(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seed(dbtest.Student{Email: "s@vvce.ac.in", Roles: []string{"student"}})
	other, otherToken := env.seed(dbtest.Student{Email: "o@vvce.ac.in", Roles: []string{"student"}})

	var rows []database.Notification
	for i := 0; i < 7; i++ {
		rows = append(rows, database.Notification{UserID: user.ID, Title: fmt.Sprintf("n%d", i), Message: "m", Type: "announcement"})
	}
	rows = append(rows, database.Notification{UserID: other.ID, Title: "theirs", Message: "m", Type: "placement"})
	created, err := env.notify.Create(context.Background(), rows...)
	if err != nil {
		t.Fatalf("seed notifications: %v", err)
	}

	w := env.json(http.MethodGet, "/v1/notifications", token, nil)
	expectStatus(t, w, http.StatusOK)
	if list := decode[notificationList](t, w); len(list.Notifications) != 7 {
		t.Fatalf("expected 7 notifications got %d", len(list.Notifications))
	}

	w = env.json(http.MethodGet, "/v1/notifications/recent", token, nil)
	if list := decode[notificationList](t, w); len(list.Notifications) != 5 {
		t.Fatalf("recent should return 5 got %d", len(list.Notifications))
	}

	w = env.json(http.MethodGet, "/v1/notifications/unread-count", token, nil)
	if got := decode[map[string]int](t, w)["unread"]; got != 7 {
		t.Fatalf("expected 7 unread got %d", got)
	}

	first := created[0]
	w = env.json(http.MethodPost, fmt.Sprintf("/v1/notifications/%d/read", first.ID), token, nil)
	expectStatus(t, w, http.StatusOK)
	if n := decode[realtime.Notification](t, w); !n.IsRead {
		t.Fatalf("notification should be marked read")
	}

	theirs := created[len(created)-1]
	w = env.json(http.MethodPost, fmt.Sprintf("/v1/notifications/%d/read", theirs.ID), token, nil)
	expectStatus(t, w, http.StatusNotFound)
	w = env.json(http.MethodDelete, fmt.Sprintf("/v1/notifications/%d", theirs.ID), token, nil)
	expectStatus(t, w, http.StatusNotFound)

	w = env.json(http.MethodPost, "/v1/notifications/read-all", token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]int](t, w)["updated"]; got != 6 {
		t.Fatalf("expected 6 updated got %d", got)
	}

	w = env.json(http.MethodDelete, fmt.Sprintf("/v1/notifications/%d", first.ID), token, nil)
	expectStatus(t, w, http.StatusNoContent)

	w = env.json(http.MethodGet, "/v1/notifications/unread-count", otherToken, nil)
	if got := decode[map[string]int](t, w)["unread"]; got != 1 {
		t.Fatalf("other user's notifications must be untouched, unread=%d", got)
	}
}
