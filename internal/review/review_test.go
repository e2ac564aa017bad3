package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name     string
		current  Status
		next     Status
		reReview bool
		wantErr  error
	}{
		{"pending to approved", StatusPending, StatusApproved, false, nil},
		{"pending to rejected", StatusPending, StatusRejected, false, nil},
		{"back to pending", StatusApproved, StatusPending, true, ErrInvalidDecision},
		{"re-review allowed", StatusRejected, StatusApproved, true, nil},
		{"re-review disabled", StatusApproved, StatusRejected, false, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Transition(tc.current, tc.next, tc.reReview)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseDecision(t *testing.T) {
	if s, err := ParseDecision(" Approved "); err != nil || s != StatusApproved {
		t.Fatalf("unexpected %v %v", s, err)
	}
	if _, err := ParseDecision("pending"); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("pending is not a decision")
	}
}

func seedVideo(t *testing.T, svc *Service, status Status) database.Video {
	t.Helper()
	video := database.Video{UserID: 7, Title: "Intro", ObjectKey: "7/1.mp4", Status: string(status)}
	if err := svc.db.Create(&video).Error; err != nil {
		t.Fatalf("seed video: %v", err)
	}
	return video
}

func TestServiceReview_PersistsDecision(t *testing.T) {
	svc := NewService(dbtest.New(t), false)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	video := seedVideo(t, svc, StatusPending)

	got, err := svc.Review(context.Background(), Decision{VideoID: video.ID, ReviewerID: 3, Status: StatusRejected, Notes: " too short "})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if got.Status != string(StatusRejected) || got.ReviewNotes == nil || *got.ReviewNotes != "too short" {
		t.Fatalf("unexpected video %+v", got)
	}

	var stored database.Video
	if err := svc.db.First(&stored, video.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != "rejected" || stored.ReviewedBy == nil || *stored.ReviewedBy != 3 {
		t.Fatalf("unexpected stored video %+v", stored)
	}
	if stored.ReviewedAt == nil || !stored.ReviewedAt.Equal(fixed) {
		t.Fatalf("unexpected reviewed_at %v", stored.ReviewedAt)
	}
}

func TestServiceReview_RespectsReReviewPolicy(t *testing.T) {
	strict := NewService(dbtest.New(t), false)
	video := seedVideo(t, strict, StatusApproved)
	if _, err := strict.Review(context.Background(), Decision{VideoID: video.ID, ReviewerID: 1, Status: StatusRejected}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition got %v", err)
	}

	lenient := NewService(dbtest.New(t), true)
	video = seedVideo(t, lenient, StatusApproved)
	got, err := lenient.Review(context.Background(), Decision{VideoID: video.ID, ReviewerID: 1, Status: StatusRejected})
	if err != nil {
		t.Fatalf("re-review: %v", err)
	}
	if got.Status != "rejected" {
		t.Fatalf("expected rejected got %s", got.Status)
	}
}

func TestServiceReview_MissingVideo(t *testing.T) {
	svc := NewService(dbtest.New(t), true)
	if _, err := svc.Review(context.Background(), Decision{VideoID: 42, ReviewerID: 1, Status: StatusApproved}); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound got %v", err)
	}
}
