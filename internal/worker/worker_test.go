package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"placementPortal/internal/ats"
	"placementPortal/internal/audience"
	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/errcode"
	"placementPortal/internal/notify"
	"placementPortal/internal/realtime"
	"placementPortal/internal/roles"
	"placementPortal/internal/tasks"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[uint][]realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, userID uint, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[uint][]realtime.Event{}
	}
	p.events[userID] = append(p.events[userID], ev)
	return nil
}

func (p *recordingPublisher) of(userID uint, eventType string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, ev := range p.events[userID] {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) emails(t *testing.T) []notify.Email {
	t.Helper()
	var out []notify.Email
	for _, task := range f.tasks {
		if task.Type() != tasks.TypeEmailSend {
			continue
		}
		var p tasks.EmailSendPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			t.Fatalf("decode email task: %v", err)
		}
		out = append(out, p.Email)
	}
	return out
}

type population struct {
	admin, alice, bob, carol database.Profile
}

func seedPopulation(t *testing.T, db *gorm.DB) population {
	t.Helper()
	return population{
		admin: dbtest.Seed(t, db, dbtest.Student{Email: "head@vvce.ac.in", Name: "Head", Roles: []string{"placement_head"}}),
		alice: dbtest.Seed(t, db, dbtest.Student{Email: "alice@vvce.ac.in", Name: "Alice", Year: dbtest.Int(2), Branch: dbtest.Str("Computer Science"), Roles: []string{"student"}}),
		bob:   dbtest.Seed(t, db, dbtest.Student{Email: "bob@vvce.ac.in", Name: "Bob", Year: dbtest.Int(3), Branch: dbtest.Str("Mechanical"), Roles: []string{"student"}}),
		carol: dbtest.Seed(t, db, dbtest.Student{Email: "carol@vvce.ac.in", Name: "Carol", Year: dbtest.Int(2), Branch: dbtest.Str("Mechanical"), Roles: []string{"student"}}),
	}
}

func fanoutTask(t *testing.T, kind tasks.FanoutKind, refID, actorID uint) *asynq.Task {
	t.Helper()
	task, err := tasks.NewNotifyFanoutTask(kind, refID, actorID, "corr-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func notificationsFor(t *testing.T, db *gorm.DB, userID uint) []database.Notification {
	t.Helper()
	var rows []database.Notification
	if err := db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	return rows
}

func TestFanoutAnnouncementTargetsMatchingYear(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	ann := database.Announcement{Title: "Mock tests", Content: "Saturday 10am", TargetYear: dbtest.Int(2), CreatedBy: pop.admin.ID}
	if err := db.Create(&ann).Error; err != nil {
		t.Fatalf("create announcement: %v", err)
	}

	pub := &recordingPublisher{}
	enq := &fakeEnqueuer{}
	h := NewFanoutHandler(db, notify.NewStore(db, pub, nil), enq, "https://portal.example/", 3, nil)
	if err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutAnnouncement, ann.ID, pop.admin.ID)); err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, p := range []database.Profile{pop.alice, pop.carol} {
		rows := notificationsFor(t, db, p.ID)
		if len(rows) != 1 || rows[0].Message != "Mock tests" || rows[0].Type != "announcement" {
			t.Fatalf("unexpected notifications for %s: %+v", p.Email, rows)
		}
		if evs := pub.of(p.ID, realtime.TypeNotification); len(evs) != 1 || evs[0].Op != realtime.OpInsert {
			t.Fatalf("expected one INSERT event for %s got %+v", p.Email, evs)
		}
	}
	for _, p := range []database.Profile{pop.admin, pop.bob} {
		if rows := notificationsFor(t, db, p.ID); len(rows) != 0 {
			t.Fatalf("%s should not be notified", p.Email)
		}
	}

	emails := enq.emails(t)
	if len(emails) != 2 {
		t.Fatalf("expected 2 email tasks got %d", len(emails))
	}
	for _, e := range emails {
		if e.Kind != notify.KindAnnouncement || e.Subject != "New Announcement: Mock tests" {
			t.Fatalf("unexpected email %+v", e)
		}
		if e.Data.Link != "https://portal.example/announcements" || e.Data.UserName == "" {
			t.Fatalf("unexpected email data %+v", e.Data)
		}
	}
}

func TestFanoutPlacementTargetsBranches(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	pl := database.Placement{CompanyName: "Acme", Role: "Design Engineer", TargetBranches: []string{"Mechanical"}, CreatedBy: pop.admin.ID}
	if err := db.Create(&pl).Error; err != nil {
		t.Fatalf("create placement: %v", err)
	}

	enq := &fakeEnqueuer{}
	h := NewFanoutHandler(db, notify.NewStore(db, &recordingPublisher{}, nil), enq, "", 3, nil)
	if err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutPlacement, pl.ID, pop.admin.ID)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := map[string]bool{}
	for _, e := range enq.emails(t) {
		got[e.To] = true
		if e.Subject != "New Placement Opportunity: Acme" || e.Data.Company != "Acme" {
			t.Fatalf("unexpected email %+v", e)
		}
	}
	if len(got) != 2 || !got["bob@vvce.ac.in"] || !got["carol@vvce.ac.in"] {
		t.Fatalf("unexpected recipients %v", got)
	}
	if rows := notificationsFor(t, db, pop.alice.ID); len(rows) != 0 {
		t.Fatalf("alice is not in the target branch")
	}
}

func TestFanoutBranchMatchIgnoresCase(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	dave := dbtest.Seed(t, db, dbtest.Student{Email: "dave@vvce.ac.in", Name: "Dave", Year: dbtest.Int(2), Branch: dbtest.Str(" computer science "), Roles: []string{"student"}})

	ann := database.Announcement{Title: "CS meetup", Content: "Lab 3", TargetBranch: dbtest.Str("Computer Science"), CreatedBy: pop.admin.ID}
	if err := db.Create(&ann).Error; err != nil {
		t.Fatalf("create announcement: %v", err)
	}
	pl := database.Placement{CompanyName: "Initech", Role: "SDE", TargetBranches: []string{"COMPUTER SCIENCE"}, CreatedBy: pop.admin.ID}
	if err := db.Create(&pl).Error; err != nil {
		t.Fatalf("create placement: %v", err)
	}

	viewer := audience.Viewer{UserID: dave.ID, Roles: roles.NewSet(roles.Student), Year: dave.Year, Branch: dave.Branch}
	if !viewer.Sees(ann) || !viewer.EligibleFor(pl) {
		t.Fatalf("dave should see both items")
	}

	enq := &fakeEnqueuer{}
	h := NewFanoutHandler(db, notify.NewStore(db, &recordingPublisher{}, nil), enq, "", 3, nil)
	if err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutAnnouncement, ann.ID, pop.admin.ID)); err != nil {
		t.Fatalf("process announcement: %v", err)
	}
	if err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutPlacement, pl.ID, pop.admin.ID)); err != nil {
		t.Fatalf("process placement: %v", err)
	}

	// 能看到的人必须收到通知。
	if rows := notificationsFor(t, db, dave.ID); len(rows) != 2 {
		t.Fatalf("expected 2 notifications for dave got %d", len(rows))
	}
	if rows := notificationsFor(t, db, pop.alice.ID); len(rows) != 2 {
		t.Fatalf("expected 2 notifications for alice got %d", len(rows))
	}
	if rows := notificationsFor(t, db, pop.bob.ID); len(rows) != 0 {
		t.Fatalf("bob is not in the target branch")
	}
	sent := map[string]int{}
	for _, e := range enq.emails(t) {
		sent[e.To]++
	}
	if sent["dave@vvce.ac.in"] != 2 {
		t.Fatalf("expected 2 emails to dave got %v", sent)
	}
}

func TestFanoutVideoReviewNotifiesOwnerOnly(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	notes := "Great pacing"
	video := database.Video{UserID: pop.bob.ID, Title: "Intro", ObjectKey: "k", Status: "approved", ReviewNotes: &notes}
	if err := db.Create(&video).Error; err != nil {
		t.Fatalf("create video: %v", err)
	}

	enq := &fakeEnqueuer{}
	h := NewFanoutHandler(db, notify.NewStore(db, &recordingPublisher{}, nil), enq, "", 3, nil)
	if err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutVideoReview, video.ID, pop.admin.ID)); err != nil {
		t.Fatalf("process: %v", err)
	}

	emails := enq.emails(t)
	if len(emails) != 1 || emails[0].To != "bob@vvce.ac.in" || emails[0].Subject != "Your Video Has Been Approved" {
		t.Fatalf("unexpected emails %+v", emails)
	}
	if emails[0].Data.ReviewNotes != notes || emails[0].Data.Status != "approved" {
		t.Fatalf("unexpected email data %+v", emails[0].Data)
	}
	rows := notificationsFor(t, db, pop.bob.ID)
	if len(rows) != 1 || !strings.Contains(rows[0].Message, notes) {
		t.Fatalf("unexpected owner notifications %+v", rows)
	}
	var total int64
	db.Model(&database.Notification{}).Count(&total)
	if total != 1 {
		t.Fatalf("expected exactly one notification got %d", total)
	}
}

func TestFanoutSkipsDeletedSource(t *testing.T) {
	db := dbtest.New(t)
	h := NewFanoutHandler(db, notify.NewStore(db, &recordingPublisher{}, nil), &fakeEnqueuer{}, "", 3, nil)
	if err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutAnnouncement, 999, 1)); err != nil {
		t.Fatalf("expected nil for missing announcement got %v", err)
	}
}

func TestFanoutEnqueueFailureIsSwallowed(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	ann := database.Announcement{Title: "All hands", Content: "c", CreatedBy: pop.admin.ID}
	if err := db.Create(&ann).Error; err != nil {
		t.Fatalf("create announcement: %v", err)
	}

	h := NewFanoutHandler(db, notify.NewStore(db, &recordingPublisher{}, nil), &fakeEnqueuer{err: errors.New("redis down")}, "", 3, nil)
	if err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutAnnouncement, ann.ID, pop.admin.ID)); err != nil {
		t.Fatalf("enqueue failures must not fail the fanout: %v", err)
	}
	var total int64
	db.Model(&database.Notification{}).Count(&total)
	if total != 3 {
		t.Fatalf("expected in-app notifications for 3 students got %d", total)
	}
}

func TestFanoutRejectsUnknownKind(t *testing.T) {
	db := dbtest.New(t)
	h := NewFanoutHandler(db, notify.NewStore(db, &recordingPublisher{}, nil), &fakeEnqueuer{}, "", 3, nil)
	err := h.ProcessTask(context.Background(), fanoutTask(t, tasks.FanoutKind("bogus"), 1, 1))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry got %v", err)
	}
}

type fakeSender struct {
	sent []notify.Email
	err  error
}

func (s *fakeSender) Send(_ context.Context, e notify.Email) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, e)
	return nil
}

func TestEmailHandler(t *testing.T) {
	email := notify.Email{Kind: notify.KindGeneral, To: "a@vvce.ac.in", Subject: "Hi"}
	task, err := tasks.NewEmailSendTask(email, "corr")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	sender := &fakeSender{}
	if err := NewEmailHandler(sender, nil).ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "a@vvce.ac.in" {
		t.Fatalf("unexpected sent %+v", sender.sent)
	}

	failing := &fakeSender{err: errors.New("smtp 503")}
	if err := NewEmailHandler(failing, nil).ProcessTask(context.Background(), task); err == nil {
		t.Fatalf("expected error so asynq retries")
	}

	bad := asynq.NewTask(tasks.TypeEmailSend, []byte("{"))
	if err := NewEmailHandler(sender, nil).ProcessTask(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload got %v", err)
	}
}

type fakeAnalyzer struct {
	result ats.Result
	err    error
	got    string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, text string) (ats.Result, error) {
	a.got = text
	return a.result, a.err
}

func analysisPayload(t *testing.T, ev realtime.Event) AnalysisResult {
	t.Helper()
	var out AnalysisResult
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return out
}

func TestATSHandlerStoresScore(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	resume := database.Resume{UserID: pop.alice.ID, FileName: "alice.pdf", ObjectKey: "k"}
	if err := db.Create(&resume).Error; err != nil {
		t.Fatalf("create resume: %v", err)
	}

	pub := &recordingPublisher{}
	analyzer := &fakeAnalyzer{result: ats.Result{Score: 88, Feedback: "Strong"}}
	h := NewATSHandler(db, analyzer, notify.NewStore(db, pub, nil), pub, nil)
	task, _ := tasks.NewResumeAnalyzeTask(resume.ID, pop.alice.ID, "resume text", "corr-ats")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	var stored database.Resume
	db.First(&stored, resume.ID)
	if stored.ATSScore == nil || *stored.ATSScore != 88 || stored.ATSFeedback == nil || *stored.ATSFeedback != "Strong" {
		t.Fatalf("score not stored: %+v", stored)
	}
	if analyzer.got != "resume text" {
		t.Fatalf("unexpected analyzer input %q", analyzer.got)
	}
	rows := notificationsFor(t, db, pop.alice.ID)
	if len(rows) != 1 || rows[0].Type != "general" || !strings.Contains(rows[0].Message, "88/100") {
		t.Fatalf("unexpected notifications %+v", rows)
	}
	evs := pub.of(pop.alice.ID, realtime.TypeResumeAnalysis)
	if len(evs) != 1 || evs[0].CorrelationID != "corr-ats" {
		t.Fatalf("unexpected analysis events %+v", evs)
	}
	if res := analysisPayload(t, evs[0]); res.Status != "completed" || res.Score != 88 || res.ErrorCode != errcode.OK {
		t.Fatalf("unexpected payload %+v", res)
	}
}

func TestATSHandlerFallbackCode(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	resume := database.Resume{UserID: pop.alice.ID, FileName: "a.pdf", ObjectKey: "k"}
	db.Create(&resume)

	pub := &recordingPublisher{}
	analyzer := &fakeAnalyzer{result: ats.Result{Score: 75, Feedback: "free text", Fallback: true}}
	h := NewATSHandler(db, analyzer, notify.NewStore(db, pub, nil), pub, nil)
	task, _ := tasks.NewResumeAnalyzeTask(resume.ID, pop.alice.ID, "text", "")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	evs := pub.of(pop.alice.ID, realtime.TypeResumeAnalysis)
	if len(evs) != 1 || analysisPayload(t, evs[0]).ErrorCode != errcode.AnalysisFallback {
		t.Fatalf("expected fallback code in %+v", evs)
	}
}

func TestATSHandlerNotConfigured(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	resume := database.Resume{UserID: pop.alice.ID, FileName: "a.pdf", ObjectKey: "k"}
	db.Create(&resume)

	pub := &recordingPublisher{}
	h := NewATSHandler(db, &fakeAnalyzer{err: ats.ErrNotConfigured}, notify.NewStore(db, pub, nil), pub, nil)
	task, _ := tasks.NewResumeAnalyzeTask(resume.ID, pop.alice.ID, "text", "")
	err := h.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, ats.ErrNotConfigured) {
		t.Fatalf("expected SkipRetry wrapping ErrNotConfigured got %v", err)
	}
	evs := pub.of(pop.alice.ID, realtime.TypeResumeAnalysis)
	if len(evs) != 1 || analysisPayload(t, evs[0]).ErrorCode != errcode.NotConfigured {
		t.Fatalf("expected not-configured event got %+v", evs)
	}
}

func TestATSHandlerIgnoresForeignResume(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	resume := database.Resume{UserID: pop.alice.ID, FileName: "a.pdf", ObjectKey: "k"}
	db.Create(&resume)

	analyzer := &fakeAnalyzer{result: ats.Result{Score: 10}}
	pub := &recordingPublisher{}
	h := NewATSHandler(db, analyzer, notify.NewStore(db, pub, nil), pub, nil)
	task, _ := tasks.NewResumeAnalyzeTask(resume.ID, pop.bob.ID, "text", "")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if analyzer.got != "" {
		t.Fatalf("analyzer must not run for another user's resume")
	}
}

type fakeRenderer struct {
	html string
}

func (r *fakeRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	r.html = html
	return []byte("%PDF-1.4 fake"), nil
}

type fakeReportStorage struct {
	bucket string
	key    string
	body   []byte
}

func (s *fakeReportStorage) ResumesBucket() string { return "resumes" }

func (s *fakeReportStorage) UploadFile(_ context.Context, bucket, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	s.bucket, s.key, s.body = bucket, objectName, data
	return &minio.UploadInfo{Bucket: bucket, Key: objectName}, nil
}

func (s *fakeReportStorage) GeneratePresignedURL(_ context.Context, bucket, objectKey string, _ time.Duration) (string, error) {
	return "https://files.example/" + bucket + "/" + objectKey + "?sig=1", nil
}

func TestReportHandler(t *testing.T) {
	db := dbtest.New(t)
	pop := seedPopulation(t, db)
	db.Create(&database.Placement{CompanyName: "Acme & Sons", Role: "SDE", CreatedBy: pop.admin.ID})

	renderer := &fakeRenderer{}
	store := &fakeReportStorage{}
	pub := &recordingPublisher{}
	h := NewReportHandler(db, renderer, store, pub, nil)
	task, _ := tasks.NewAnalyticsReportTask(pop.admin.ID, "corr-report")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	if !strings.Contains(renderer.html, "Acme &amp; Sons") {
		t.Fatalf("report html should contain escaped company name")
	}
	if store.bucket != "resumes" || !strings.HasPrefix(store.key, "reports/") || string(store.body) != "%PDF-1.4 fake" {
		t.Fatalf("unexpected upload %s/%s", store.bucket, store.key)
	}
	evs := pub.of(pop.admin.ID, realtime.TypeAnalyticsReport)
	if len(evs) != 1 {
		t.Fatalf("expected one report event got %d", len(evs))
	}
	var res ReportResult
	if err := json.Unmarshal(evs[0].Payload, &res); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if res.Status != "completed" || res.ObjectKey != store.key || !strings.Contains(res.URL, store.key) {
		t.Fatalf("unexpected report result %+v", res)
	}
}
