package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"placementPortal/internal/analytics"
	"placementPortal/internal/auth"
	"placementPortal/internal/config"
	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/notify"
	"placementPortal/internal/realtime"
	"placementPortal/internal/review"
	"placementPortal/internal/roles"
	"placementPortal/internal/tasks"
	"placementPortal/internal/validation"
)

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	deleted  []string

	uploadErr error
	deleteErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) AnnouncementsBucket() string { return "announcements" }
func (s *fakeStorage) VideosBucket() string        { return "videos" }
func (s *fakeStorage) ResumesBucket() string       { return "resumes" }

func (s *fakeStorage) UploadFile(_ context.Context, bucket, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	b, _ := io.ReadAll(reader)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[bucket+"/"+objectName] = b
	return &minio.UploadInfo{Bucket: bucket, Key: objectName}, nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, bucket, objectKey string, _ time.Duration) (string, error) {
	return "https://signed.example.invalid/" + bucket + "/" + objectKey, nil
}

func (s *fakeStorage) PublicURL(bucket, objectKey string) string {
	return "https://minio.example.invalid/" + bucket + "/" + objectKey
}

func (s *fakeStorage) DeleteObject(_ context.Context, bucket, objectKey string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, bucket+"/"+objectKey)
	delete(s.uploaded, bucket+"/"+objectKey)
	return nil
}

func (s *fakeStorage) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploaded)
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (e *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: "task-" + strconv.Itoa(len(e.tasks)), Type: task.Type()}, nil
}

func (e *fakeEnqueuer) fanouts(t *testing.T) []tasks.NotifyFanoutPayload {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []tasks.NotifyFanoutPayload
	for _, task := range e.tasks {
		if task.Type() != tasks.TypeNotifyFanout {
			continue
		}
		var p tasks.NotifyFanoutPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			t.Fatalf("decode fanout payload: %v", err)
		}
		out = append(out, p)
	}
	return out
}

var (
	keyOnce    sync.Once
	privatePEM []byte
	publicPEM  []byte
)

func testKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		privatePEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic(err)
		}
		publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	})
	return privatePEM, publicPEM
}

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
			AnalyticsTTL:   time.Minute,
		},
		Auth: config.AuthConfig{
			AccessTokenTTL:        15 * time.Minute,
			RefreshTokenTTL:       time.Hour,
			EmailDomain:           "@vvce.ac.in",
			LoginRateLimitPerHour: 10,
			LoginLockThreshold:    3,
			LoginLockTTL:          15 * time.Minute,
		},
		Uploads: config.UploadsConfig{
			MaxAttachmentBytes: 5 << 20,
			MaxResumeBytes:     5 << 20,
			MaxVideoBytes:      50 << 20,
		},
		Review: config.ReviewConfig{AllowReReview: true},
	}
}

type testEnv struct {
	t       *testing.T
	db      *gorm.DB
	router  *gin.Engine
	auth    *auth.AuthService
	storage *fakeStorage
	tasks   *fakeEnqueuer
	redis   *redis.Client
	notify  *notify.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validation.MustRegister()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	priv, pub := testKeys(t)
	authService, err := auth.NewAuthService(priv, pub, 15*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	db := dbtest.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	store := newFakeStorage()
	enqueuer := &fakeEnqueuer{}
	notifications := notify.NewStore(db, realtime.NewPublisher(redisClient), logger)

	router := NewRouter(cfg, logger)
	RegisterRoutes(router, Dependencies{
		Config:        cfg,
		DB:            db,
		Redis:         redisClient,
		Tasks:         enqueuer,
		Storage:       store,
		Auth:          authService,
		Roles:         roles.NewResolver(db),
		Reviews:       review.NewService(db, cfg.Review.AllowReReview),
		Notifications: notifications,
		Analytics:     analytics.NewCache(redisClient, cfg.API.AnalyticsTTL, logger),
		Logger:        logger,
	})

	return &testEnv{
		t:       t,
		db:      db,
		router:  router,
		auth:    authService,
		storage: store,
		tasks:   enqueuer,
		redis:   redisClient,
		notify:  notifications,
	}
}

// seed 创建用户并返回其访问令牌。
func (e *testEnv) seed(s dbtest.Student) (database.Profile, string) {
	e.t.Helper()
	profile := dbtest.Seed(e.t, e.db, s)
	return profile, e.token(profile.ID)
}

func (e *testEnv) token(userID uint) string {
	e.t.Helper()
	pair, err := e.auth.GenerateTokenPair(userID)
	if err != nil {
		e.t.Fatalf("generate token: %v", err)
	}
	return pair.AccessToken
}

func (e *testEnv) do(req *http.Request, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) json(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, token)
}

type formFile struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func newMultipart(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := writer.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(f.content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func (e *testEnv) multipart(path, token string, fields map[string]string, files ...formFile) *httptest.ResponseRecorder {
	e.t.Helper()
	body, contentType := newMultipart(e.t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return e.do(req, token)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d got %d body=%s", want, w.Code, w.Body.String())
	}
}

var errStorageDown = errors.New("storage unavailable")
