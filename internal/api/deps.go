package api

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"placementPortal/internal/api/middleware"
	"placementPortal/internal/audience"
	"placementPortal/internal/auth"
	"placementPortal/internal/database"
	"placementPortal/internal/tasks"
)

// ObjectStore 是处理器依赖的对象存储能力，*storage.Client 满足该接口。
type ObjectStore interface {
	AnnouncementsBucket() string
	VideosBucket() string
	ResumesBucket() string
	UploadFile(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, bucket, objectKey string, duration time.Duration) (string, error)
	PublicURL(bucket, objectKey string) string
	DeleteObject(ctx context.Context, bucket, objectKey string) error
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	default:
		return 0, false
	}
}

func sessionFromContext(c *gin.Context) (auth.Session, bool) {
	return middleware.SessionFromContext(c)
}

func loggerFromContext(c *gin.Context) *slog.Logger {
	return middleware.LoggerFromContext(c)
}

// loadViewer 读取当前用户的年级与专业，用于可见性判断。
func loadViewer(ctx context.Context, db *gorm.DB, session auth.Session) (audience.Viewer, error) {
	var profile database.Profile
	if err := db.WithContext(ctx).Select("id", "year", "branch").First(&profile, session.UserID).Error; err != nil {
		return audience.Viewer{}, err
	}
	return audience.Viewer{
		UserID: session.UserID,
		Roles:  session.Roles,
		Year:   profile.Year,
		Branch: profile.Branch,
	}, nil
}

// enqueueFanout 在写入提交之后触发通知扇出；入队失败只记录日志，不影响已完成的写入。
func enqueueFanout(c *gin.Context, enqueuer TaskEnqueuer, kind tasks.FanoutKind, refID, actorID uint) {
	logger := loggerFromContext(c).With(
		slog.String("fanout_kind", string(kind)),
		slog.Uint64("ref_id", uint64(refID)),
	)
	task, err := tasks.NewNotifyFanoutTask(kind, refID, actorID, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build fanout task failed", slog.Any("error", err))
		return
	}
	if _, err := enqueuer.EnqueueContext(c.Request.Context(), task); err != nil {
		logger.Error("enqueue fanout task failed", slog.Any("error", err))
		return
	}
	logger.Info("fanout task enqueued")
}
