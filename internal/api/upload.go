package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"placementPortal/internal/metrics"
	"placementPortal/internal/storage"
)

// multipartOverhead 为表单字段与边界预留的字节数。
const multipartOverhead = 1 << 20

// uploadRule 描述一类上传允许的扩展名、MIME 前缀与大小上限。
type uploadRule struct {
	Label        string
	MaxBytes     int64
	Extensions   []string
	TypePrefixes []string
	TypeMessage  string
}

func (r uploadRule) tooLargeMessage() string {
	return fmt.Sprintf("%s must be %dMB or smaller", r.Label, r.MaxBytes>>20)
}

func (r uploadRule) allows(filename, contentType string) bool {
	if len(r.Extensions) > 0 && slices.Contains(r.Extensions, storage.Extension(filename)) {
		return true
	}
	for _, prefix := range r.TypePrefixes {
		if strings.HasPrefix(strings.ToLower(contentType), prefix) {
			return true
		}
	}
	return false
}

// uploader 负责上传前的校验、病毒扫描与写入存储。
type uploader struct {
	storage ObjectStore
	scanner storage.Scanner
}

func newUploader(store ObjectStore, scanner storage.Scanner) *uploader {
	if scanner == nil {
		scanner = storage.NewScanner("")
	}
	return &uploader{storage: store, scanner: scanner}
}

// limitBody 在解析表单之前按 Content-Length 拒绝超大请求，并为请求体加上硬上限。
func (u *uploader) limitBody(c *gin.Context, rule uploadRule) bool {
	limit := rule.MaxBytes + multipartOverhead
	if c.Request.ContentLength > limit {
		metrics.ObserveRejectedUpload("size")
		BadRequest(c, rule.tooLargeMessage())
		return false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return true
}

// formError 把表单解析错误转换为响应。
func formError(c *gin.Context, err error, rule uploadRule) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		metrics.ObserveRejectedUpload("size")
		BadRequest(c, rule.tooLargeMessage())
		return
	}
	BindError(c, err)
}

// accept 校验文件并扫描，通过时返回 Content-Type；失败时已写入响应。
func (u *uploader) accept(c *gin.Context, file *multipart.FileHeader, rule uploadRule) (string, bool) {
	if file.Size <= 0 {
		BadRequest(c, rule.Label+" is empty")
		return "", false
	}
	if file.Size > rule.MaxBytes {
		metrics.ObserveRejectedUpload("size")
		BadRequest(c, rule.tooLargeMessage())
		return "", false
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !rule.allows(file.Filename, contentType) {
		metrics.ObserveRejectedUpload("type")
		BadRequest(c, rule.TypeMessage)
		return "", false
	}

	reader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return "", false
	}
	err = u.scanner.Scan(reader)
	reader.Close()
	if errors.Is(err, storage.ErrInfected) {
		metrics.ObserveRejectedUpload("virus")
		loggerFromContext(c).Warn("upload rejected by virus scan", slog.String("filename", file.Filename))
		BadRequest(c, "malicious file detected")
		return "", false
	}
	if err != nil {
		loggerFromContext(c).Error("scan file", slog.Any("error", err))
		Internal(c, "failed to scan file")
		return "", false
	}
	return contentType, true
}

func (u *uploader) put(ctx context.Context, bucket, key string, file *multipart.FileHeader, contentType string) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer reader.Close()

	if _, err := u.storage.UploadFile(ctx, bucket, key, reader, file.Size, contentType); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	metrics.ObserveUpload(bucket, file.Size)
	return nil
}

// discard 在元数据写入失败后删除已上传的对象。
func (u *uploader) discard(ctx context.Context, logger *slog.Logger, bucket, key string) {
	if err := u.storage.DeleteObject(context.WithoutCancel(ctx), bucket, key); err != nil {
		logger.Error("remove orphaned object failed",
			slog.String("bucket", bucket),
			slog.String("object_key", key),
			slog.Any("error", err),
		)
	}
}

// deleteObject 删除记录关联的对象；对象已不存在视为成功。
func deleteObject(ctx context.Context, store ObjectStore, bucket, key string) error {
	if key == "" {
		return nil
	}
	if err := store.DeleteObject(ctx, bucket, key); err != nil && !storage.IsNoSuchKey(err) {
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}
