package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ObjectKey 生成 {user_id}/{unix_millis}.{ext} 形式的对象路径。
func ObjectKey(userID uint, now time.Time, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return fmt.Sprintf("%d/%d", userID, now.UnixMilli())
	}
	return fmt.Sprintf("%d/%d.%s", userID, now.UnixMilli(), ext)
}

// Extension returns the lower-cased extension of filename including the dot.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
