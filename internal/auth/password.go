package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// 登录时账号不存在也做一次比较，使响应耗时与密码错误一致。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("placement-portal-dummy"), bcrypt.DefaultCost)

// HashPassword 使用 bcrypt 生成密码哈希。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash 校验密码是否匹配哈希；hash 为空时仍执行一次比较并返回 false。
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
