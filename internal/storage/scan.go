package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/dutchcoders/go-clamd"
)

// ErrInfected 表示上传文件未通过病毒扫描。
var ErrInfected = errors.New("malicious file detected")

// Scanner inspects an upload before it is stored.
type Scanner interface {
	Scan(r io.Reader) error
}

// NewScanner 在地址为空时返回不做任何检查的实现。
func NewScanner(clamdAddr string) Scanner {
	if clamdAddr == "" {
		return nopScanner{}
	}
	return &ClamdScanner{client: clamd.NewClamd(clamdAddr)}
}

type nopScanner struct{}

func (nopScanner) Scan(io.Reader) error { return nil }

// ClamdScanner streams uploads to a clamd daemon.
type ClamdScanner struct {
	client *clamd.Clamd
}

// Scan 通过 INSTREAM 扫描文件，任何非 OK 结果都视为感染。
func (s *ClamdScanner) Scan(r io.Reader) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			return ErrInfected
		default:
			return fmt.Errorf("scan failed: %s %s", result.Status, result.Description)
		}
	}
	return nil
}
