package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// PresignExpiry is how long presigned URLs stay valid.
const PresignExpiry = 3600 * time.Second

// MaxDirectUploadBytes caps browser-direct uploads via presigned POST.
const MaxDirectUploadBytes = 100 * 1024 * 1024

// PresignedPost carries everything a client needs for a direct upload.
type PresignedPost struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
	Key    string            `json:"key"`
}

// ObjectStore is the object storage contract. The S3 implementation is
// installed at startup; tests substitute a fake.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string) (string, error)
	PresignPost(ctx context.Context, key string) (*PresignedPost, error)
	Health(ctx context.Context) error
}

// Default is the process-wide object store, set by InitS3 in main.
var Default ObjectStore

// SanitizeFilename strips path components and anything outside a
// conservative character set.
func SanitizeFilename(name string) string {
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		return "file"
	}
	return out
}

// BuildKey produces the canonical object key for a dataset file. The
// timestamp prefix keeps repeated uploads of the same filename distinct.
func BuildKey(projectID, datasetID uint, filename string) string {
	ts := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("projects/%d/datasets/%d/%s_%s", projectID, datasetID, ts, SanitizeFilename(filename))
}

// DatasetPrefix is the key prefix shared by all files of a dataset.
func DatasetPrefix(projectID, datasetID uint) string {
	return fmt.Sprintf("projects/%d/datasets/%d/", projectID, datasetID)
}
