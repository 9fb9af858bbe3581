package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Store persists capture blobs. Refs are "<bucket>/<key>".
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, ObjectInfo, error)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

func FormatRef(bucket, key string) string {
	return bucket + "/" + strings.TrimPrefix(key, "/")
}

func ParseRef(ref string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid storage ref %q", ref)
	}
	return bucket, key, nil
}
