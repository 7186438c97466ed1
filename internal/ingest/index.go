package ingest

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// indexPrefix namespaces the per-session hashes.
const indexPrefix = "snapcmd:session:"

// Index records where each stored image lives.
type Index interface {
	Record(ctx context.Context, md Metadata, path string) error
}

// RedisIndex keeps one hash per session mapping camera id to stored path,
// plus the capture window of each camera.
type RedisIndex struct {
	rdb *redis.Client
}

// NewRedisIndex returns an index writing to rdb.
func NewRedisIndex(rdb *redis.Client) *RedisIndex {
	return &RedisIndex{rdb: rdb}
}

// Key returns the hash key for a session folder.
func Key(folder string) string { return indexPrefix + folder }

// Record stores the image path and capture window of md's camera.
func (x *RedisIndex) Record(ctx context.Context, md Metadata, path string) error {
	err := x.rdb.HSet(ctx, Key(md.FolderName),
		md.CameraID, path,
		md.CameraID+":start", md.StartTime,
		md.CameraID+":end", md.EndTime,
	).Err()
	if err != nil {
		return fmt.Errorf("index %s: %w", md.FolderName, err)
	}
	return nil
}
