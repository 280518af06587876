// Package secretsmgr implements an on-demand source backed by an
// object-storage-style secrets vault, using the minio-go client as a
// stand-in for any S3-compatible vault
// (Vault's KV-v2, AWS Secrets Manager, and self-hosted MinIO all speak a
// similar GET-by-name shape). Every key is an object name inside a fixed
// bucket; the object's body is the secret value.
package secretsmgr

import (
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/nghyane/propflow/ondemand"
	"github.com/nghyane/propflow/scheduler"
)

// Client is the minimal surface this package needs to fetch a secret's
// body, narrow enough to fake in tests without a running object store.
type Client interface {
	GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// minioClient adapts a real *minio.Client to Client, which is how New is
// actually wired in production via NewWithMinio.
type minioClient struct{ c *minio.Client }

func (m *minioClient) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return m.c.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
}

// Source lazily materializes registry keys by fetching like-named objects
// from bucket via client.
type Source struct {
	*ondemand.Base
}

// New builds a Source identified by id that fetches key's value as the
// body of object "key" in bucket, dispatching loads on sched (the global
// scheduler if nil).
func New(id string, client Client, bucket string, sched *scheduler.Scheduler) *Source {
	s := &Source{}
	s.Base = ondemand.New(id, func(ctx context.Context, key string) (*string, error) {
		body, err := client.GetObject(ctx, bucket, key)
		if err != nil {
			return nil, translateNotFound(err)
		}
		defer body.Close()

		data, err := io.ReadAll(body)
		if err != nil {
			return nil, translateNotFound(err)
		}
		value := string(data)
		return &value, nil
	}, sched)
	return s
}

// NewWithMinio is the production constructor: it wraps a real minio.Client
// (or anything speaking the same S3-compatible API) pointed at bucket.
func NewWithMinio(id string, mc *minio.Client, bucket string, sched *scheduler.Scheduler) *Source {
	return New(id, &minioClient{c: mc}, bucket, sched)
}

// translateNotFound turns a minio "no such key" error into (nil, nil),
// matching ondemand.LoadFunc's "known absent" contract; any other error
// propagates so RegisterKey logs it and leaves the key unresolved.
func translateNotFound(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
		return nil
	}
	return err
}
