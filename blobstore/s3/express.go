package s3

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ErrConflict is returned when a conditional write finds the object present.
var ErrConflict = errors.New("s3: object already exists")

// immutablePrefix names the blobs ExpressStore writes with If-None-Match.
// Manifest versions are never overwritten.
const immutablePrefix = "MANIFEST-"

// ExpressStore is a Store for S3 Express One Zone directory buckets
// (names ending in --x-s3). Manifest versions are written with conditional
// puts so that a second writer publishing the same version fails.
type ExpressStore struct {
	*Store
}

// NewExpressStore returns a store on a directory bucket.
func NewExpressStore(client Client, bucket, rootPrefix string, optFns ...Option) *ExpressStore {
	return &ExpressStore{Store: NewStore(client, bucket, rootPrefix, optFns...)}
}

// Put writes data. Manifest blobs fail with ErrConflict if they exist.
func (s *ExpressStore) Put(ctx context.Context, name string, data []byte) error {
	if strings.HasPrefix(name, immutablePrefix) {
		return s.PutIfNotExists(ctx, name, data)
	}
	return s.Store.Put(ctx, name, data)
}

// PutIfNotExists writes data only if name does not exist yet.
func (s *ExpressStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return ErrConflict
			}
		}
		return err
	}
	return nil
}
