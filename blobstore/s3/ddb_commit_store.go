package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/barrel/blobstore"
)

// currentName is the pointer blob the manifest store repoints on every
// commit.
const currentName = "CURRENT"

// ErrConcurrentModification is returned when another writer committed the
// same manifest version first.
var ErrConcurrentModification = errors.New("s3: concurrent manifest commit")

// DDBClient is the subset of *dynamodb.Client DDBCommitStore uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// DDBCommitStore stores blobs in S3 and the CURRENT pointer in DynamoDB.
//
// Every write of CURRENT appends item (base_uri, version+1) with a
// conditional put; reading CURRENT returns the manifest name of the highest
// version. Two processes committing from the same version cannot both win.
//
// Table schema:
//
//	aws dynamodb create-table \
//	  --table-name barrel-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	*Store
	ddb       DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitStore wraps store. baseURI ("s3://bucket/prefix") is the
// partition key, so several indexes can share one table.
func NewDDBCommitStore(store *Store, ddb DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		Store:     store,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open serves CURRENT from DynamoDB and everything else from S3.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != currentName {
		return s.Store.Open(ctx, name)
	}
	version, manifest, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
	}
	return pointerBlob(manifest), nil
}

// Put commits CURRENT through DynamoDB and writes everything else to S3.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != currentName {
		return s.Store.Put(ctx, name, data)
	}
	return s.commit(ctx, string(data))
}

func (s *DDBCommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	v, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit item without version")
	}
	m, ok := item["manifest"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit item without manifest")
	}
	version, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: commit version %q: %w", v.Value, err)
	}
	return version, m.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, manifest string) error {
	version, _, err := s.latest(ctx)
	if err != nil {
		return err
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version+1, 10)},
			"manifest": &types.AttributeValueMemberS{Value: manifest},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit %s: %w", manifest, err)
	}
	return nil
}

type pointerBlob []byte

func (b pointerBlob) Size() int64 { return int64(len(b)) }

func (b pointerBlob) Close() error { return nil }

func (b pointerBlob) Bytes() ([]byte, error) { return b, nil }

func (b pointerBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return bytes.NewReader(b).ReadAt(p, off)
}

func (b pointerBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off > int64(len(b)) {
		return nil, io.EOF
	}
	end := min(off+length, int64(len(b)))
	return io.NopCloser(bytes.NewReader(b[off:end])), nil
}
