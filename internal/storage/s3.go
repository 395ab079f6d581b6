package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/MintTrader/MinTrader/internal/logger"
)

const versionMetaKey = "version"

type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO and other S3-compatible stores
	Prefix   string
}

type etagEntry struct {
	version int64
	etag    string
}

// S3Store keeps one object per key. The version lives in object metadata and writes
// are conditional on the ETag (If-Match) or absence (If-None-Match: *).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Logger

	mu    sync.Mutex
	etags map[string]etagEntry
}

func NewS3Store(ctx context.Context, opts S3Options, log *logger.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Info("s3 state store", "bucket", opts.Bucket, "region", opts.Region, "prefix", opts.Prefix)

	return NewS3StoreWithClient(client, opts.Bucket, opts.Prefix, log), nil
}

func NewS3StoreWithClient(client *s3.Client, bucket, prefix string, log *logger.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    log,
		etags:  make(map[string]etagEntry),
	}
}

func (s *S3Store) Get(ctx context.Context, key string) (Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read %s: %w", key, err)
	}

	version, err := parseVersion(out.Metadata)
	if err != nil {
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	s.remember(key, version, aws.ToString(out.ETag))

	return Object{Data: data, Version: version}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, expectedVersion int64) (int64, error) {
	next := expectedVersion + 1
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(joinKey(s.prefix, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{versionMetaKey: strconv.FormatInt(next, 10)},
	}

	if expectedVersion == 0 {
		input.IfNoneMatch = aws.String("*")
	} else {
		etag, err := s.etagFor(ctx, key, expectedVersion)
		if err != nil {
			return 0, err
		}
		input.IfMatch = aws.String(etag)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isS3PreconditionFailed(err) {
			s.forget(key)
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	s.remember(key, next, aws.ToString(out.ETag))

	return next, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(joinKey(s.prefix, prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, trimKey(s.prefix, aws.ToString(obj.Key)))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) Close() error { return nil }

// etagFor returns the ETag of the object at expectedVersion, consulting HeadObject on cache miss.
func (s *S3Store) etagFor(ctx context.Context, key string, expectedVersion int64) (string, error) {
	s.mu.Lock()
	cached, ok := s.etags[key]
	s.mu.Unlock()
	if ok && cached.version == expectedVersion {
		return cached.etag, nil
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", ErrVersionConflict
		}
		return "", fmt.Errorf("head %s: %w", key, err)
	}

	version, err := parseVersion(head.Metadata)
	if err != nil {
		return "", fmt.Errorf("head %s: %w", key, err)
	}
	if version != expectedVersion {
		s.log.Warn("s3 version mismatch", "key", key, "expected", expectedVersion, "actual", version)
		return "", ErrVersionConflict
	}

	etag := aws.ToString(head.ETag)
	s.remember(key, version, etag)
	return etag, nil
}

func (s *S3Store) remember(key string, version int64, etag string) {
	if etag == "" {
		return
	}
	s.mu.Lock()
	s.etags[key] = etagEntry{version: version, etag: etag}
	s.mu.Unlock()
}

func (s *S3Store) forget(key string) {
	s.mu.Lock()
	delete(s.etags, key)
	s.mu.Unlock()
}

func parseVersion(meta map[string]string) (int64, error) {
	raw, ok := meta[versionMetaKey]
	if !ok {
		return 0, fmt.Errorf("missing %s metadata", versionMetaKey)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", raw, err)
	}
	return v, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
