package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// R2Storage stores objects in a Cloudflare R2 bucket through the S3 API.
type R2Storage struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

func NewR2Storage(cfg R2Config, logger *slog.Logger) (*R2Storage, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("r2 bucket name is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, errors.New("r2 account ID or endpoint is required")
		}
		endpoint = "https://" + cfg.AccountID + ".r2.cloudflarestorage.com"
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	logger.Info("r2 object storage ready", "bucket", cfg.BucketName, "endpoint", endpoint)
	return &R2Storage{client: client, bucket: cfg.BucketName, logger: logger}, nil
}

func (s *R2Storage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	if err := validateKey(key); err != nil {
		return opError(opPut, key, err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DetectContentType(key)
	}
	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        data,
	}
	if !opts.Overwrite {
		// Conditional write: R2 answers 412 when the key exists.
		input.IfNoneMatch = aws.String("*")
	}
	if opts.MaxSize > 0 {
		// Bounded bodies are buffered so oversized input never reaches the
		// bucket and the SDK knows the content length.
		body, err := io.ReadAll(limitReader(data, opts.MaxSize))
		if err != nil {
			return opError(opPut, key, fmt.Errorf("read object body: %w", err))
		}
		if int64(len(body)) > opts.MaxSize {
			return opError(opPut, key, ErrTooLarge)
		}
		input.Body = bytes.NewReader(body)
		input.ContentLength = aws.Int64(int64(len(body)))
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return opError(opPut, key, classifyR2Error(err))
	}
	s.logger.Debug("object stored", "key", key, "etag", aws.ToString(out.ETag))
	return nil
}

func (s *R2Storage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, ObjectInfo{}, opError(opGet, key, err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: aws.String(key)})
	if err != nil {
		return nil, ObjectInfo{}, opError(opGet, key, classifyR2Error(err))
	}

	info := ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         aws.ToString(out.ETag),
	}
	return out.Body, info, nil
}

func (s *R2Storage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return opError(opDelete, key, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: aws.String(key)}); err != nil {
		return opError(opDelete, key, classifyR2Error(err))
	}
	return nil
}

func (s *R2Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, opError(opExists, key, err)
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	if err = classifyR2Error(err); errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, opError(opExists, key, err)
}

var (
	r2ErrorCodes = map[string]error{
		"NotFound":           ErrNotFound,
		"NoSuchKey":          ErrNotFound,
		"AccessDenied":       ErrAccessDenied,
		"Forbidden":          ErrAccessDenied,
		"PreconditionFailed": ErrKeyExists,
	}
	r2StatusCodes = map[int]error{
		http.StatusNotFound:           ErrNotFound,
		http.StatusForbidden:          ErrAccessDenied,
		http.StatusPreconditionFailed: ErrKeyExists,
	}
)

// classifyR2Error maps S3 API failures onto the storage sentinels. Other
// errors are wrapped unchanged.
func classifyR2Error(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel, ok := r2ErrorCodes[apiErr.ErrorCode()]; ok {
			return sentinel
		}
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		if sentinel, ok := r2StatusCodes[statusErr.HTTPStatusCode()]; ok {
			return sentinel
		}
	}
	return fmt.Errorf("r2: %w", err)
}
