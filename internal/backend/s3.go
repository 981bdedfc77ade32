package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/sha256-simd"

	"backup-suite/internal/engine"
)

// payloadHashKey is the object metadata key holding the payload digest.
const payloadHashKey = "payload-sha256"

// S3Client is the subset of the S3 API the backend uses. *s3.Client
// satisfies it.
type S3Client interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options configures an S3Backend.
type S3Options struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	StorageClass string

	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend stores objects in an S3 bucket under <prefix>objects/<hash>.
type S3Backend struct {
	name         string
	bucket       string
	prefix       string
	storageClass types.StorageClass
	client       S3Client
	uploader     *manager.Uploader
	spoolDir     string
}

// NewS3Backend builds an S3 client from the default credential chain, or
// from static keys when both are given.
func NewS3Backend(ctx context.Context, name string, opts S3Options) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 backend requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3BackendWithClient(name, opts, client), nil
}

// NewS3BackendWithClient wraps an existing client.
func NewS3BackendWithClient(name string, opts S3Options, client S3Client) *S3Backend {
	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Backend{
		name:         name,
		bucket:       opts.Bucket,
		prefix:       prefix,
		storageClass: types.StorageClass(opts.StorageClass),
		client:       client,
		uploader:     manager.NewUploader(client),
	}
}

func (b *S3Backend) Kind() engine.BackendKind { return engine.KindAWS }

func (b *S3Backend) Name() string { return b.name }

func (b *S3Backend) key(contentHash string) string {
	return b.prefix + "objects/" + contentHash
}

func (b *S3Backend) Healthcheck(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("s3 HeadBucket %s: %w", b.bucket, err)
	}
	return nil
}

// Put spools content to a temp file to learn its digest, then uploads it
// with the digest as object metadata. Overwriting the same key never
// duplicates storage.
func (b *S3Backend) Put(ctx context.Context, rec *engine.FileRecord, content io.Reader) (*engine.PutResult, error) {
	spool, err := os.CreateTemp(b.spoolDir, "bsuite-s3-*")
	if err != nil {
		return nil, fmt.Errorf("creating upload spool: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(spool, h), &ctxReader{ctx: ctx, r: content})
	if err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding upload spool: %w", err)
	}
	payloadHash := hex.EncodeToString(h.Sum(nil))

	key := b.key(rec.ContentHash)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(n),
		Metadata:      map[string]string{payloadHashKey: payloadHash},
	}
	if b.storageClass != "" {
		in.StorageClass = b.storageClass
	}
	if _, err := b.uploader.Upload(ctx, in); err != nil {
		return nil, fmt.Errorf("s3 upload %s: %w", key, err)
	}

	return &engine.PutResult{RemoteID: key, PayloadHash: payloadHash, StoredBytes: n}, nil
}

func (b *S3Backend) Exists(ctx context.Context, path, contentHash string) (string, bool, error) {
	key := b.key(contentHash)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("s3 HeadObject %s: %w", key, err)
	}
	return key, true, nil
}

// Verify streams the object back and compares its digest. Objects in an
// archive class cannot be read without a restore, so for those the digest
// recorded in the object metadata at upload is compared instead.
func (b *S3Backend) Verify(ctx context.Context, remoteID, expectedHash string) (bool, error) {
	if isArchiveClass(b.storageClass) {
		return b.verifyMetadata(ctx, remoteID, expectedHash)
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remoteID),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		// A lifecycle rule may have archived the object since upload.
		if isInvalidObjectState(err) {
			return b.verifyMetadata(ctx, remoteID, expectedHash)
		}
		return false, fmt.Errorf("s3 GetObject %s: %w", remoteID, err)
	}
	defer out.Body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, out.Body); err != nil {
		return false, fmt.Errorf("reading %s: %w", remoteID, err)
	}
	return hex.EncodeToString(h.Sum(nil)) == expectedHash, nil
}

func (b *S3Backend) verifyMetadata(ctx context.Context, remoteID, expectedHash string) (bool, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remoteID),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 HeadObject %s: %w", remoteID, err)
	}
	return out.Metadata[payloadHashKey] == expectedHash, nil
}

func isArchiveClass(c types.StorageClass) bool {
	return c == types.StorageClassGlacier || c == types.StorageClassDeepArchive
}

func isInvalidObjectState(err error) bool {
	var ios *types.InvalidObjectState
	if errors.As(err, &ios) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidObjectState"
}

func isNotFound(err error) bool {
	var (
		nf  *types.NotFound
		nsk *types.NoSuchKey
	)
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ engine.Backend = (*S3Backend)(nil)
