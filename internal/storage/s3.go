package storage

import (
	"context"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Options configures an S3Stager. Endpoint is only set for S3-compatible
// stores and switches the client to path-style addressing.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	LinkExpiry      time.Duration
	Logger          *infra.Logger
}

// S3Stager stages files in one bucket and hands out presigned URLs.
type S3Stager struct {
	bucket     string
	client     s3API
	presign    presignAPI
	linkExpiry time.Duration
	logger     *infra.Logger
}

// NewS3Stager loads AWS configuration with static credentials.
func NewS3Stager(ctx context.Context, opts S3Options) (*S3Stager, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, &domain.ConfigError{Missing: []string{"S3_BUCKET"}, Reason: "s3 storage"}
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Stager(opts, client, s3.NewPresignClient(client)), nil
}

func newS3Stager(opts S3Options, client s3API, presign presignAPI) *S3Stager {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &S3Stager{
		bucket:     opts.Bucket,
		client:     client,
		presign:    presign,
		linkExpiry: clampExpiry(opts.LinkExpiry, time.Minute, 7*24*time.Hour),
		logger:     logger,
	}
}

// Kind reports external: the editing service reads and writes presigned
// URLs without knowing they point at S3.
func (s *S3Stager) Kind() domain.StorageKind { return domain.StorageExternal }

func (s *S3Stager) Upload(ctx context.Context, localPath, remotePath string) (domain.AssetReference, error) {
	key := s3Key(remotePath)
	f, err := os.Open(localPath)
	if err != nil {
		return domain.AssetReference{}, &domain.TransferError{Op: "s3 upload", Target: localPath, Err: err}
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return domain.AssetReference{}, &domain.TransferError{Op: "s3 upload", Target: key, Err: err}
	}
	s.logger.Debug().Str("bucket", s.bucket).Str("key", key).Msg("storage: uploaded")
	return domain.AssetReference{ID: key, Path: key, Storage: domain.StorageExternal}, nil
}

func (s *S3Stager) Download(ctx context.Context, remotePath, dst string) (Checksum, error) {
	key := s3Key(remotePath)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return Checksum{}, &domain.TransferError{Op: "s3 download", Target: key, Err: err}
	}
	defer out.Body.Close()
	sum, err := writeFile(dst, out.Body)
	if err != nil {
		return Checksum{}, &domain.TransferError{Op: "s3 download", Target: key, Err: err}
	}
	return sum, nil
}

func (s *S3Stager) ReadLink(ctx context.Context, remotePath string) (string, error) {
	key := s3Key(remotePath)
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.linkExpiry))
	if err != nil {
		return "", &domain.TransferError{Op: "s3 read link", Target: key, Err: err}
	}
	return req.URL, nil
}

func (s *S3Stager) WriteLink(ctx context.Context, remotePath string) (string, error) {
	key := s3Key(remotePath)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.linkExpiry))
	if err != nil {
		return "", &domain.TransferError{Op: "s3 write link", Target: key, Err: err}
	}
	return req.URL, nil
}

// List returns the objects under folder, following continuation tokens.
func (s *S3Stager) List(ctx context.Context, folder string) ([]Entry, error) {
	prefix := s3Key(folder)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var entries []Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &domain.TransferError{Op: "s3 list", Target: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			entries = append(entries, Entry{Name: path.Base(key), Path: key, Size: aws.ToInt64(obj.Size)})
		}
	}
	return entries, nil
}

// s3Key strips the leading slash Dropbox-style paths carry.
func s3Key(p string) string {
	return strings.TrimLeft(strings.TrimSpace(p), "/")
}

var _ Stager = (*S3Stager)(nil)
