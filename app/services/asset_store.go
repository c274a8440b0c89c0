package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrAssetNotFound marks a campaign step whose image or video file is missing
var ErrAssetNotFound = errors.New("asset not found")

// AssetStore resolves the media file behind an image or video campaign step
type AssetStore interface {
	Open(ctx context.Context, kind models.StepKind, name string) (io.ReadCloser, error)
}

// NewAssetStore returns an S3 store when a bucket is configured, otherwise local directories
func NewAssetStore(ctx context.Context, cfg config.AssetConfig) (AssetStore, error) {
	if cfg.S3Bucket == "" {
		return NewLocalAssetStore(cfg.ImageDir, cfg.VideoDir), nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3AssetStore(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}

// LocalAssetStore reads assets from the configured image and video directories
type LocalAssetStore struct {
	imageDir string
	videoDir string
}

func NewLocalAssetStore(imageDir, videoDir string) *LocalAssetStore {
	return &LocalAssetStore{imageDir: imageDir, videoDir: videoDir}
}

func (s *LocalAssetStore) Open(_ context.Context, kind models.StepKind, name string) (io.ReadCloser, error) {
	var dir string
	switch kind {
	case models.StepKindImage:
		dir = s.imageDir
	case models.StepKindVideo:
		dir = s.videoDir
	default:
		return nil, fmt.Errorf("no asset directory for step kind %q", kind)
	}

	// only the base name is honored so content cannot escape the asset dir
	f, err := os.Open(filepath.Join(dir, filepath.Base(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// S3Getter is the subset of the S3 client used for assets
type S3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3AssetStore reads assets from {bucket}/{prefix}/{images|videos}/{name}
type S3AssetStore struct {
	client S3Getter
	bucket string
	prefix string
}

func NewS3AssetStore(client S3Getter, bucket, prefix string) *S3AssetStore {
	return &S3AssetStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3AssetStore) key(kind models.StepKind, name string) string {
	folder := "images"
	if kind == models.StepKindVideo {
		folder = "videos"
	}
	return path.Join(s.prefix, folder, path.Base(name))
}

func (s *S3AssetStore) Open(ctx context.Context, kind models.StepKind, name string) (io.ReadCloser, error) {
	key := s.key(kind, name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrAssetNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}
