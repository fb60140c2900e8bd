package storage

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("Storage")

type (
	Config struct {
		Bucket    string `yaml:"bucket" env:"BUCKET" env-required:"true"`
		KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX" env-default:"media"`
		Region    string `yaml:"region" env:"AWS_DEFAULT_REGION" env-default:"ap-northeast-1"`
	}

	// s3API is the slice of the S3 client this service depends on,
	// declared locally so tests can substitute a fake.
	s3API interface {
		PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
		HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
		ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
		DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	}

	ObjectInfo struct {
		Size        int64
		ContentType string
		Metadata    map[string]string
	}

	// Service provides access to the object storage bucket holding the
	// final media artifacts. All objects are publicly readable; the UI
	// consumes the public URLs directly.
	Service struct {
		client s3API
		config *Config
	}
)

var mediaURLMatcher = regexp.MustCompile(`https://(.+)\.s3.+?/(.+)`)

// New constructs a storage service using ambient AWS credentials
// (environment/instance role) and the configured region.
func New(ctx context.Context, config *Config) (*Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &Service{client: s3.NewFromConfig(awsCfg), config: config}, nil
}

// NewWithClient constructs a storage service around an existing client.
func NewWithClient(client s3API, config *Config) *Service {
	return &Service{client: client, config: config}
}

// Upload stores the local file under the given key with a public-read ACL
// and the provided string metadata attached. The local file is removed
// once the upload succeeds (the staged copy has served its purpose).
// Returns the public URL of the uploaded object.
func (service *Service) Upload(ctx context.Context, localPath string, key string, metadata map[string]string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for upload: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s for upload: %w", localPath, err)
	}

	log.Emit(logger.INFO, "Uploading %s -> s3://%s/%s (%d bytes)\n", localPath, service.config.Bucket, key, info.Size())
	_, err = service.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(service.config.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ACL:           types.ObjectCannedACLPublicRead,
		Metadata:      metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	file.Close()
	if err := os.Remove(localPath); err != nil {
		log.Emit(logger.WARNING, "Failed to remove staged file %s after upload: %s\n", localPath, err.Error())
	}

	return service.PublicURL(key), nil
}

func (service *Service) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	output, err := service.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(service.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	return &ObjectInfo{
		Size:        aws.ToInt64(output.ContentLength),
		ContentType: aws.ToString(output.ContentType),
		Metadata:    output.Metadata,
	}, nil
}

// List returns the keys of all objects under the given prefix.
func (service *Service) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	var continuationToken *string
	for {
		output, err := service.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(service.config.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}

		for _, object := range output.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	return keys, nil
}

func (service *Service) Delete(ctx context.Context, key string) error {
	_, err := service.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(service.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	log.Emit(logger.REMOVE, "Deleted object s3://%s/%s\n", service.config.Bucket, key)
	return nil
}

// PublicURL derives the public virtual-hosted URL for a key in the
// configured bucket and region.
func (service *Service) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", service.config.Bucket, service.config.Region, key)
}

// ObjectKey derives the deterministic storage key for one media artifact:
// the configured prefix, the product code, and the file's 1-based index
// with its original extension.
func (service *Service) ObjectKey(code string, index int, extension string) string {
	return fmt.Sprintf("%s/%s/%d%s", service.config.KeyPrefix, code, index, extension)
}

// CodePrefix derives the key prefix under which all of a product's media
// artifacts live.
func (service *Service) CodePrefix(code string) string {
	return fmt.Sprintf("%s/%s/", service.config.KeyPrefix, code)
}

// ParseMediaURL extracts the bucket and key from a public media URL of the
// form produced by PublicURL. Returns false when the URL is not a
// recognisable object storage URL.
func ParseMediaURL(url string) (bucket string, key string, ok bool) {
	groups := mediaURLMatcher.FindStringSubmatch(url)
	if len(groups) != 3 {
		return "", "", false
	}

	return groups[1], groups[2], true
}
