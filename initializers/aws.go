package initializers

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client builds the S3 client and resolves the bucket objects live in.
func NewS3Client(ctx context.Context) (*s3.Client, string, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(os.Getenv("AWS_REGION")),
	)
	if err != nil {
		return nil, "", fmt.Errorf("load AWS config: %w", err)
	}
	bucket := os.Getenv("AWS_BUCKET_NAME")
	if bucket == "" {
		return nil, "", fmt.Errorf("AWS_BUCKET_NAME is not set")
	}
	return s3.NewFromConfig(cfg), bucket, nil
}
