// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// ObjectPutter is the slice of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// WebhookArchive keeps raw order webhook bodies in R2 for replay and audits.
type WebhookArchive struct {
	Client ObjectPutter
	Bucket string
}

func NewR2Client(ctx context.Context, cfg R2Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}

func NewWebhookArchive(ctx context.Context, cfg R2Config) (*WebhookArchive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("R2 bucket name is required for webhook archiving")
	}
	client, err := NewR2Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &WebhookArchive{Client: client, Bucket: cfg.Bucket}, nil
}

// ArchiveKey is webhooks/<shop-slug>/<order>/<delivery>.json
func ArchiveKey(shop, orderID, deliveryID string) string {
	if deliveryID == "" {
		deliveryID = "unknown"
	}
	return path.Join("webhooks", slug.Make(shop), slug.Make(orderID), slug.Make(deliveryID)+".json")
}

func (a *WebhookArchive) ArchiveWebhook(ctx context.Context, shop, orderID, deliveryID string, body []byte) error {
	key := ArchiveKey(shop, orderID, deliveryID)
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}
