// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"

	"github.com/javajoker/billing-backend/internal/config"
)

// StorageService archives rendered invoices to S3. A nil service or a
// service without a bucket stores nothing.
type StorageService struct {
	s3Client s3iface.S3API
	config   config.AWSConfig
	now      func() time.Time
}

func NewStorageService(cfg config.AWSConfig) (*StorageService, error) {
	if cfg.S3Bucket == "" {
		// Return service without S3 for local development
		return &StorageService{config: cfg, now: time.Now}, nil
	}

	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewStorageServiceWithClient(s3.New(sess), cfg), nil
}

func NewStorageServiceWithClient(client s3iface.S3API, cfg config.AWSConfig) *StorageService {
	return &StorageService{s3Client: client, config: cfg, now: time.Now}
}

func (s *StorageService) Enabled() bool {
	return s != nil && s.s3Client != nil && s.config.S3Bucket != ""
}

// ArchiveInvoice uploads the HTML invoice and returns its object key.
func (s *StorageService) ArchiveInvoice(ctx context.Context, purchaseID uint, body []byte) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	key := s.invoiceKey(purchaseID)
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("text/html; charset=utf-8"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]*string{
			"purchase-id": aws.String(fmt.Sprint(purchaseID)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload invoice to S3: %w", err)
	}

	return key, nil
}

func (s *StorageService) invoiceKey(purchaseID uint) string {
	// Date folder plus a random suffix so re-sends never overwrite
	name := fmt.Sprintf("invoice-%d-%s.html", purchaseID, uuid.New().String()[:8])
	return path.Join(s.config.InvoicePrefix, s.now().UTC().Format("20060102"), name)
}
