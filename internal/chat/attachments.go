package chat

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/example/court-matching/internal/apperr"
)

const uploadTTL = 5 * time.Minute

// Presigner issues upload URLs for attachment keys.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
}

// S3Presigner presigns PUT requests against one bucket.
type S3Presigner struct {
	bucket string
	client *s3.PresignClient
}

func NewS3Presigner(ctx context.Context, region, bucket string) (*S3Presigner, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &S3Presigner{bucket: bucket, client: s3.NewPresignClient(s3.NewFromConfig(cfg))}, nil
}

func (p *S3Presigner) PresignPut(ctx context.Context, key, contentType string) (string, error) {
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(uploadTTL))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// AttachmentPrefix is the key prefix every attachment of roomID lives under.
func AttachmentPrefix(roomID string) string { return "chat/" + roomID + "/" }

type Upload struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AttachmentURL returns a presigned upload for a participant of roomID.
func (s *Service) AttachmentURL(ctx context.Context, roomID, userID, fileName, contentType string) (*Upload, error) {
	if _, err := s.Room(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if s.presigner == nil {
		return nil, apperr.New(apperr.KindDependency, "attachments_disabled", "attachment storage is not configured")
	}
	name := sanitizeFileName(fileName)
	if name == "" || contentType == "" {
		return nil, apperr.New(apperr.KindValidation, "invalid_attachment", "fileName and contentType are required")
	}
	key := AttachmentPrefix(roomID) + uuid.NewString() + "-" + name
	url, err := s.presigner.PresignPut(ctx, key, contentType)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependency, "attachments", err, "could not presign upload")
	}
	return &Upload{Key: key, URL: url, ExpiresAt: s.now().UTC().Add(uploadTTL)}, nil
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
