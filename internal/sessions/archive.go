package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/allyrun/ally/pkg/models"
)

// S3Archiver uploads a session's transcript to an S3 bucket, for teams
// that keep pair-programming transcripts in shared storage.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver builds an archiver against bucket in region, using the
// default AWS credential chain.
func NewS3Archiver(ctx context.Context, bucket, region string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Archiver{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

// archivedTranscript is the JSON document uploaded per session.
type archivedTranscript struct {
	Session    *models.Session   `json:"session"`
	Messages   []*models.Message `json:"messages"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// ArchiveSession uploads the session's full history under
// sessions/<id>/<timestamp>.json.
func (a *S3Archiver) ArchiveSession(ctx context.Context, store Store, session *models.Session) error {
	history, err := store.GetHistory(ctx, session.ID, 1000)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	doc := archivedTranscript{
		Session:    session,
		Messages:   history,
		ArchivedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	key := fmt.Sprintf("sessions/%s/%s.json", session.ID, doc.ArchivedAt.Format("20060102T150405Z"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload transcript: %w", err)
	}
	return nil
}
