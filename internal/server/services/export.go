package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/logging"
	sc "github.com/dmitrijs2005/metta/internal/server/config"
	"github.com/dmitrijs2005/metta/internal/server/export"
	"github.com/dmitrijs2005/metta/internal/server/repositories/repomanager"
)

// DownloadURLValidity is how long a published export link works.
const DownloadURLValidity = 15 * time.Minute

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}

	timeNow = time.Now
)

// ExportService builds the instruction dataset and publishes it to
// S3-compatible object storage.
type ExportService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	log         logging.Logger
}

func NewExportService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config, log logging.Logger) *ExportService {
	if log == nil {
		log = logging.Nop{}
	}
	return &ExportService{db: db, repomanager: repomanager, config: config, log: log}
}

// Build returns an instruction for every entry whose rating, derived from
// its current votes, is at least minRating.
func (s *ExportService) Build(ctx context.Context, minRating float64) ([]export.Instruction, error) {
	all, err := s.repomanager.Entries(s.db).All(ctx)
	if err != nil {
		return nil, err
	}
	return export.FromEntries(all, minRating), nil
}

// Write builds the dataset and encodes it to w.
func (s *ExportService) Write(ctx context.Context, w io.Writer, format export.Format, minRating float64) (int, error) {
	records, err := s.Build(ctx, minRating)
	if err != nil {
		return 0, err
	}
	if err := export.Encode(w, format, records); err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	return len(records), nil
}

// Publish uploads the dataset and returns a presigned download URL valid
// for DownloadURLValidity.
func (s *ExportService) Publish(ctx context.Context, format export.Format, minRating float64) (string, error) {
	if s.config.S3Bucket == "" {
		return "", fmt.Errorf("%w: export bucket", common.ErrorNotConfigured)
	}

	var buf bytes.Buffer
	n, err := s.Write(ctx, &buf, format, minRating)
	if err != nil {
		return "", err
	}

	client, err := s.getS3Client(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 client: %w", err)
	}

	bucket := s.config.S3Bucket
	key := export.ObjectKey(timeNow(), format)

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(format.ContentType()),
	})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(DownloadURLValidity))
	if err != nil {
		return "", fmt.Errorf("presign export: %w", err)
	}

	s.log.Info(ctx, "export published", "key", key, "records", n, "format", string(format))
	return req.URL, nil
}

func (s *ExportService) getS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}
