package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/metta/internal/common"
	sc "github.com/dmitrijs2005/metta/internal/server/config"
	"github.com/dmitrijs2005/metta/internal/server/export"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExportFixture(t *testing.T, bucket string) (*ExportService, *fakeEntriesRepo) {
	t.Helper()
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	cfg := &sc.Config{
		S3Region:       "us-east-1",
		S3RootUser:     "minioadmin",
		S3RootPassword: "minioadmin",
		S3BaseEndpoint: "http://127.0.0.1:9000",
		S3Bucket:       bucket,
	}

	rm.e.rows["E001"] = &models.Entry{ID: "E001", Question: "good", Answer: "a1", Users: map[string]int{"u1": 5, "u2": 4}}
	rm.e.rows["E002"] = &models.Entry{ID: "E002", Question: "poor", Answer: "a2", Users: map[string]int{"u1": 1}}
	// stale cached rating must not let this one through
	rm.e.rows["E003"] = &models.Entry{ID: "E003", Question: "stale", Answer: "a3", Users: map[string]int{}, Rating: 5}

	return NewExportService(db, rm, cfg, nil), rm.e
}

func stubS3(t *testing.T) (uploaded *bytes.Buffer, input **s3.PutObjectInput) {
	t.Helper()

	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origPut := putObject
	origNewPre := newS3PresignClient
	origPresign := presignGetObject
	origNow := timeNow
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		putObject = origPut
		newS3PresignClient = origNewPre
		presignGetObject = origPresign
		timeNow = origNow
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		require.NotNil(t, opts.BaseEndpoint)
		assert.Equal(t, "http://127.0.0.1:9000", *opts.BaseEndpoint)
		assert.True(t, opts.UsePathStyle)
		return &s3.Client{}
	}
	newS3PresignClient = func(*s3.Client) *s3.PresignClient { return &s3.PresignClient{} }
	timeNow = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	uploaded = &bytes.Buffer{}
	var captured *s3.PutObjectInput
	input = &captured
	putObject = func(_ *s3.Client, _ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		captured = in
		_, err := io.Copy(uploaded, in.Body)
		return &s3.PutObjectOutput{}, err
	}
	presignGetObject = func(_ *s3.PresignClient, _ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		var po s3.PresignOptions
		for _, fn := range optFns {
			fn(&po)
		}
		assert.Equal(t, DownloadURLValidity, po.Expires)
		return &v4.PresignedHTTPRequest{URL: "https://example.test/" + *in.Bucket + "/" + *in.Key}, nil
	}
	return uploaded, input
}

func TestExportService_Build(t *testing.T) {
	svc, repo := newExportFixture(t, "metta")
	ctx := context.Background()

	got, err := svc.Build(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []export.Instruction{{Instruction: "good", Input: "", Output: "a1"}}, got)

	got, err = svc.Build(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	repo.err = errors.New("db down")
	_, err = svc.Build(ctx, 0)
	require.Error(t, err)
}

func TestExportService_Write(t *testing.T) {
	svc, _ := newExportFixture(t, "metta")

	var buf bytes.Buffer
	n, err := svc.Write(context.Background(), &buf, export.FormatJSONL, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	_, err = svc.Write(context.Background(), &buf, export.Format("csv"), 1)
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestExportService_Publish(t *testing.T) {
	svc, _ := newExportFixture(t, "metta")
	uploaded, input := stubS3(t)

	url, err := svc.Publish(context.Background(), export.FormatJSONL, 4)
	require.NoError(t, err)

	in := *input
	require.NotNil(t, in)
	assert.Equal(t, "metta", *in.Bucket)
	assert.True(t, strings.HasPrefix(*in.Key, "exports/2024/03/09/"), *in.Key)
	assert.True(t, strings.HasSuffix(*in.Key, ".jsonl"), *in.Key)
	assert.Equal(t, "application/x-ndjson", *in.ContentType)
	assert.Equal(t, "https://example.test/metta/"+*in.Key, url)
	assert.JSONEq(t, `{"instruction":"good","input":"","output":"a1"}`, uploaded.String())
}

func TestExportService_Publish_Errors(t *testing.T) {
	t.Run("no bucket", func(t *testing.T) {
		svc, _ := newExportFixture(t, "")
		_, err := svc.Publish(context.Background(), export.FormatJSON, 0)
		require.ErrorIs(t, err, common.ErrorNotConfigured)
	})

	t.Run("upload fails", func(t *testing.T) {
		svc, _ := newExportFixture(t, "metta")
		stubS3(t)
		putObject = func(*s3.Client, context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, errors.New("denied")
		}
		_, err := svc.Publish(context.Background(), export.FormatJSON, 0)
		require.ErrorContains(t, err, "upload export: denied")
	})

	t.Run("presign fails", func(t *testing.T) {
		svc, _ := newExportFixture(t, "metta")
		stubS3(t)
		presignGetObject = func(*s3.PresignClient, context.Context, *s3.GetObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			return nil, errors.New("clock skew")
		}
		_, err := svc.Publish(context.Background(), export.FormatJSON, 0)
		require.ErrorContains(t, err, "presign export: clock skew")
	})

	t.Run("config fails", func(t *testing.T) {
		svc, _ := newExportFixture(t, "metta")
		stubS3(t)
		loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("no region")
		}
		_, err := svc.Publish(context.Background(), export.FormatJSON, 0)
		require.ErrorContains(t, err, "s3 client: no region")
	})
}
