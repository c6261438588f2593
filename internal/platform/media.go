package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/postlyhq/postly/configs"
)

// MediaResolver turns stored media keys into URLs the platforms can pull
// from. Media lives in R2; publish payloads carry presigned GET links that
// outlive the longest platform upload window.
type MediaResolver struct {
	config cfg.Config
}

func NewMediaResolver(cfg cfg.Config) *MediaResolver {
	return &MediaResolver{config: cfg}
}

func (m *MediaResolver) r2Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(m.config.R2.AccessKey, m.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", m.config.R2.AccountID))
	}), nil
}

// ResolveURL presigns a GET for one stored object. Keys that are already
// absolute URLs (sheet-ingested external media) pass through untouched.
func (m *MediaResolver) ResolveURL(ctx context.Context, key string) (string, error) {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key, nil
	}

	client, err := m.r2Client(ctx)
	if err != nil {
		return "", err
	}

	presigner := s3.NewPresignClient(client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.config.R2.BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(4*time.Hour))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return req.URL, nil
}
