// Package s3store uploads backup files to S3-compatible object storage.
package s3store

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supporttools/TableVault/pkg/config"
)

// api is the S3 surface the client uses; narrowed for testing.
type api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client uploads files into one bucket under an optional key prefix.
type Client struct {
	api    api
	bucket string
	prefix string
}

// NewClient builds an S3 client from configuration.
func NewClient(ctx context.Context, s3Cfg config.S3Config) (*Client, error) {
	creds := credentials.NewStaticCredentialsProvider(s3Cfg.AccessKey, s3Cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s3Cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	return &Client{
		api:    s3.NewFromConfig(awsCfg),
		bucket: s3Cfg.Bucket,
		prefix: strings.Trim(s3Cfg.Prefix, "/"),
	}, nil
}

// Name identifies this store in logs.
func (c *Client) Name() string {
	return "s3://" + c.bucket
}

// Upload streams a local file to the bucket under prefix/key.
func (c *Client) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", localPath)
	}
	defer file.Close()

	fullKey := key
	if c.prefix != "" {
		fullKey = path.Join(c.prefix, key)
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fullKey),
		Body:   file,
	})
	if err != nil {
		return errors.Wrapf(err, "put s3://%s/%s", c.bucket, fullKey)
	}

	log.WithFields(log.Fields{
		"bucket": c.bucket,
		"key":    fullKey,
	}).Debug("Uploaded backup file")

	return nil
}
