// Package r2 implements store.Capability against Cloudflare R2 through its
// S3-compatible API.
package r2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/cliplinehq/clipline/internal/config"
	"github.com/cliplinehq/clipline/internal/store"
)

var _ store.Capability = (*Client)(nil)

// Client wraps an S3 client pointed at the account's R2 endpoint.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the R2 client from static credentials. R2 ignores the region
// but the SDK requires one; "auto" is what R2 documents.
func New(ctx context.Context, cfg config.StorageConfig) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Put uploads one object. Errors come back classified as store.UploadError.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return classify(key, err)
	}
	return nil
}

// authCodes are the S3 error codes that indicate bad credentials or missing
// permissions; retrying those is pointless.
var authCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"AccountProblem":        true,
}

func classify(key string, err error) *store.UploadError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authCodes[apiErr.ErrorCode()] {
		return &store.UploadError{
			Kind: store.KindAuth,
			Msg:  fmt.Sprintf("put %s rejected (%s)", key, apiErr.ErrorCode()),
			Err:  err,
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusForbidden {
		return &store.UploadError{Kind: store.KindAuth, Msg: fmt.Sprintf("put %s forbidden", key), Err: err}
	}
	return &store.UploadError{Kind: store.KindTransient, Msg: fmt.Sprintf("put %s", key), Err: err}
}
