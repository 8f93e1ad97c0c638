package blob

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of *s3.Client used by BlobClient.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type BlobClient struct {
	s3Client s3API
	config   *S3Config
}

func NewBlobClient(s3Client s3API, config *S3Config) *BlobClient {
	return &BlobClient{
		s3Client: s3Client,
		config:   config,
	}
}

// NewBlobClientWithS3Config builds an S3 client from cfg. Static credentials
// win over the shared profile; a custom endpoint switches to path-style addressing.
func NewBlobClientWithS3Config(ctx context.Context, cfg *S3Config) (*BlobClient, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.UsesStaticCredentials() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	} else if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	awsClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		// Content-MD5 is always sent on uploads
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return NewBlobClient(awsClient, cfg), nil
}

func (s *BlobClient) Bucket() string {
	return s.config.BucketName
}

// ===================================================================================================

// ListObjects fetches a single ListObjectsV2 page. Paging is driven by the caller.
func (s *BlobClient) ListObjects(ctx context.Context, params *ListObjectsParams) (*ListObjectsPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: &s.config.BucketName,
	}
	if params.Prefix != "" {
		input.Prefix = aws.String(params.Prefix)
	}
	if params.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(params.MaxKeys)
	}
	if params.ContinuationToken != "" {
		input.ContinuationToken = aws.String(params.ContinuationToken)
	}

	resp, err := s.s3Client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}

	page := &ListObjectsPage{
		Objects:               make([]*BlobInfo, 0, len(resp.Contents)),
		IsTruncated:           aws.ToBool(resp.IsTruncated),
		NextContinuationToken: aws.ToString(resp.NextContinuationToken),
	}
	for _, obj := range resp.Contents {
		page.Objects = append(page.Objects, &BlobInfo{
			Key:          aws.ToString(obj.Key),
			ETag:         cleanETag(obj.ETag),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	return page, nil
}

// ===================================================================================================

func (s *BlobClient) GetObject(ctx context.Context, key string) (*GetObjectResponse, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.BucketName,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}

	etag := cleanETag(resp.ETag)
	if !etagIsDigest(resp) {
		etag = ""
	}

	return &GetObjectResponse{
		Body:         resp.Body,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         etag,
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// etagIsDigest reports whether the object's etag can be an MD5 of its content.
// SSE-KMS and SSE-C objects carry opaque etags.
func etagIsDigest(resp *s3.GetObjectOutput) bool {
	if strings.HasPrefix(string(resp.ServerSideEncryption), "aws:kms") {
		return false
	}
	return resp.SSECustomerAlgorithm == nil
}

// ===================================================================================================

func (s *BlobClient) PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	input := &s3.PutObjectInput{
		Bucket:        &s.config.BucketName,
		Key:           &params.Key,
		Body:          params.Body,
		ContentLength: aws.Int64(params.Size),
	}
	if params.ContentMD5 != "" {
		input.ContentMD5 = aws.String(params.ContentMD5)
	}

	resp, err := s.s3Client.PutObject(ctx, input)
	if err != nil {
		return nil, err
	}

	// s3.PutObjectOutput does not have LastModified
	return &PutObjectResponse{
		Key:          params.Key,
		Size:         params.Size,
		ETag:         cleanETag(resp.ETag),
		LastModified: time.Now().UTC(),
	}, nil
}

// ===================================================================================================

func (s *BlobClient) DeleteObject(ctx context.Context, key string) (bool, error) {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.config.BucketName,
		Key:    &key,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func cleanETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), "\"")
}

var _ IBlobClient = (*BlobClient)(nil)
