package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "blobstore")

var _ BlobStore = (*S3Store)(nil)

// S3Store implements BlobStore on top of an S3-compatible bucket API.
// Presigned GET URLs are cached for half their TTL so repeated download
// requests for the same artifact do not re-sign.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	region    string
	urlCache  *gocache.Cache
}

// NewS3Store builds a store using the ambient AWS credential chain.
func NewS3Store(ctx context.Context, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "could not load AWS configuration")
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		region:    region,
		urlCache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
	}, nil
}

// bucketPolicy grants public read on everything except contribution uploads,
// which stay private and reachable only through presigned URLs.
func bucketPolicy(bucket string) string {
	return fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "PublicReadCeremonyArtifacts",
      "Effect": "Allow",
      "Principal": "*",
      "Action": "s3:GetObject",
      "Resource": "arn:aws:s3:::%s/*",
      "Condition": {"StringNotLike": {"s3:prefix": "circuits/*/contributions/*"}}
    }
  ]
}`, bucket)
}

// CreateBucket provisions the ceremony bucket with its policy and CORS
// configuration.
func (s *S3Store) CreateBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return errors.Wrapf(err, "could not create bucket %s", bucket)
	}
	if _, err := s.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(bucketPolicy(bucket)),
	}); err != nil {
		return errors.Wrapf(err, "could not install policy on bucket %s", bucket)
	}
	_, err := s.client.PutBucketCors(ctx, &s3.PutBucketCorsInput{
		Bucket: aws.String(bucket),
		CORSConfiguration: &s3types.CORSConfiguration{
			CORSRules: []s3types.CORSRule{
				{
					AllowedOrigins: []string{"*"},
					AllowedMethods: []string{"GET", "PUT"},
					AllowedHeaders: []string{"*"},
					ExposeHeaders:  []string{"ETag"},
				},
			},
		},
	})
	return errors.Wrapf(err, "could not configure CORS on bucket %s", bucket)
}

// HeadObject reports whether the object exists.
func (s *S3Store) HeadObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return ErrObjectNotFound
		}
		return errors.Wrapf(err, "could not head object %s/%s", bucket, key)
	}
	return nil
}

// PresignGet returns a presigned GET URL, reusing a cached one while it has
// at least half its TTL remaining.
func (s *S3Store) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	cacheKey := bucket + "/" + key
	if cached, ok := s.urlCache.Get(cacheKey); ok {
		return cached.(string), nil
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.Wrapf(err, "could not presign GET for %s/%s", bucket, key)
	}
	s.urlCache.Set(cacheKey, req.URL, ttl/2)
	return req.URL, nil
}

// OpenMultipart starts a private multipart upload.
func (s *S3Store) OpenMultipart(ctx context.Context, bucket, key string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		ACL:    s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not open multipart upload for %s/%s", bucket, key)
	}
	return aws.ToString(out.UploadId), nil
}

// PresignPart returns a presigned PUT URL for one multipart chunk.
func (s *S3Store) PresignPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: partNumber,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.Wrapf(err, "could not presign part %d for %s/%s", partNumber, bucket, key)
	}
	return req.URL, nil
}

// CompleteMultipart seals the upload from the recorded chunk ETags.
func (s *S3Store) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []types.ETagWithPartNumber) error {
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: p.PartNumber,
		})
	}
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	return errors.Wrapf(err, "could not complete multipart upload for %s/%s", bucket, key)
}

// DeleteObject removes an object from the bucket.
func (s *S3Store) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "could not delete object %s/%s", bucket, key)
}

// UploadFromString writes a small text object such as a cleaned transcript.
func (s *S3Store) UploadFromString(ctx context.Context, bucket, key, body string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(body),
	})
	return errors.Wrapf(err, "could not upload object %s/%s", bucket, key)
}

// DownloadToPath streams an object into a local file.
func (s *S3Store) DownloadToPath(ctx context.Context, bucket, key, path string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "could not get object %s/%s", bucket, key)
	}
	defer func() {
		if err := out.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close object body")
		}
	}()
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create file %s", path)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Debug("Could not close file")
		}
	}()
	_, err = io.Copy(f, out.Body)
	return errors.Wrapf(err, "could not write object %s/%s to %s", bucket, key, path)
}
