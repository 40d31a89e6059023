// Package storage uploads avatar images to S3-compatible object storage and
// returns the public URL the profile stores.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type AvatarUploader struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

// NewAvatarUploader creates a client against an S3-compatible endpoint
// (DigitalOcean Spaces, MinIO). publicBase is the URL prefix avatars are
// served from; when empty it is derived from the endpoint and bucket.
func NewAvatarUploader(endpoint, region, bucket, accessKeyID, secretAccessKey, publicBase string) (*AvatarUploader, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID {
			return aws.Endpoint{
				URL:           endpoint,
				SigningRegion: region,
			}, nil
		}
		return aws.Endpoint{}, fmt.Errorf("unknown endpoint requested")
	})

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(customResolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, secretAccessKey, "",
		)),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	if publicBase == "" {
		publicBase = fmt.Sprintf("%s/%s", strings.TrimRight(endpoint, "/"), bucket)
	}

	return &AvatarUploader{
		client:     client,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// Upload stores the avatar under a key derived from the user ID and returns
// its public URL. Re-uploading replaces the previous avatar.
func (u *AvatarUploader) Upload(ctx context.Context, userID string, r io.Reader, contentType string) (string, error) {
	key := AvatarKey(userID, contentType)

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	return u.publicBase + "/" + key, nil
}

// AvatarKey derives the object key for a user's avatar.
func AvatarKey(userID, contentType string) string {
	ext := ".png"
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	case "image/gif":
		ext = ".gif"
	}
	return "avatars/" + userID + ext
}
