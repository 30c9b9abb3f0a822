package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/maheshrc27/postflow/configs"
)

// R2Service stores and retrieves media objects on Cloudflare R2.
type R2Service struct {
	config *cfg.Config
	client *s3.Client
}

func NewR2Service(c *cfg.Config) *R2Service {
	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.R2.AccessKey, c.R2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		log.Fatal(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2.AccountID))
	})

	return &R2Service{config: c, client: client}
}

// UploadToR2 uploads file content under the given key.
func (r *R2Service) UploadToR2(ctx context.Context, key string, file []byte, filetype string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(filetype),
	}

	_, err := r.client.PutObject(ctx, input)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}

// PublicURL returns the public address an uploaded object is served from.
func (r *R2Service) PublicURL(key string) string {
	return strings.TrimRight(r.config.R2.PublicURL, "/") + "/" + key
}

// tempObject is a downloaded object backed by a temp file that is removed
// on Close.
type tempObject struct {
	*os.File
}

func (t tempObject) Close() error {
	name := t.Name()
	err := t.File.Close()
	os.Remove(name)
	return err
}

// FetchTemp downloads an object into a temp file and returns it with its
// size. Chunked uploads need random access over the full file, which a
// streaming body cannot give.
func (r *R2Service) FetchTemp(ctx context.Context, key string) (ReadAtCloser, int64, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.config.R2.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, 0, err
	}
	defer output.Body.Close()

	file, err := os.CreateTemp("", "postflow-media-*")
	if err != nil {
		return nil, 0, err
	}

	size, err := io.Copy(file, output.Body)
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, 0, err
	}

	return tempObject{file}, size, nil
}

// DeleteFromR2 removes an object; missing keys are not an error.
func (r *R2Service) DeleteFromR2(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.config.R2.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
