// Package escrow mirrors the hibernate metadata file to S3-compatible
// object storage for disaster recovery. Only the metadata file (wrapped
// key, tags, sizes) is ever escrowed — the multi-gigabyte header/hiber
// image files never leave the device.
package escrow

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds the S3-compatible backend configuration.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Mirror uploads and fetches the metadata file for a single device.
type Mirror struct {
	client   *s3.Client
	bucket   string
	deviceID string
}

// New creates a Mirror. If cfg.AccessKeyID is empty, the default AWS
// credential chain is used (IAM instance profile, env vars).
func New(deviceID string, cfg Config) (*Mirror, error) {
	var client *s3.Client

	if cfg.AccessKeyID != "" {
		opts := []func(*s3.Options){
			func(o *s3.Options) {
				o.Region = cfg.Region
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
				if cfg.ForcePathStyle {
					o.UsePathStyle = true
				}
				if cfg.Endpoint != "" {
					o.BaseEndpoint = aws.String(cfg.Endpoint)
				}
			},
		}
		client = s3.New(s3.Options{}, opts...)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("escrow: load aws config: %w", err)
		}
		var s3Opts []func(*s3.Options)
		if cfg.ForcePathStyle {
			s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
		}
		if cfg.Endpoint != "" {
			s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
		}
		client = s3.NewFromConfig(awsCfg, s3Opts...)
	}

	return &Mirror{client: client, bucket: cfg.Bucket, deviceID: deviceID}, nil
}

func (m *Mirror) key() string {
	return fmt.Sprintf("hiberman/%s/metadata", m.deviceID)
}

// Upload mirrors the metadata file at localPath to S3.
func (m *Mirror) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("escrow: open metadata file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("escrow: stat metadata file: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.key()),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return fmt.Errorf("escrow: upload metadata: %w", err)
	}
	return nil
}

// Fetch retrieves the mirrored metadata file and writes it to localPath,
// used when the on-device copy was lost (e.g. the low-disk cleanup path
// unlinked it).
func (m *Mirror) Fetch(ctx context.Context, localPath string) error {
	resp, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key()),
	})
	if err != nil {
		return fmt.Errorf("escrow: download metadata: %w", err)
	}
	defer resp.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("escrow: create local metadata file: %w", err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("escrow: write local metadata file: %w", err)
	}
	return nil
}

// Delete removes the mirrored metadata file, called when the local
// metadata file is deliberately retired (not on low-disk cleanup, which
// should keep the off-device copy as the last record of the attempt).
func (m *Mirror) Delete(ctx context.Context) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key()),
	})
	if err != nil {
		return fmt.Errorf("escrow: delete metadata: %w", err)
	}
	return nil
}
