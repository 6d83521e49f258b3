// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package csvstream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mculab/acqd/pkg/log"
)

// S3Archiver uploads a finished CSV log to an S3 bucket once acquisition
// stops, satisfying operators who want CSV logs retained beyond the host's
// local disk even though the core itself keeps no history beyond a plot's
// retention window.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver loads AWS credentials/region from the environment (shared
// config/credentials files, env vars, or the EC2/ECS instance role) via
// the default aws-sdk-go-v2 config loader.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("csvstream: loading AWS config: %w", err)
	}
	return &S3Archiver{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// Archive uploads localPath under <prefix>/<basename> and logs the result.
func (a *S3Archiver) Archive(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("csvstream: open %s for archival: %w", localPath, err)
	}
	defer f.Close()

	key := filepath.Join(a.prefix, filepath.Base(localPath))
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("csvstream: uploading %s to s3://%s/%s: %w", localPath, a.bucket, key, err)
	}

	log.Infof("csvstream: archived %s to s3://%s/%s", localPath, a.bucket, key)
	return nil
}
