// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectStore is the subset of the minio client the archive uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// PatchArchive uploads applied patches to an S3-compatible bucket. A nil
// *PatchArchive is valid and archives nothing.
type PatchArchive struct {
	client objectStore
	bucket  string
	region  string
	timeout time.Duration
}

// NewPatchArchive returns nil when the archive is disabled.
func NewPatchArchive(cfg ArchiveConfig) (*PatchArchive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("archive endpoint must not include scheme: %q", cfg.Endpoint)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newArchiveTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	return &PatchArchive{client: client, bucket: cfg.Bucket, region: cfg.Region, timeout: cfg.Timeout()}, nil
}

func newArchiveTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// EnsureBucket creates the bucket if it does not exist.
func (a *PatchArchive) EnsureBucket(ctx context.Context) error {
	if a == nil {
		return nil
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", a.bucket, err)
	}
	logf("archive: created bucket %s", a.bucket)
	return nil
}

// ObjectName returns the key a patch is stored under.
func ObjectName(unit, runID string) string {
	return path.Join(unit, runID+".patch")
}

// Put uploads patch for the project's unit and run.
func (a *PatchArchive) Put(ctx context.Context, p Project, runID, patch string) error {
	if a == nil {
		return nil
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	name := ObjectName(p.Unit(), runID)
	_, err := a.client.PutObject(ctx, a.bucket, name, strings.NewReader(patch), int64(len(patch)),
		minio.PutObjectOptions{ContentType: "text/x-diff"})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", name, err)
	}
	return nil
}

func (a *PatchArchive) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}
