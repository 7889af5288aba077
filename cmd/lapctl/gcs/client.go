// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gcs uploads run reports and stack backups to a Cloud Storage
// bucket using a service account key file.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type Client struct {
	storageClient *storage.Client
	ProjectID     string
	BucketName    string
}

func NewClient(ctx context.Context, projectID, bucketName, keyPath string) (*Client, error) {
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at %s; set reports.gcs.key_file in ~/.lapctl/lapctl.yaml", keyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(keyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		ProjectID:     projectID,
		BucketName:    bucketName,
	}, nil
}

// UploadFile streams one local file into the bucket at objectPath.
func (c *Client) UploadFile(ctx context.Context, localPath, objectPath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := c.storageClient.Bucket(c.BucketName).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = ContentTypeFor(localPath)
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("failed to copy %s to object %s: %w", localPath, objectPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", objectPath, err)
	}
	return nil
}

// UploadDir uploads every file under localDir, preserving the directory
// structure relative to localDir under gcsPrefix.
func (c *Client) UploadDir(ctx context.Context, localDir, gcsPrefix string) error {
	return filepath.Walk(localDir, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(localDir, walkPath)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", walkPath, err)
		}
		return c.UploadFile(ctx, walkPath, ObjectName(gcsPrefix, relPath))
	})
}

// ObjectURL returns the gs:// URL for an object in the client's bucket.
func (c *Client) ObjectURL(objectPath string) string {
	return fmt.Sprintf("gs://%s/%s", c.BucketName, objectPath)
}

func (c *Client) Close() error {
	return c.storageClient.Close()
}

// ObjectName joins a prefix and a relative file path into an object name.
// Object names always use forward slashes, whatever the host OS uses.
func ObjectName(prefix, relPath string) string {
	relPath = filepath.ToSlash(relPath)
	if prefix == "" {
		return relPath
	}
	return path.Join(prefix, relPath)
}

// ContentTypeFor picks a content type from the file extension so report
// JSON stays directly viewable in the console.
func ContentTypeFor(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".log", ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
