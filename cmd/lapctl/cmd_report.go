// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/config"
	"github.com/cbwinslow/local-ai-packaged-cbw/cmd/lapctl/gcs"
	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/ux"
)

// runReportShow handles "lapctl report show": render an archived
// report. The exit code is the shown run's own code, so scripts can
// re-query the last outcome.
func runReportShow(cmd *cobra.Command, args []string) {
	os.Exit(reportShowMain(cmd, args))
}

func reportShowMain(cmd *cobra.Command, args []string) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()

	store, err := newReportArchive()
	if err != nil {
		return emitReport(ctx, nil, err)
	}

	report, err := loadReportArg(ctx, store, args)
	if err != nil {
		return emitReport(ctx, nil, err)
	}
	return emitReport(ctx, report, nil)
}

// runReportExport handles "lapctl report export": write an archived
// report's JSON to a file or stdout.
func runReportExport(cmd *cobra.Command, args []string) {
	os.Exit(reportExportMain(cmd, args))
}

func reportExportMain(cmd *cobra.Command, args []string) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()
	start := time.Now()
	out := outputSettings()

	store, err := newReportArchive()
	if err != nil {
		return OutputData(out, "report export", start, nil, false, err)
	}

	report, err := loadReportArg(ctx, store, args)
	if err != nil {
		return OutputData(out, "report export", start, nil, false, err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return OutputData(out, "report export", start, nil, false, fmt.Errorf("failed to encode the report: %w", err))
	}
	data = append(data, '\n')

	if exportOut == "" {
		// The report JSON is the output; no envelope around it.
		_, err := os.Stdout.Write(data)
		if err != nil {
			return ExitFailed
		}
		return ExitOK
	}

	if err := os.WriteFile(exportOut, data, 0640); err != nil {
		return OutputData(out, "report export", start, nil, false, fmt.Errorf("failed to write %s: %w", exportOut, err))
	}
	if !out.JSON && !out.Quiet {
		ux.Success(fmt.Sprintf("Exported report %s to %s", shortRunID(report.ID), exportOut))
	}
	payload := map[string]string{"run_id": report.ID, "destination": exportOut}
	return OutputData(out, "report export", start, payload, false, nil)
}

// runReportUpload handles "lapctl report upload": push archived reports
// to the configured GCS bucket.
func runReportUpload(cmd *cobra.Command, args []string) {
	os.Exit(reportUploadMain(cmd, args))
}

func reportUploadMain(cmd *cobra.Command, args []string) int {
	defer closeLogger()

	ctx, cancel := runContext(cmd)
	defer cancel()
	start := time.Now()
	out := outputSettings()

	g := config.Global.Reports.GCS
	if !g.Enabled || g.Bucket == "" {
		return OutputData(out, "report upload", start, nil, false,
			errors.New("GCS upload is not configured; set reports.gcs.enabled and reports.gcs.bucket in ~/.lapctl/lapctl.yaml"))
	}

	store, err := newReportArchive()
	if err != nil {
		return OutputData(out, "report upload", start, nil, false, err)
	}

	client, err := gcs.NewClient(ctx, g.ProjectID, g.Bucket, g.KeyFile)
	if err != nil {
		return OutputData(out, "report upload", start, nil, false, err)
	}
	defer client.Close()

	if uploadAll {
		if err := client.UploadDir(ctx, store.BaseDir(), g.PathPrefix); err != nil {
			return OutputData(out, "report upload", start, nil, false, err)
		}
		if !out.JSON && !out.Quiet {
			ux.Success(fmt.Sprintf("Uploaded the report archive to gs://%s/%s", g.Bucket, g.PathPrefix))
		}
		payload := map[string]string{"bucket": g.Bucket, "prefix": g.PathPrefix}
		return OutputData(out, "report upload", start, payload, false, nil)
	}

	location, err := resolveUploadSource(ctx, store, args)
	if err != nil {
		return OutputData(out, "report upload", start, nil, false, err)
	}

	objectPath := gcs.ObjectName(g.PathPrefix, filepath.Base(location))
	if err := client.UploadFile(ctx, location, objectPath); err != nil {
		return OutputData(out, "report upload", start, nil, false, err)
	}

	objectURL := client.ObjectURL(objectPath)
	if !out.JSON && !out.Quiet {
		ux.Success("Uploaded report to " + objectURL)
	}
	payload := map[string]string{"source": location, "object": objectURL}
	return OutputData(out, "report upload", start, payload, false, nil)
}

// runVersion handles "lapctl version".
func runVersion(cmd *cobra.Command, args []string) {
	os.Exit(versionMain(cmd))
}

func versionMain(cmd *cobra.Command) int {
	defer closeLogger()

	out := outputSettings()
	if out.JSON {
		payload := map[string]string{
			"version": appVersion,
			"go":      runtime.Version(),
			"os":      runtime.GOOS,
			"arch":    runtime.GOARCH,
		}
		return OutputData(out, "version", time.Now(), payload, false, nil)
	}
	if !out.Quiet {
		fmt.Printf("lapctl %s (%s, %s/%s)\n", appVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	}
	return ExitOK
}

// -----------------------------------------------------------------------------
// Archive Helpers
// -----------------------------------------------------------------------------

// newReportArchive opens the configured report store.
func newReportArchive() (*FileReportStore, error) {
	store, err := NewFileReportStore(config.Global.Reports.Dir, config.Global.Reports.Retention)
	if err != nil {
		return nil, fmt.Errorf("failed to open the report archive: %w", err)
	}
	return store, nil
}

// loadReportArg loads the report named by the optional positional
// argument, or the newest archived report when no argument was given.
func loadReportArg(ctx context.Context, store *FileReportStore, args []string) (*RunReport, error) {
	if len(args) == 0 {
		report, err := store.Latest(ctx)
		if errors.Is(err, ErrNoReports) {
			return nil, fmt.Errorf("%w; run 'lapctl deploy' or 'lapctl validate' first", err)
		}
		return report, err
	}
	return store.Load(ctx, archivePath(store, args[0]))
}

// resolveUploadSource picks the report file to upload: the named one,
// or the newest in the archive.
func resolveUploadSource(ctx context.Context, store *FileReportStore, args []string) (string, error) {
	if len(args) > 0 {
		return archivePath(store, args[0]), nil
	}
	locations, err := store.List(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(locations) == 0 {
		return "", fmt.Errorf("%w; run 'lapctl deploy' or 'lapctl validate' first", ErrNoReports)
	}
	return locations[0], nil
}

// archivePath anchors a bare report filename inside the archive so
// "report show report-x.json" works from any directory. Paths with
// separators pass through untouched.
func archivePath(store *FileReportStore, location string) string {
	if filepath.IsAbs(location) || strings.ContainsRune(location, os.PathSeparator) {
		return location
	}
	return filepath.Join(store.BaseDir(), location)
}
