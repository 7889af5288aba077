// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides the terminal renderer for run reports.

The renderer prints the validation timeline grouped by component, a
recommendations section collecting every remediation hint from non-PASS
checks, and the run tally. Styling comes from pkg/ux; machine output
mode degrades to plain tab-separated lines.
*/
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cbwinslow/local-ai-packaged-cbw/pkg/ux"
)

// componentTitles maps component keys to section headings.
var componentTitles = map[string]string{
	ComponentDeps:      "Dependencies",
	ComponentPorts:     "Ports",
	ComponentEnv:       "Environment",
	ComponentServices:  "Services",
	ComponentReadiness: "Readiness",
}

// ReportRenderer writes a run report for humans.
type ReportRenderer struct {
	out     io.Writer
	verbose bool
}

// NewReportRenderer creates a renderer writing to stdout.
func NewReportRenderer(verbose bool) *ReportRenderer {
	return &ReportRenderer{out: os.Stdout, verbose: verbose}
}

// NewReportRendererWithWriter creates a renderer writing to w.
func NewReportRendererWithWriter(w io.Writer, verbose bool) *ReportRenderer {
	return &ReportRenderer{out: w, verbose: verbose}
}

// Render prints the full report: header, per-component sections,
// recommendations, and the tally.
func (r *ReportRenderer) Render(report *RunReport) {
	if ux.GetOutputMode() == ux.OutputMachine {
		r.renderMachine(report)
		return
	}

	fmt.Fprintln(r.out, ux.Styles.Title.Render(fmt.Sprintf("lapctl %s", report.Command)))
	fmt.Fprintln(r.out, ux.Styles.Muted.Render(fmt.Sprintf("run %s, started %s",
		shortRunID(report.ID), report.StartedAt().Format("2006-01-02 15:04:05"))))

	for _, component := range componentOrder(report) {
		fmt.Fprintf(r.out, "\n%s\n", ux.Styles.Subtitle.Render(componentTitle(component)))
		for _, check := range report.Checks {
			if check.Component != component {
				continue
			}
			r.renderCheck(check)
		}
	}

	r.renderRecommendations(report)
	r.renderTally(report)
}

// renderCheck prints one check line. PASS details only appear in
// verbose mode; WARN and FAIL always show what went wrong.
func (r *ReportRenderer) renderCheck(check CheckResult) {
	icon := statusIcon(check.Status)
	detail := check.Detail
	if check.Status == StatusPass && !r.verbose {
		detail = ""
	}
	if r.verbose && check.DurationMs > 0 {
		detail = strings.TrimSpace(fmt.Sprintf("%s [%dms]", detail, check.DurationMs))
	}

	if detail != "" {
		fmt.Fprintf(r.out, "  %s %s %s\n", icon.Render(), check.Name, ux.Styles.Muted.Render("("+detail+")"))
		return
	}
	fmt.Fprintf(r.out, "  %s %s\n", icon.Render(), check.Name)
}

// renderRecommendations prints the aggregated remediation hints.
func (r *ReportRenderer) renderRecommendations(report *RunReport) {
	recs := recommendations(report)
	if len(recs) == 0 {
		return
	}

	fmt.Fprintf(r.out, "\n%s\n", ux.Styles.Warning.Render("Recommendations"))
	for _, rec := range recs {
		fmt.Fprintf(r.out, "  %s %s\n", ux.Styles.Muted.Render(string(ux.IconBullet)), rec)
	}
}

// renderTally prints the run summary and duration.
func (r *ReportRenderer) renderTally(report *RunReport) {
	s := report.Summary
	fmt.Fprintf(r.out, "\n%s %s  %s %s  %s %s  %s %s\n",
		ux.Styles.Success.Render(fmt.Sprintf("%d", s.Passed)), ux.Styles.Muted.Render("passed"),
		ux.Styles.Error.Render(fmt.Sprintf("%d", s.Failed)), ux.Styles.Muted.Render("failed"),
		ux.Styles.Warning.Render(fmt.Sprintf("%d", s.Warnings)), ux.Styles.Muted.Render("warnings"),
		ux.Styles.Muted.Render(fmt.Sprintf("%d", s.Skipped)), ux.Styles.Muted.Render("skipped"))

	if report.Duration() > 0 {
		fmt.Fprintln(r.out, ux.Styles.Muted.Render(fmt.Sprintf("completed in %s", report.Duration().Round(10*time.Millisecond))))
	}
}

// renderMachine prints plain tab-separated lines for scripts that
// scrape the non-JSON output.
func (r *ReportRenderer) renderMachine(report *RunReport) {
	for _, check := range report.Checks {
		fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\n", check.Status, check.Component, check.Name, check.Detail)
	}
	s := report.Summary
	fmt.Fprintf(r.out, "SUMMARY\tpassed=%d\tfailed=%d\twarnings=%d\tskipped=%d\texit=%d\n",
		s.Passed, s.Failed, s.Warnings, s.Skipped, report.ExitCode)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// statusIcon maps a check status to its glyph.
func statusIcon(status Status) ux.Icon {
	switch status {
	case StatusPass:
		return ux.IconSuccess
	case StatusWarn:
		return ux.IconWarning
	case StatusFail:
		return ux.IconError
	default:
		return ux.IconSkipped
	}
}

// componentTitle returns the section heading for a component key.
func componentTitle(component string) string {
	if title, ok := componentTitles[component]; ok {
		return title
	}
	return component
}

// componentOrder returns the components in first-appearance order.
func componentOrder(report *RunReport) []string {
	seen := make(map[string]bool)
	var order []string
	for _, check := range report.Checks {
		if seen[check.Component] {
			continue
		}
		seen[check.Component] = true
		order = append(order, check.Component)
	}
	return order
}

// recommendations collects remediation hints from non-PASS checks,
// deduplicated, in check order.
func recommendations(report *RunReport) []string {
	seen := make(map[string]bool)
	var recs []string
	for _, check := range report.Checks {
		if check.Status == StatusPass || check.Remediation == "" {
			continue
		}
		if seen[check.Remediation] {
			continue
		}
		seen[check.Remediation] = true
		recs = append(recs, check.Remediation)
	}
	return recs
}

// shortRunID abbreviates a run UUID for the header line.
func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
