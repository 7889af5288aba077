// Copyright (C) 2025 Local AI Packaged contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	outputMode    string // CLI override for output style (rich/minimal/machine)
	stackDir      string // CLI override for stack.dir
	jsonOutput    bool
	compactOutput bool
	quietOutput   bool
	verboseOutput bool
	assumeYes     bool

	deployType          string
	deployDomain        string
	deployEmail         string
	hardwareProfile     string
	deployEnvironment   string
	portPolicy          string
	dryRun              bool
	forceRecreate       bool
	skipImagePull       bool
	skipCleanup         bool
	autoFix             bool
	concurrentReadiness bool
	timeoutSeconds      int

	envFilePath string

	exportOut string
	uploadAll bool

	rootCmd = &cobra.Command{
		Use:   "lapctl",
		Short: "A cli to validate and launch the local AI stack",
		Long: `lapctl checks a host, its ports and its environment file before
				bringing up the local AI compose stack (Supabase, n8n, Neo4j,
				Qdrant, Ollama, Open WebUI and friends), then polls every
				service until it answers. Each run produces a report with one
				result per check and an exit code scripts can branch on.`,
		// main prints the error once; cobra printing it too doubles
		// every failure message.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// --- Deployment ---
	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Validate the host and bring up the full stack",
		Run:   runDeploy, // Defined in cmd_deploy.go
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Run the host, port and environment checks without starting anything",
		Run:   runValidate, // Defined in cmd_deploy.go
	}
	portsCmd = &cobra.Command{
		Use:   "ports",
		Short: "Scan the stack ports for conflicts",
		Run:   runPorts, // Defined in cmd_deploy.go
	}

	// --- Environment File ---
	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Inspect and repair the stack environment file",
	}
	envCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate required keys and credential strength in the env file",
		Run:   runEnvCheck, // Defined in cmd_env.go
	}
	envFixCmd = &cobra.Command{
		Use:   "fix",
		Short: "Generate strong values for missing or weak credentials",
		Run:   runEnvFix, // Defined in cmd_env.go
	}

	// --- Stack Lifecycle ---
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the stack's containers without removing them",
		Run:   runStop, // Defined in cmd_stack.go
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy",
		Short: "DANGER: Removes the stack's containers AND volumes",
		Run:   runDestroy, // Defined in cmd_stack.go
	}

	// --- Reports ---
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Work with archived run reports",
	}
	reportShowCmd = &cobra.Command{
		Use:   "show [report-file]",
		Short: "Render an archived report (latest when no file is named)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runReportShow, // Defined in cmd_report.go
	}
	reportExportCmd = &cobra.Command{
		Use:   "export [report-file]",
		Short: "Write an archived report's JSON to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		Run:   runReportExport, // Defined in cmd_report.go
	}
	reportUploadCmd = &cobra.Command{
		Use:   "upload [report-file]",
		Short: "Upload archived reports to the configured GCS bucket",
		Args:  cobra.MaximumNArgs(1),
		Run:   runReportUpload, // Defined in cmd_report.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the lapctl version",
		Run:   runVersion, // Defined in cmd_report.go
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&outputMode, "output", "",
		"Output style: rich (default), minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&stackDir, "stack-dir", "",
		"Compose stack directory (overrides the configured stack.dir)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit a machine-readable result envelope on stdout")
	rootCmd.PersistentFlags().BoolVar(&compactOutput, "compact", false, "JSON output without indentation")
	rootCmd.PersistentFlags().BoolVarP(&quietOutput, "quiet", "q", false, "No output, exit code only")
	rootCmd.PersistentFlags().BoolVarP(&verboseOutput, "verbose", "v", false, "Show every check including passes, and debug logs")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Assume yes on every prompt (non-interactive)")

	// --- Deployment Commands ---
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().StringVar(&deployType, "type", "local", "Deployment type: local, development or production")
	deployCmd.Flags().StringVar(&deployDomain, "domain", "", "Public hostname base for production deployments")
	deployCmd.Flags().StringVar(&deployEmail, "email", "", "ACME/alert contact for production deployments")
	deployCmd.Flags().StringVar(&hardwareProfile, "profile", "cpu", "Ollama hardware profile: cpu, gpu-nvidia, gpu-amd or none")
	deployCmd.Flags().StringVar(&deployEnvironment, "env", "private", "Override file selection: private or public")
	deployCmd.Flags().StringVar(&portPolicy, "port-policy", "", "Port conflict policy: warn, prompt or strict (default from config)")
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log every compose command without executing anything")
	deployCmd.Flags().BoolVar(&forceRecreate, "force-recreate", false, "Recreate containers even when their config is unchanged")
	deployCmd.Flags().BoolVar(&skipImagePull, "skip-image-pull", false, "Start from local images only")
	deployCmd.Flags().BoolVar(&skipCleanup, "skip-cleanup", false, "Leave previous project containers in place before startup")
	deployCmd.Flags().BoolVar(&autoFix, "auto-fix", false, "Repair missing or weak env credentials before validating")
	deployCmd.Flags().BoolVar(&concurrentReadiness, "concurrent-readiness", false, "Poll every service endpoint at once instead of in order")
	deployCmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Overall run ceiling in seconds (0 = no ceiling)")

	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Overall run ceiling in seconds (0 = no ceiling)")

	rootCmd.AddCommand(portsCmd)

	// --- Environment Commands ---
	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envCheckCmd)
	envCmd.AddCommand(envFixCmd)
	envCmd.PersistentFlags().StringVar(&envFilePath, "env-file", "",
		"Environment file path (overrides stack.dir/stack.env_file)")

	// --- Stack Lifecycle Commands ---
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(destroyCmd)

	// --- Report Commands ---
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportExportCmd)
	reportExportCmd.Flags().StringVar(&exportOut, "out", "", "Destination file (default stdout)")
	reportCmd.AddCommand(reportUploadCmd)
	reportUploadCmd.Flags().BoolVar(&uploadAll, "all", false, "Upload the whole report archive instead of one report")

	rootCmd.AddCommand(versionCmd)
}
