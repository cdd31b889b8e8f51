// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log"
	"log/slog"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/config"
	"github.com/AleutianAI/PryzmChat/pkg/logging"
	"github.com/spf13/cobra"
)

// appLogger owns the session log file. It is created once the config is
// loaded (see rootCmd.PersistentPreRun in commands.go) and closed on exit.
var appLogger *logging.Logger

func main() {
	defer closeLogger()
	defer PurgeSecureMemory()

	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// initLogging wires structured logging from the loaded configuration.
//
// Chat sessions run quiet so log lines never interleave with a streaming
// answer; everything still lands in the session log file.
func initLogging(cmd *cobra.Command) {
	appLogger = logging.New(logging.Config{
		Level:   logging.ParseLevel(config.Global.Logging.Level),
		LogDir:  config.Global.Logging.Dir,
		Service: "cli",
		Quiet:   cmd.Name() == "chat",
	})
	slog.SetDefault(appLogger.Slog())
}

func closeLogger() {
	if appLogger != nil {
		if err := appLogger.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
