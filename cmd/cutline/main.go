package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "0.1.0"

var (
	envFile string
	userID  int64
)

var rootCmd = &cobra.Command{
	Use:   "cutline",
	Short: "Local natural-language video editor",
	Long: `Cutline applies plain-English edit commands ("trim from 5 to 10",
"mute", "add caption Hello") to an uploaded video and keeps one preview
file per edit kind.

Running without a subcommand starts the HTTP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	for _, cmd := range []*cobra.Command{runCmd, historyCmd, clearEditsCmd, clearHistoryCmd} {
		cmd.Flags().Int64VarP(&userID, "user", "u", 0, "user id")
		cmd.MarkFlagRequired("user")
	}
	runCmd.Flags().StringVar(&videoPath, "video", "", "source video (default: the user's active upload)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearEditsCmd)
	rootCmd.AddCommand(clearHistoryCmd)
	rootCmd.AddCommand(addUserCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvFile populates the environment from a dotenv file. Variables already
// set win, and a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
