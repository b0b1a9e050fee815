package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cutline/cutline/internal/artifacts"
	"github.com/cutline/cutline/internal/intent"
)

var videoPath string

var runCmd = &cobra.Command{
	Use:   "run <command>",
	Short: "Apply one edit command and print the response",
	Long: `Apply a single natural-language edit command for a user, exactly as the
chat endpoint would, and print the response and the artifact flags.

Examples:
  cutline run --user 1 "trim from 5 to 10"
  cutline run --user 1 --video ./clip.mp4 "add caption Hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print a user's command history",
	RunE:  showHistory,
}

var clearEditsCmd = &cobra.Command{
	Use:   "clear-edits",
	Short: "Delete every derived artifact of a user",
	RunE:  clearEdits,
}

var clearHistoryCmd = &cobra.Command{
	Use:   "clear-history",
	Short: "Delete a user's command history",
	RunE:  clearHistory,
}

var addUserCmd = &cobra.Command{
	Use:   "adduser <name>",
	Short: "Register a user and print its bearer token",
	Args:  cobra.ExactArgs(1),
	RunE:  addUser,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report which media tools are installed",
	RunE:  runDoctor,
}

func runCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := requireUser(ctx, a); err != nil {
		return err
	}

	command := strings.Join(args, " ")
	var (
		response string
		flags    artifacts.Flags
	)
	if videoPath != "" {
		abs, err := filepath.Abs(videoPath)
		if err != nil {
			return err
		}
		res := a.dispatcher.Dispatch(ctx, userID, intent.Parse(command), abs)
		response = res.Message
		flags = a.dispatcher.Snapshot(ctx, userID)
	} else {
		reply := a.dispatcher.Submit(ctx, userID, command)
		response = reply.Response
		flags = reply.Artifacts
	}

	fmt.Println(response)
	for _, kind := range artifacts.Kinds {
		mark := " "
		if flags[kind] {
			mark = "x"
		}
		fmt.Printf("  [%s] %-8s %s\n", mark, kind, a.tracker.Path(userID, kind))
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.history.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No commands yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  > %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Command)
		fmt.Printf("%21s%s\n", "", e.Response)
	}
	return nil
}

func clearEdits(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	msg, report, err := a.dispatcher.ClearEdits(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	for _, f := range report.Failed {
		fmt.Fprintf(os.Stderr, "  could not delete %s: %s\n", f.Name, f.Error)
	}
	return nil
}

func clearHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.history.Clear(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	fmt.Printf("Removed %d entries.\n", n)
	return nil
}

func addUser(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.catalog.RegisterUser(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("User:  %s (id %d)\n", user.Username, user.ID)
	fmt.Printf("Token: %s\n", user.Token)
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	caps, err := engine.ProbeTools(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(caps)
}

func requireUser(ctx context.Context, a *app) error {
	user, err := a.catalog.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user with id %d", userID)
	}
	return nil
}
