// pulse-state inspects the loop's on-disk state: recent journal entries,
// artifact timestamps, and live cache keys.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/mkarlin/pulse/internal/artifacts"
	"github.com/mkarlin/pulse/internal/cache"
	"github.com/mkarlin/pulse/internal/journal"
)

func main() {
	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch cmd := os.Args[1]; cmd {
	case "cycles":
		handleCycles(statePath, os.Args[2:])
	case "artifacts":
		handleArtifacts(statePath, os.Args[2:])
	case "sweep":
		handleSweep(statePath)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pulse-state - inspect daily-life loop state

Usage:
  pulse-state cycles [n]              show the last n cycle records (default 10)
  pulse-state artifacts <character>   show last artifact timestamps
  pulse-state sweep                   drop expired cache keys

STATE_PATH selects the state directory (default: state)`)
}

func handleCycles(statePath string, args []string) {
	n := 10
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil {
			n = v
		}
	}

	jrnl := journal.New(statePath)
	entries, err := jrnl.ByType(journal.EntryCycle, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read journal: %v\n", err)
		os.Exit(1)
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Printf("%s  %-10s %s\n", e.Timestamp.Format("01-02 15:04:05"), e.Character, e.Summary)
	}
}

func handleArtifacts(statePath string, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: pulse-state artifacts <character-id>")
		os.Exit(1)
	}
	characterID := args[0]

	store, err := artifacts.Open(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open artifacts: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	for _, t := range []string{artifacts.TypeDiary, artifacts.TypeDream, artifacts.TypeGoalReview} {
		ts, err := store.LastTimestamp(ctx, characterID, t)
		switch {
		case err != nil:
			fmt.Printf("%-12s error: %v\n", t, err)
		case ts == nil:
			fmt.Printf("%-12s never\n", t)
		default:
			fmt.Printf("%-12s %s\n", t, ts.Format("2006-01-02 15:04:05"))
		}
	}
}

func handleSweep(statePath string) {
	store, err := cache.Open(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open cache: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := store.Sweep(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d expired keys\n", n)
}
