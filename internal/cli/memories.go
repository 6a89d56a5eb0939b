package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lazypower/recall/internal/engine"
	"github.com/spf13/cobra"
)

var memorizeCmd = &cobra.Command{
	Use:   "memorize [text...]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemorize,
}

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List stored memories, newest first",
	Args:  cobra.NoArgs,
	RunE:  runMemories,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index any stored memories missing from the vector index",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runMemorize(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	info := strings.TrimSpace(strings.Join(args, " "))
	out := cmd.OutOrStdout()

	id, err := a.engine.Memorize(cmd.Context(), info)
	switch {
	case errors.Is(err, engine.ErrEmptyContent):
		fmt.Fprintln(cmd.ErrOrStderr(), "Nothing to memorize.")
		return nil
	case err != nil && id > 0:
		fmt.Fprintf(out, "Memorized: %s\n", info)
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: memory %d not indexed yet (%v); run `recall sync`\n", id, err)
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintf(out, "Memorized: %s\n", info)
	return nil
}

func runMemories(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	memories, err := a.engine.Store.ListAll(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(memories) == 0 {
		fmt.Fprintln(out, "No memories stored yet.")
		return nil
	}
	for i, m := range memories {
		fmt.Fprintf(out, "%d. %s\n", i+1, m.Content)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Synchronize(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d memories: %d indexed, %d already indexed, %d failed\n",
		report.Total, report.Indexed, report.Skipped, report.Failed)
	if report.Stale > 0 {
		fmt.Fprintf(out, "%d re-embedded with %s\n", report.Stale, a.engine.Embedder.Model())
	}
	return nil
}
