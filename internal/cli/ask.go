package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/llm"
	"github.com/spf13/cobra"
)

var (
	askK            int
	askShowMemories bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt...]",
	Short: "Answer one question from stored memories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askK, "k", "k", 0, "Candidates per sub-query (overrides config)")
	askCmd.Flags().BoolVar(&askShowMemories, "show-memories", false, "Print the sub-queries and admitted memories before the answer")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if askK > 0 {
		cfg.Engine.K = askK
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.engine.Synchronize(ctx); err != nil {
		return err
	}

	turn, ch, err := a.engine.Ask(ctx, nil, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if askShowMemories {
		printTurn(cmd.ErrOrStderr(), turn)
	}

	_, err = streamReply(cmd.OutOrStdout(), ch)
	return err
}

func printTurn(w io.Writer, turn *engine.Turn) {
	fmt.Fprintf(w, "queries:\n")
	for _, q := range turn.Queries {
		fmt.Fprintf(w, "  - %s\n", q)
	}
	if len(turn.Memories) == 0 {
		fmt.Fprintf(w, "memories: none\n\n")
		return
	}
	fmt.Fprintf(w, "memories:\n")
	for _, m := range turn.Memories {
		fmt.Fprintf(w, "  - %s\n", m)
	}
	fmt.Fprintln(w)
}

// streamReply copies a streamed answer to w as it arrives and returns the full text.
func streamReply(w io.Writer, ch <-chan llm.Chunk) (string, error) {
	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			fmt.Fprintln(w)
			return b.String(), c.Err
		}
		b.WriteString(c.Delta)
		io.WriteString(w, c.Delta)
	}
	fmt.Fprintln(w)
	return b.String(), nil
}
