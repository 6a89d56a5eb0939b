package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with memory",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.engine.Synchronize(ctx); err != nil {
		return err
	}

	rlCfg := &readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	}
	if path, err := historyFile(); err == nil {
		rlCfg.HistoryFile = path
	}

	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return goerr.Wrap(err, "start readline")
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "Use '/memorize <info>' to store information, or ask questions like 'Where is my passport?'. Type 'exit' to quit.")

	var history []llm.Message
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "read input")
		}

		input := strings.TrimSpace(line)
		if input == "exit" || input == "quit" {
			break
		}

		reply, ok := chatTurn(ctx, a.engine, out, history, input)
		if ok {
			history = append(history, llm.User(input), llm.Assistant(reply))
		}
	}
	return nil
}

// chatTurn handles one line of input. It reports the assistant's reply when the
// model answered so the caller can extend the history.
func chatTurn(ctx context.Context, eng *engine.Engine, out io.Writer, history []llm.Message, input string) (string, bool) {
	if input == "" {
		fmt.Fprintln(out, "Please enter a command or question.")
		return "", false
	}

	if info, ok := engine.MemorizeCommand(input); ok {
		id, err := eng.Memorize(ctx, info)
		switch {
		case errors.Is(err, engine.ErrEmptyContent):
			fmt.Fprintln(out, "Nothing to memorize.")
		case err != nil && id == 0:
			fmt.Fprintf(out, "Could not store memory: %v\n", err)
		default:
			if err != nil {
				logging.From(ctx).Warn("memory not indexed yet", "id", id, "error", err)
			}
			fmt.Fprintf(out, "Memorized: %s\n", info)
		}
		return "", false
	}

	_, ch, err := eng.Ask(ctx, history, input)
	if err != nil {
		fmt.Fprintf(out, "Could not complete request: %v\n", err)
		return "", false
	}

	reply, err := streamReply(out, ch)
	if err != nil {
		fmt.Fprintf(out, "Could not complete request: %v\n", err)
		return "", false
	}
	return reply, true
}

// historyFile keeps readline history next to the config file.
func historyFile() (string, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(path), "history"), nil
}
