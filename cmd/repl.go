package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// replCmd represents the interactive chat loop.
var replCmd = &cobra.Command{
	Use:   "repl [chat-id]",
	Short: "Chat interactively with the assistant",
	Long: `Start an interactive chat session.

Without a chat id, a new conversation is created. Each line you enter
is sent as a message; the assistant's reply is printed when it arrives.
Exit with Ctrl-D or /quit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepl,
}

func runRepl(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.ensureSession(cmd.Context()); err != nil {
		return err
	}

	var chatID int64
	if len(args) == 1 {
		chatID, err = parseChatID(args[0])
		if err != nil {
			return err
		}
		c, err := a.chats.GetChat(cmd.Context(), chatID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resuming chat %d: %s\n", c.ID, c.Subject)
	} else {
		c, err := a.chats.CreateChat(cmd.Context(), "New chat")
		if err != nil {
			return err
		}
		chatID = c.ID
		fmt.Fprintf(cmd.OutOrStdout(), "Started chat %d\n", c.ID)
	}

	rl, err := readline.New(text.FgGreen.Sprint("you> "))
	if err != nil {
		return fmt.Errorf("failed to initialize input: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		msgID, err := a.chats.Ask(cmd.Context(), chatID, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, text.FgRed.Sprint("error: ")+err.Error())
			continue
		}

		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Start()
		reply, err := a.chats.WaitForReply(cmd.Context(), chatID, msgID)
		s.Stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, text.FgRed.Sprint("error: ")+err.Error())
			continue
		}

		fmt.Fprintln(cmd.OutOrStdout(), text.FgCyan.Sprint("assistant> ")+reply.Text)
	}
}

func init() {
	rootCmd.AddCommand(replCmd)
}
