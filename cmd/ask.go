package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// Ask-specific flags.
var (
	askWait    bool
	askTimeout time.Duration
	askFiles   []string
)

// askCmd represents the ask command.
var askCmd = &cobra.Command{
	Use:   "ask <chat-id> <text>",
	Short: "Send a message and wait for the assistant's reply",
	Long: `Send a message to a conversation.

By default the command waits for the assistant's reply and prints it.
Use --wait=false to return immediately after the message is accepted.

Examples:
  tmachat ask 42 "What's for dinner?"
  tmachat ask 42 "Summarize this" --file notes.txt
  tmachat ask 42 "ping" --wait=false`,
	Args: cobra.ExactArgs(2),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.ensureSession(cmd.Context()); err != nil {
		return err
	}

	chatID, err := parseChatID(args[0])
	if err != nil {
		return err
	}

	if len(askFiles) > 0 {
		if _, err := a.chats.UploadFiles(cmd.Context(), askFiles); err != nil {
			return fmt.Errorf("file upload failed: %w", err)
		}
	}

	msgID, err := a.chats.Ask(cmd.Context(), chatID, args[1])
	if err != nil {
		return err
	}

	if !askWait {
		fmt.Fprintf(cmd.OutOrStdout(), "Message %d sent\n", msgID)
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " waiting for reply..."
	s.Start()

	waitCtx, cancel := contextWithOptionalTimeout(cmd, askTimeout)
	defer cancel()

	reply, err := a.chats.WaitForReply(waitCtx, chatID, msgID)
	s.Stop()
	if err != nil {
		return fmt.Errorf("no reply received: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
	return nil
}

func init() {
	askCmd.Flags().BoolVar(&askWait, "wait", true, "wait for the assistant's reply")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "how long to wait for a reply (0 = no limit)")
	askCmd.Flags().StringSliceVar(&askFiles, "file", nil, "attach a local file (repeatable)")
	rootCmd.AddCommand(askCmd)
}
