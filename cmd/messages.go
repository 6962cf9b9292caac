package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Messages-specific flags.
var (
	messagesOffset int
	messagesLimit  int
)

// messagesCmd represents the messages command.
var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessages,
}

func runMessages(cmd *cobra.Command, args []string) error {
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

	page, err := a.chats.Messages(cmd.Context(), chatID, messagesOffset, messagesLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range page.Items {
		speaker := text.FgCyan.Sprint("assistant")
		if m.IsUser {
			speaker = text.FgGreen.Sprint("you")
		}
		fmt.Fprintf(out, "[%d] %s: %s\n", m.ID, speaker, m.Text)
	}
	fmt.Fprintf(out, "Showing %d of %d messages (offset %d)\n",
		len(page.Items), page.Count, page.Offset)
	return nil
}

func init() {
	messagesCmd.Flags().IntVar(&messagesOffset, "offset", 0, "pagination offset")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 50, "page size")
	rootCmd.AddCommand(messagesCmd)
}
