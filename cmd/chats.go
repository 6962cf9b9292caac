package cmd

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	pkgstrings "tmachat/pkg/strings"
)

// Chats-specific flags.
var (
	chatsOffset int
	chatsLimit  int
	chatsAll    bool
)

// chatsCmd represents the chats command group.
var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage conversations",
	Long: `Manage conversations on the chat backend.

Examples:
  tmachat chats list                 # List conversations (first page)
  tmachat chats list --all           # List all conversations
  tmachat chats create "Groceries"   # Create a conversation
  tmachat chats rename 42 "Plans"    # Rename conversation 42
  tmachat chats rm 42                # Delete conversation 42`,
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runChatsList,
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create [subject]",
	Short: "Create a conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChatsCreate,
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <chat-id> <subject>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE:  runChatsRename,
}

var chatsRemoveCmd = &cobra.Command{
	Use:     "rm <chat-id>",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete a conversation",
	Args:    cobra.ExactArgs(1),
	RunE:    runChatsRemove,
}

func runChatsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.ensureSession(cmd.Context()); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"ID", "Subject"})

	if chatsAll {
		chats, err := a.chats.ListAllChats(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range chats {
			t.AppendRow(table.Row{c.ID, pkgstrings.TruncateSubject(c.Subject, pkgstrings.DefaultSubjectMaxLen)})
		}
		t.Render()
		fmt.Fprintf(cmd.OutOrStdout(), "%d conversations\n", len(chats))
		return nil
	}

	page, err := a.chats.ListChats(cmd.Context(), chatsOffset, chatsLimit)
	if err != nil {
		return err
	}
	for _, c := range page.Items {
		t.AppendRow(table.Row{c.ID, pkgstrings.TruncateSubject(c.Subject, pkgstrings.DefaultSubjectMaxLen)})
	}
	t.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "Showing %d of %d conversations (offset %d)\n",
		len(page.Items), page.Count, page.Offset)
	return nil
}

func runChatsCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.ensureSession(cmd.Context()); err != nil {
		return err
	}

	subject := "New chat"
	if len(args) == 1 {
		subject = args[0]
	}

	c, err := a.chats.CreateChat(cmd.Context(), subject)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created chat %d: %s\n", c.ID, c.Subject)
	return nil
}

func runChatsRename(cmd *cobra.Command, args []string) error {
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

	c, err := a.chats.RenameChat(cmd.Context(), chatID, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed chat %d to %q\n", c.ID, c.Subject)
	return nil
}

func runChatsRemove(cmd *cobra.Command, args []string) error {
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

	if err := a.chats.RemoveChat(cmd.Context(), chatID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %d\n", chatID)
	return nil
}

func parseChatID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", arg)
	}
	return id, nil
}

func init() {
	chatsListCmd.Flags().IntVar(&chatsOffset, "offset", 0, "pagination offset")
	chatsListCmd.Flags().IntVar(&chatsLimit, "limit", 50, "page size")
	chatsListCmd.Flags().BoolVar(&chatsAll, "all", false, "fetch every page")

	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsCreateCmd)
	chatsCmd.AddCommand(chatsRenameCmd)
	chatsCmd.AddCommand(chatsRemoveCmd)
	rootCmd.AddCommand(chatsCmd)
}
