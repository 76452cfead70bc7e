package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pcbrecon-backend/pkg/client"
)

var chatMessage string

var chatCmd = &cobra.Command{
	Use:   "chat <project-id>",
	Short: "Chat about a board",
	Long: `Ask questions about a project's board. With --message a single turn
is sent; otherwise an interactive session starts. In a session, type
/retry to resend the last failed message and /quit to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProjectID(args[0])
		if err != nil {
			return err
		}

		conv := newClient().Conversation(id)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = conv.Reconcile(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("load chat: %w", err)
		}

		out := cmd.OutOrStdout()
		if chatMessage != "" {
			return sendTurn(out, conv, chatMessage)
		}

		for _, e := range conv.Entries() {
			printMessage(out, e.Sender, e.Message)
		}
		return chatLoop(cmd.InOrStdin(), out, conv)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
}

func chatLoop(in io.Reader, out io.Writer, conv *client.Conversation) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/retry":
			failed := lastFailed(conv)
			if failed == "" {
				fmt.Fprintln(out, "Nothing to retry.")
				continue
			}
			retryTurn(out, conv, failed)
			continue
		}

		if err := sendTurn(out, conv, line); err != nil {
			fmt.Fprintf(out, "! %v (type /retry to resend)\n", err)
		}
	}
}

func sendTurn(out io.Writer, conv *client.Conversation, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := conv.Send(ctx, message)
	if err != nil {
		return describeChatError(err)
	}
	printMessage(out, reply.Sender, reply.Message)
	return nil
}

func retryTurn(out io.Writer, conv *client.Conversation, localID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := conv.Retry(ctx, localID)
	if err != nil {
		fmt.Fprintf(out, "! %v\n", describeChatError(err))
		return
	}
	printMessage(out, reply.Sender, reply.Message)
}

func lastFailed(conv *client.Conversation) string {
	entries := conv.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].State == client.EntryFailed {
			return entries[i].LocalID
		}
	}
	return ""
}

func describeChatError(err error) error {
	var nerr *client.NetworkError
	switch {
	case errors.Is(err, client.ErrTurnInFlight):
		return errors.New("another message for this board is still being answered")
	case errors.As(err, &nerr):
		return fmt.Errorf("could not reach the server: %w", nerr.Err)
	default:
		return err
	}
}

func printMessage(w io.Writer, sender client.Sender, message string) {
	label := "you"
	if sender == client.SenderBot {
		label = "bot"
	}
	fmt.Fprintf(w, "%s> %s\n", label, message)
}
