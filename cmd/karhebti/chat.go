package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	karhebti "github.com/karhebti/karhebti-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// chat conversations
	chatConversationsJSON bool

	// chat messages
	chatMessagesJSON bool

	// chat listen
	chatListenNoPoll bool
)

// ============================================================================
// chat
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Browse and follow conversations",
}

// ============================================================================
// chat conversations
// ============================================================================

var chatConversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convos, err := client.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatConversationsJSON {
			data, _ := json.MarshalIndent(convos, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(convos) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range convos {
			label := c.ID
			if c.Car != nil {
				label = fmt.Sprintf("%s %s (%s)", c.Car.Make, c.Car.Model, c.ID)
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d unread]", c.UnreadCount)
			}
			fmt.Printf("  %s - %s%s\n", label, c.Status, unread)
		}
		return nil
	},
}

// ============================================================================
// chat messages
// ============================================================================

var chatMessagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.Messages(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatMessagesJSON {
			data, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

// ============================================================================
// chat send
// ============================================================================

var chatSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, content := args[0], args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := client.SendMessage(ctx, conversationID, content)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

// ============================================================================
// chat listen
// ============================================================================

var chatListenCmd = &cobra.Command{
	Use:   "listen <conversation-id>",
	Short: "Follow a conversation live",
	Long: "Connect to the live channel, join the conversation, and print messages\n" +
		"as they arrive. While the channel is down, history is polled over REST\n" +
		"so no message is missed. Press Ctrl-C to stop.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client := getClient()

		registry := karhebti.NewRegistry(client, nil)

		// The poller is built after Acquire (it needs the client's store) but
		// state changes start firing during Acquire, so access is guarded.
		var pollerMu sync.Mutex
		var poller *karhebti.Poller

		handlers := &karhebti.ChatHandlers{
			OnMessage: func(m karhebti.ChatMessage) {
				if m.ConversationID == conversationID {
					printMessage(m)
				}
			},
			OnNotification: func(n karhebti.Notification) {
				fmt.Printf("  * %s: %s\n", n.Title, n.Message)
			},
			OnTyping: func(userID, convID string, typing bool) {
				if typing && convID == conversationID {
					fmt.Printf("  * %s is typing...\n", userID)
				}
			},
			OnStateChange: func(state karhebti.ConnectionState) {
				fmt.Printf("  * connection: %s\n", state)
				pollerMu.Lock()
				p := poller
				pollerMu.Unlock()
				if p == nil {
					return
				}
				switch state {
				case karhebti.StateConnected:
					p.Stop()
				case karhebti.StateReconnecting:
					p.Start()
				}
			},
			OnAuthError: func(err error) {
				fmt.Fprintf(os.Stderr, "Authentication rejected: %v\n", err)
			},
		}

		chat, err := registry.Acquire(context.Background(), handlers)
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer registry.Release()

		chat.Router().SetActiveConversation(conversationID)

		if !chatListenNoPoll {
			p := karhebti.NewPoller(client, chat.Store(), conversationID,
				karhebti.WithPollUpdateFunc(func(string) {
					fmt.Println("  * history refreshed")
				}))
			defer p.Stop()
			pollerMu.Lock()
			poller = p
			pollerMu.Unlock()
		}

		if err := chat.JoinConversation(context.Background(), conversationID); err != nil {
			fmt.Fprintf(os.Stderr, "Join deferred: %v\n", err)
		}

		fmt.Printf("Listening on %s (Ctrl-C to stop)\n", conversationID)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("Stopping.")
		return nil
	},
}

func printMessage(m karhebti.ChatMessage) {
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt, m.SenderID, m.Content)
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatConversationsCmd)
	chatCmd.AddCommand(chatMessagesCmd)
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatListenCmd)

	chatConversationsCmd.Flags().BoolVar(&chatConversationsJSON, "json", false, "Output raw JSON")
	chatMessagesCmd.Flags().BoolVar(&chatMessagesJSON, "json", false, "Output raw JSON")
	chatListenCmd.Flags().BoolVar(&chatListenNoPoll, "no-poll", false, "Disable the REST polling fallback")
}
