package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/garagebot/signalchat/internal/channel"
	"github.com/garagebot/signalchat/internal/chat"
	"github.com/garagebot/signalchat/internal/client"
	"github.com/garagebot/signalchat/internal/message"
)

var (
	serverHost  string
	username    string
	secure      bool
	verbose     bool
	backoffBase time.Duration
	backoffCap  time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "signalchat",
	Short: "SignalChat terminal client",
	Long: `signalchat connects to a SignalChat server, joins channels, and
relays messages between your terminal and the chat.

Commands at the prompt:
  /channels            list channels
  /join <name>         join a channel and make it current
  /leave               leave the current channel
  /edit <id> <text>    edit one of your messages
  /delete <id>         delete one of your messages
  /react <id> <emoji>  react to a message
  /quit                exit
anything else is sent to the current channel.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverHost, "server", "s", "localhost:8080", "server host:port")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "display name (anonymous when empty)")
	rootCmd.PersistentFlags().BoolVar(&secure, "secure", false, "use https/wss")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&backoffBase, "backoff-base", time.Second, "initial reconnect delay")
	rootCmd.PersistentFlags().DurationVar(&backoffCap, "backoff-cap", 30*time.Second, "maximum reconnect delay")
}

func httpBase() string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://" + serverHost
}

// createSession obtains a token from POST /api/session.
func createSession() (token, userID string, err error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(httpBase()+"/api/session", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("create session: server returned %s", resp.Status)
	}

	var sess struct {
		Token    string `json:"token"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", "", fmt.Errorf("decode session: %w", err)
	}
	username = sess.Username
	return sess.Token, sess.UserID, nil
}

// fetchChannels lists the server's channels over REST.
func fetchChannels() ([]*channel.Channel, error) {
	resp, err := http.Get(httpBase() + "/api/channels")
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer resp.Body.Close()

	var channels []*channel.Channel
	if err := json.NewDecoder(resp.Body).Decode(&channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return channels, nil
}

// wireMessage is a frame embedding a full message.
type wireMessage struct {
	Type    string           `json:"type"`
	Message *message.Message `json:"message"`
}

func printEvent(ev chat.Event) {
	switch ev.Type {
	case chat.EventNewMessage, chat.EventNewDM:
		var frame wireMessage
		if json.Unmarshal(ev.Data, &frame) != nil || frame.Message == nil {
			return
		}
		prefix := ""
		if ev.Type == chat.EventNewDM {
			prefix = "[dm] "
		}
		fmt.Printf("%s%s <%s> %s  (id %s)\n",
			prefix, frame.Message.CreatedAt.Local().Format("15:04"),
			frame.Message.Username, frame.Message.Content, frame.Message.ID)
	case chat.EventMessageEdited:
		var frame chat.MessageEdited
		if json.Unmarshal(ev.Data, &frame) == nil {
			fmt.Printf("* message %s edited: %s\n", frame.MessageID, frame.Content)
		}
	case chat.EventMessageDeleted:
		var frame chat.MessageDeleted
		if json.Unmarshal(ev.Data, &frame) == nil {
			fmt.Printf("* message %s deleted\n", frame.MessageID)
		}
	case chat.EventReactionAdded:
		var frame chat.ReactionAdded
		if json.Unmarshal(ev.Data, &frame) == nil {
			fmt.Printf("* %s reacted %s to %s\n", frame.Username, frame.Emoji, frame.MessageID)
		}
	case chat.EventReactionRemoved:
		var frame chat.ReactionRemoved
		if json.Unmarshal(ev.Data, &frame) == nil {
			fmt.Printf("* reaction %s removed from %s\n", frame.Emoji, frame.MessageID)
		}
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	token, _, err := createSession()
	if err != nil {
		return err
	}
	fmt.Printf("connected as %s\n", username)

	channels, err := fetchChannels()
	if err != nil {
		return err
	}
	byName := make(map[string]*channel.Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name] = ch
	}

	// current is read from the connection's read loop (OnConnect) and
	// written from the stdin loop.
	var (
		curMu   sync.Mutex
		current *channel.Channel
	)
	getCurrent := func() *channel.Channel {
		curMu.Lock()
		defer curMu.Unlock()
		return current
	}
	setCurrent := func(ch *channel.Channel) {
		curMu.Lock()
		current = ch
		curMu.Unlock()
	}

	wsURL := client.Endpoint(serverHost, secure) + "?token=" + token
	var c *client.Client
	c = client.New(wsURL,
		client.WithLogger(logger),
		client.WithBackoff(client.Backoff{Base: backoffBase, Cap: backoffCap}),
		client.WithHandlers(client.Handlers{
			OnMessage: printEvent,
			OnTyping: func(ev chat.Event) {
				var frame chat.UserTyping
				if json.Unmarshal(ev.Data, &frame) == nil {
					fmt.Printf("* %s is typing...\n", frame.Username)
				}
			},
			OnPresence: func(ev chat.Event) {
				var frame chat.PresenceUpdate
				if json.Unmarshal(ev.Data, &frame) == nil {
					fmt.Printf("* %s is %s\n", frame.Username, frame.Status)
				}
			},
			OnConnect: func() {
				// The hub does not replay missed traffic, so re-join
				// the current channel on every (re)connect.
				if ch := getCurrent(); ch != nil {
					c.JoinChannel(ch.ID)
				}
			},
			OnDisconnect: func() {
				fmt.Println("* connection lost, retrying...")
			},
		}))
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.Connect(ctx); err != nil {
		fmt.Printf("* initial connect failed (%v), retrying in background\n", err)
	}

	go func() {
		<-ctx.Done()
		c.Close()
		os.Stdin.Close()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			ch := getCurrent()
			if ch == nil {
				fmt.Println("! join a channel first: /join <name>")
				continue
			}
			c.SendMessage(ch.ID, line, "")
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return nil
		case "/channels":
			for _, ch := range channels {
				marker := " "
				if ch.Locked {
					marker = "🔒"
				}
				fmt.Printf("  %s %s - %s\n", marker, ch.Name, ch.Description)
			}
		case "/join":
			if len(fields) < 2 {
				fmt.Println("! usage: /join <name>")
				continue
			}
			ch, ok := byName[fields[1]]
			if !ok {
				fmt.Printf("! no channel named %q\n", fields[1])
				continue
			}
			setCurrent(ch)
			c.JoinChannel(ch.ID)
			fmt.Printf("* now talking in #%s\n", ch.Name)
		case "/leave":
			ch := getCurrent()
			if ch == nil {
				continue
			}
			c.LeaveChannel(ch.ID)
			fmt.Printf("* left #%s\n", ch.Name)
			setCurrent(nil)
		case "/edit":
			if len(fields) < 3 {
				fmt.Println("! usage: /edit <id> <text>")
				continue
			}
			c.EditMessage(fields[1], strings.Join(fields[2:], " "))
		case "/delete":
			if len(fields) < 2 {
				fmt.Println("! usage: /delete <id>")
				continue
			}
			channelID := ""
			if ch := getCurrent(); ch != nil {
				channelID = ch.ID
			}
			c.DeleteMessage(fields[1], channelID)
		case "/react":
			if len(fields) < 3 {
				fmt.Println("! usage: /react <id> <emoji>")
				continue
			}
			channelID := ""
			if ch := getCurrent(); ch != nil {
				channelID = ch.ID
			}
			c.AddReaction(fields[1], fields[2], channelID)
		default:
			fmt.Printf("! unknown command %s\n", fields[0])
		}
	}
	return scanner.Err()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
