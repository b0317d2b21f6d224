package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitsocial/internal/config"
	"fitsocial/internal/middleware"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	server string
	user   string
	token  string
	search string
	count  int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a user's live notifications",
		Long: `Connect to the notification websocket as a user and print every frame.

Either pass --token, or --user to mint one with the configured secret.
--search sends a debounced candidate search once connected.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "ws://localhost:8375", "server base URL")
	cmd.Flags().StringVar(&opts.user, "user", "", "user id to mint a token for")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token to connect with")
	cmd.Flags().StringVar(&opts.search, "search", "", "search term to send after connecting")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "exit after this many frames (0 runs until interrupted)")

	return cmd
}

func watchURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func runWatch(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions, opts *watchOptions) error {
	token := opts.token
	if token == "" {
		if opts.user == "" {
			return errors.New("either --token or --user is required")
		}
		secret := rootOpts.Secret
		if secret == "" {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			secret = cfg.JWTSecret
		}
		var err error
		if token, err = middleware.IssueToken(secret, opts.user, time.Hour); err != nil {
			return err
		}
	}

	target, err := watchURL(opts.server, token)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return fmt.Errorf("dial %s: %w (status %d)", opts.server, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", opts.server, err)
	}
	defer func() { _ = conn.Close() }()

	// unblock ReadMessage on interrupt
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	if opts.search != "" {
		if err := conn.WriteJSON(map[string]string{"type": "search", "term": opts.search}); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for received := 0; opts.count == 0 || received < opts.count; received++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(out, string(msg)); err != nil {
			return err
		}
	}
	return nil
}
