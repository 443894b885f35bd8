package wordlectl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"wordle/server/internal/client"
	"wordle/server/internal/config"
	"wordle/server/internal/fanout"
	"wordle/server/internal/protocol"
	"wordle/server/internal/rpc"
)

type options struct {
	tcpAddr   string
	grpcAddr  string
	secret    string
	timeout   time.Duration
	multicast string
	encoding  string
	username  string
	password  string
}

// NewRootCmd builds the wordlectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "wordlectl",
		Short:         "Operate and play against a wordle server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.tcpAddr, "tcp", "127.0.0.1"+config.DefaultTCPAddr, "game server address")
	flags.StringVar(&opts.grpcAddr, "grpc", "127.0.0.1"+config.DefaultGRPCAddr, "control plane address")
	flags.StringVar(&opts.secret, "secret", os.Getenv("WORDLE_GRPC_SHARED_SECRET"), "control plane shared secret")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")

	rootCmd.AddCommand(newRegisterCmd(opts))
	rootCmd.AddCommand(newSubscribeCmd(opts))
	rootCmd.AddCommand(newListenCmd(opts))
	rootCmd.AddCommand(newPlayCmd(opts))
	return rootCmd
}

func (o *options) dialControl() (*rpc.Client, func(), error) {
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if o.secret != "" {
		dialOpts = append(dialOpts, rpc.WithSharedSecret(o.secret), rpc.WithSharedSecretStream(o.secret))
	}
	conn, err := grpc.NewClient(o.grpcAddr, dialOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial control plane: %w", err)
	}
	return rpc.NewClient(conn), func() { conn.Close() }, nil
}

func newRegisterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, closeFn, err := opts.dialControl()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			res, err := ctl.Register(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if res.Status != rpc.StatusSuccess {
				return fmt.Errorf("register %s: %s %s", args[0], res.Status, res.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", args[0])
			return nil
		},
	}
}

func newSubscribeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Stream top leaderboard changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, closeFn, err := opts.dialControl()
			if err != nil {
				return err
			}
			defer closeFn()
			sub, err := ctl.Subscribe(cmd.Context(), opts.encoding)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subscribed as %s (%s)\n", sub.ID, sub.Encoding)
			for {
				rows, err := sub.Recv()
				if err != nil {
					if errors.Is(err, io.EOF) || cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				fmt.Fprintf(out, "-- %s\n", time.Now().Format(time.TimeOnly))
				WriteStandings(out, rows)
			}
		},
	}
	cmd.Flags().StringVar(&opts.encoding, "encoding", rpc.EncodingIdentity, "payload codec: "+strings.Join(rpc.Encodings(), ", "))
	return cmd
}

func newListenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print games shared on the multicast group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listener, err := fanout.ListenMulticast(opts.multicast, nil)
			if err != nil {
				return err
			}
			defer listener.Close()
			out := cmd.OutOrStdout()
			for {
				shared, err := listener.Receive(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					if errors.Is(err, protocol.ErrMalformed) {
						fmt.Fprintf(cmd.ErrOrStderr(), "skipping datagram: %v\n", err)
						continue
					}
					return err
				}
				WriteShared(out, shared)
			}
		},
	}
	cmd.Flags().StringVar(&opts.multicast, "group", config.DefaultMulticastAddr, "multicast group address")
	return cmd
}

func newPlayCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play today's word, one guess per input line",
		Long: "Logs in, starts a round and reads guesses from stdin. Lines starting with ':' " +
			"are commands: :stats, :top, :board, :share, :quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.username == "" || opts.password == "" {
				return errors.New("--user and --password are required")
			}
			ctx := cmd.Context()
			dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
			c, err := client.Dial(dialCtx, opts.tcpAddr)
			cancel()
			if err != nil {
				return err
			}
			defer c.Close()
			return Play(ctx, c, opts.username, opts.password, cmd.InOrStdin(), cmd.OutOrStdout(), opts.timeout)
		},
	}
	cmd.Flags().StringVar(&opts.username, "user", "", "account username")
	cmd.Flags().StringVar(&opts.password, "password", "", "account password")
	return cmd
}

// Play drives one interactive session over c.
func Play(ctx context.Context, c *client.Client, username, password string, in io.Reader, out io.Writer, timeout time.Duration) error {
	call := func() (context.Context, context.CancelFunc) { return context.WithTimeout(ctx, timeout) }

	//1.- Authenticate and start the round.
	rctx, cancel := call()
	st, err := c.Login(rctx, username, password)
	cancel()
	if err != nil {
		return err
	}
	if st != protocol.StatusSuccess {
		return fmt.Errorf("login: %s", st)
	}
	defer func() {
		lctx, cancel := call()
		_, _ = c.Logout(lctx)
		cancel()
	}()

	rctx, cancel = call()
	play, err := c.Play(rctx)
	cancel()
	if err != nil {
		return err
	}
	playing := false
	switch play.Status {
	case protocol.StatusSuccess:
		playing = true
		fmt.Fprintf(out, "word of %d letters, %d tries\n", play.WordLen, play.Tries)
	case protocol.StatusAlreadyPlayed:
		fmt.Fprintf(out, "already played, next word in %s\n", play.Wait.Round(time.Second))
	default:
		return fmt.Errorf("play: %s", play.Status)
	}

	//2.- Read guesses and commands until input ends.
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			quit, err := runCommand(ctx, c, line, out, call)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
			continue
		}
		if !playing {
			fmt.Fprintln(out, "no round in progress")
			continue
		}
		rctx, cancel := call()
		res, err := c.SendWord(rctx, line)
		cancel()
		if err != nil {
			return err
		}
		switch res.Status {
		case protocol.StatusSuccess:
			fmt.Fprintf(out, "%s  (%d left)\n", RenderHint(line, res.Guess.Hint), res.Guess.TriesLeft)
			if res.Guess.TriesLeft == 0 {
				playing = false
				fmt.Fprintf(out, "out of tries, the word was %s", res.Guess.Secret)
				if res.Translation != "" {
					fmt.Fprintf(out, " (%s)", res.Translation)
				}
				fmt.Fprintln(out)
			}
		case protocol.StatusInvalidWord:
			fmt.Fprintf(out, "not in the word list (%d left)\n", res.TriesLeft)
		case protocol.StatusGameWon:
			playing = false
			fmt.Fprintf(out, "solved in %d", res.TriesUsed)
			if res.Translation != "" {
				fmt.Fprintf(out, ", translation: %s", res.Translation)
			}
			fmt.Fprintln(out)
		case protocol.StatusNoTriesLeft:
			playing = false
			fmt.Fprintf(out, "no tries left, next word in %s\n", res.Wait.Round(time.Second))
		default:
			fmt.Fprintf(out, "server replied %s\n", res.Status)
		}
	}
	return scanner.Err()
}

func runCommand(ctx context.Context, c *client.Client, line string, out io.Writer, call func() (context.Context, context.CancelFunc)) (bool, error) {
	rctx, cancel := call()
	defer cancel()
	switch line {
	case ":quit":
		return true, nil
	case ":stats":
		stats, err := c.Stats(rctx)
		if err != nil {
			return false, err
		}
		WriteStats(out, stats)
	case ":top":
		rows, err := c.Top(rctx, 0)
		if err != nil {
			return false, err
		}
		WriteStandings(out, rows)
	case ":board":
		rows, err := c.Leaderboard(rctx)
		if err != nil {
			return false, err
		}
		WriteStandings(out, rows)
	case ":share":
		st, err := c.Share(rctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "share: %s\n", st)
	default:
		fmt.Fprintf(out, "unknown command %s\n", line)
	}
	return false, nil
}
