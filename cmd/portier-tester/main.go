// Command portier-tester drives a portier.Client over a line protocol on
// stdin/stdout, for use with the broker's client test suite.
//
// Each input line is a tab-separated command:
//
//	echo	TEXT           ->  ok	TEXT
//	auth	EMAIL[	STATE] ->  ok	URL           | err	MESSAGE
//	verify	TOKEN         ->  ok	EMAIL	STATE | err	MESSAGE
//
// The broker origin is the first argument or PORTIER_BROKER.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/ggoodman/portier-go"
	"github.com/ggoodman/portier-go/store"
	"github.com/ggoodman/portier-go/store/memorystore"
	"github.com/joeshaw/envdecode"
)

// Config for the tester. ENV: PORTIER_BROKER, PORTIER_REDIRECT_URI, PORTIER_LOG_LEVEL
type Config struct {
	Broker      string `env:"PORTIER_BROKER"`
	RedirectURI string `env:"PORTIER_REDIRECT_URI,default=http://imaginary-client.test/fake-verify-route"`
	LogLevel    string `env:"PORTIER_LOG_LEVEL,default=warn"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("config: %w", err)
	}
	if len(os.Args) > 1 {
		cfg.Broker = os.Args[1]
	}
	if cfg.Broker == "" {
		return errors.New("broker required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("config: PORTIER_LOG_LEVEL: %w", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	s, err := memorystore.New(0, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := portier.NewClient(s, cfg.RedirectURI,
		portier.WithBroker(cfg.Broker),
		portier.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return serve(ctx, client, os.Stdin, os.Stdout)
}

type authVerifier interface {
	Authenticate(ctx context.Context, email, state string) (string, error)
	Verify(ctx context.Context, token string) (*portier.VerifyResult, error)
}

// serve runs the line protocol until EOF. An unknown command ends the
// session with an error.
func serve(ctx context.Context, c authVerifier, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	w := bufio.NewWriter(out)
	defer w.Flush()

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd := strings.Split(strings.TrimSpace(sc.Text()), "\t")
		arg := func(i int) string {
			if i < len(cmd) {
				return cmd[i]
			}
			return ""
		}

		switch cmd[0] {
		case "echo":
			fmt.Fprintf(w, "ok\t%s\n", arg(1))
		case "auth":
			loc, err := c.Authenticate(ctx, arg(1), arg(2))
			if err != nil {
				writeErr(w, err)
				break
			}
			fmt.Fprintf(w, "ok\t%s\n", loc)
		case "verify":
			res, err := c.Verify(ctx, arg(1))
			if err != nil {
				writeErr(w, err)
				break
			}
			fmt.Fprintf(w, "ok\t%s\t%s\n", res.Email, res.State)
		default:
			return fmt.Errorf("invalid command: %s", cmd[0])
		}
		// The test suite waits on each reply.
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return sc.Err()
}

func writeErr(w io.Writer, err error) {
	fmt.Fprintf(w, "err\t%s\n", strings.ReplaceAll(err.Error(), "\n", "  "))
}
