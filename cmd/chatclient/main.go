package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"tcpchat/internal/client"
	"tcpchat/internal/logger"
	"tcpchat/internal/protocol"
)

const usage = "[USAGE]: chatclient <host> <port> <username>"

func main() {
	app := &cli.Command{
		Name:      "chatclient",
		Usage:     "Join a tcpchat server",
		ArgsUsage: "<host> <port> <username>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ui",
				Usage: "Full screen terminal UI (needs a terminal on stdin)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "warn",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write logs to this file",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type target struct {
	host     string
	port     int
	username string
}

func parseArgs(args []string) (target, error) {
	if len(args) != 3 {
		return target{}, errors.New(usage)
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return target{}, fmt.Errorf("invalid port %q\n%s", args[1], usage)
	}
	if err := protocol.ValidateUsername(args[2]); err != nil {
		return target{}, fmt.Errorf("invalid username: %w", err)
	}
	return target{host: args[0], port: port, username: args[2]}, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	tgt, err := parseArgs(cmd.Args().Slice())
	if err != nil {
		return err
	}

	useUI := cmd.Bool("ui") && term.IsTerminal(int(os.Stdin.Fd()))
	var console io.Writer = os.Stderr
	if useUI {
		// the UI owns the screen
		console = io.Discard
	}
	log, closer, err := logger.New(logger.Options{
		Level:   cmd.String("log-level"),
		File:    cmd.String("log-file"),
		Console: console,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	c, err := client.Dial(tgt.host, tgt.port, tgt.username, log)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if useUI {
		return runUI(ctx, c, fmt.Sprintf("%s:%d", tgt.host, tgt.port))
	}
	return runConsole(ctx, c, os.Stdin, os.Stdout, log)
}

// printEvents writes every event to w until the connection ends. It
// returns ErrJoinRejected if the server refused our name.
func printEvents(c *client.Client, w io.Writer) error {
	var joinErr error
	for ev := range c.Events() {
		fmt.Fprintln(w, client.FormatEvent(ev))
		if ev.Kind == client.EventJoinFailed {
			joinErr = fmt.Errorf("%w: %s", client.ErrJoinRejected, ev.Text)
		}
	}
	return joinErr
}

// lockedWriter serializes writes from the event printer and the input loop
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runConsole(ctx context.Context, c *client.Client, in io.Reader, out io.Writer, log zerolog.Logger) error {
	out = &lockedWriter{w: out}
	done := make(chan error, 1)
	go func() {
		done <- printEvents(c, out)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			c.Leave()
			return <-done
		case line, ok := <-lines:
			if !ok {
				// stdin closed
				c.Leave()
				return <-done
			}
			cmd, err := client.ParseInput(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			stop, err := c.Execute(cmd)
			switch {
			case errors.Is(err, client.ErrUnknownUser):
				fmt.Fprintf(out, "User '%s' not found. Try /users\n", cmd.Target)
			case err != nil:
				log.Warn().Err(err).Msg("send failed")
			}
			if stop {
				return <-done
			}
		}
	}
}
