// Command pizzavoice-chat is a terminal voice client for the Dunijet
// Pizza server: it captures the microphone, runs the conversation
// session against a running server, and plays replies with ffplay.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dunijet/pizzavoice/internal/localstore"
	"github.com/dunijet/pizzavoice/pkg/agent"
	"github.com/dunijet/pizzavoice/pkg/client"
	"github.com/dunijet/pizzavoice/pkg/history"
)

const defaultServerURL = "http://127.0.0.1:8080"

type chatConfig struct {
	ServerURL   string
	HistoryPath string
	Verbose     bool
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	defaultURL := strings.TrimSpace(getenv("PIZZAVOICE_SERVER_URL"))
	if defaultURL == "" {
		defaultURL = defaultServerURL
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("pizzavoice-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "server-url", defaultURL, "pizzavoice server base URL")
	fs.StringVar(&cfg.HistoryPath, "history", "", "history database path (default $HOME/.pizzavoice/history.db)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "log session internals")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}

	if cfg.HistoryPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return chatConfig{}, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.HistoryPath = filepath.Join(home, ".pizzavoice", "history.db")
	}

	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.ServerURL == "" {
		return chatConfig{}, errors.New("server URL must not be empty")
	}
	return cfg, nil
}

func runChat(ctx context.Context, cfg chatConfig, in io.Reader, out, errOut io.Writer) error {
	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: logLevel}))

	kv, err := localstore.Open(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer kv.Close()

	storeOpts := []history.StoreOption{history.WithLogger(logger)}
	if prober, err := history.NewFFprobeProber(); err == nil {
		storeOpts = append(storeOpts, history.WithProber(prober))
	} else {
		logger.Warn("duration probing unavailable", "error", err)
	}
	store := history.NewStore(kv, storeOpts...)
	if _, err := store.Load(); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	exchange := client.NewExchangeClient(cfg.ServerURL, client.WithExchangeLogger(logger))
	persist := client.NewPersistClient(cfg.ServerURL, client.WithPersistLogger(logger))

	mic, err := newFFmpegMicCapture()
	if err != nil {
		return err
	}
	player, err := newFFplayURLPlayer(cfg.ServerURL)
	if err != nil {
		return err
	}

	session := agent.NewSession(
		agent.DefaultSessionConfig(),
		mic,
		exchange,
		persist,
		player,
		agent.WithRecorder(store),
		agent.WithSessionLogger(logger),
	)

	go printEvents(session, out)

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.End("quit")

	fmt.Fprintln(out, "Listening. Speak, or type a command: /end /replay <n> /clear /quit")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/end":
			session.End("user request")
			fmt.Fprintln(out, "Session ended.")
		case line == "/clear":
			if err := store.Clear(ctx, persist); err != nil {
				fmt.Fprintf(errOut, "clear failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "History cleared.")
		case strings.HasPrefix(line, "/replay"):
			if err := replayMessage(ctx, line, store, session, out); err != nil {
				fmt.Fprintf(errOut, "replay failed: %v\n", err)
			}
		default:
			fmt.Fprintf(out, "Unknown command: %s\n", line)
		}
	}
	return scanner.Err()
}

// replayMessage plays back the nth history message through the session's
// playback controller. Replaying the active clip toggles it off.
func replayMessage(ctx context.Context, line string, store *history.Store, session *agent.Session, out io.Writer) error {
	arg := strings.TrimSpace(strings.TrimPrefix(line, "/replay"))
	if arg == "" {
		return errors.New("usage: /replay <n>")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid message number %q", arg)
	}

	messages := store.Messages()
	if n < 1 || n > len(messages) {
		return fmt.Errorf("message %d out of range (history has %d)", n, len(messages))
	}
	msg := messages[n-1]

	if d, err := store.ResolveDuration(ctx, msg.ID); err == nil {
		fmt.Fprintf(out, "Replaying %s message (%.1fs)\n", msg.Role, d.Seconds())
	} else {
		fmt.Fprintf(out, "Replaying %s message\n", msg.Role)
	}

	session.Playback().Play(ctx, msg.ID, msg.AudioURL, agent.HistoryPlaybackTimeout)
	return nil
}

func printEvents(session *agent.Session, out io.Writer) {
	for {
		select {
		case event := <-session.Events():
			switch e := event.(type) {
			case *agent.StateChangedEvent:
				fmt.Fprintf(out, "[%s]\n", e.To)
			case *agent.MessageAddedEvent:
				fmt.Fprintf(out, "%s: %s\n", e.Role, e.AudioURL)
			case *agent.ErrorEvent:
				fmt.Fprintf(out, "error (%s): %s\n", e.Kind, e.Message)
			case *agent.SessionEndedEvent:
				fmt.Fprintf(out, "session ended: %s\n", e.Reason)
			}
		case <-session.Done():
			return
		}
	}
}

func runMain(ctx context.Context, args []string, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	// A missing .env is fine; env vars may come from the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "pizzavoice-chat: %v\n", err)
		return 1
	}

	cfg, err := parseChatConfig(args, os.Getenv)
	if err != nil {
		fmt.Fprintf(stderr, "pizzavoice-chat: %v\n", err)
		return 1
	}

	if err := runChat(ctx, cfg, os.Stdin, os.Stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "pizzavoice-chat: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(runMain(ctx, os.Args[1:], os.Stderr))
}
