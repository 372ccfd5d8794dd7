// Command relaychat is a terminal client for relayd. Each line typed is sent
// as-is; whatever the relay forwards is printed as it arrives.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/session"
	"relaychat/internal/transport"
	logx "relaychat/pkg/logx"
)

func main() {
	var (
		cfgPath  string
		host     string
		port     int
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "", "optional config file; its client section supplies defaults")
	flag.StringVar(&host, "host", "", "relay host (default from config: 127.0.0.1)")
	flag.IntVar(&port, "port", 0, "relay port (default from config: 8080)")
	flag.StringVar(&logLevel, "log-level", "warn", "diagnostic log level (stderr)")
	flag.Parse()

	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if host == "" {
		host = cfg.Client.Host
	}
	if port == 0 {
		port = cfg.Client.Port
	}
	dialTimeout, err := clientDialTimeout(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout, host, port, dialTimeout, logx.NewConsole(logLevel)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer, host string, port int, dialTimeout time.Duration, log logx.Logger) error {
	p := newPrinter(out)
	p.status("Connecting to %s:%d...", host, port)

	s, err := session.Connect(ctx, host, port,
		session.WithLogger(log),
		session.WithDialTimeout(dialTimeout),
		session.WithOnMessage(p.line),
		session.WithOnClose(func(err error) {
			if err != nil {
				p.status("Disconnected: %v", err)
				return
			}
			p.status("Disconnected.")
		}),
	)
	if err != nil {
		var ce *transport.ConnectionError
		if errors.As(err, &ce) {
			return fmt.Errorf("connection failed: %w", err)
		}
		return err
	}
	defer s.Disconnect()
	p.status("Connected to %s", s.Remote())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			text = strings.TrimRight(text, "\r")
			if text == "" {
				continue
			}
			if r := []rune(text); len(r) > transport.MaxInputLen {
				text = string(r[:transport.MaxInputLen])
			}
			if err := s.Send(text); err != nil {
				p.status("Send failed: %v", err)
				if errors.Is(err, transport.ErrNotConnected) {
					return nil
				}
				continue
			}
			p.line("You: " + text)
		}
	}
}

// clientDialTimeout is client.dial_timeout, 5s when unset.
func clientDialTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("client.dial_timeout", cfg.Client.DialTimeout, 5*time.Second)
}
