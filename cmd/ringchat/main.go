// Command ringchat chats with other processes on the same host through a
// shared-memory ring. One process hosts (-host) and creates the ring; the
// others attach to it by name.
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
	"sync"
	"syscall"

	"relaychat/internal/config"
	"relaychat/internal/ring"
	logx "relaychat/pkg/logx"
)

type options struct {
	host    bool
	name    string
	ring    string
	dir     string
	cleanup bool
}

func main() {
	var (
		cfgPath  string
		logLevel string
		o        options
	)
	flag.StringVar(&cfgPath, "config", "", "optional config file; its ring section supplies defaults")
	flag.BoolVar(&o.host, "host", false, "create the ring and post as "+ring.HostLabel)
	flag.StringVar(&o.name, "name", "", "display name (prompted when empty)")
	flag.StringVar(&o.ring, "ring", "", "ring name (default from config: relaychat)")
	flag.StringVar(&o.dir, "dir", "", "directory holding the ring files (default /dev/shm or the temp dir)")
	flag.BoolVar(&o.cleanup, "cleanup", false, "with -host, remove the ring files on exit")
	flag.StringVar(&logLevel, "log-level", "warn", "diagnostic log level (stderr)")
	flag.Parse()

	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if o.ring == "" {
		o.ring = cfg.Ring.Name
	}
	if o.dir == "" {
		o.dir = cfg.Ring.Dir
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout, o, logx.NewConsole(logLevel)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer, o options, log logx.Logger) error {
	sc := bufio.NewScanner(in)
	var mu sync.Mutex
	say := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(out, s)
	}

	label := ring.HostLabel
	if !o.host {
		label = o.name
		if label == "" {
			_, _ = fmt.Fprint(out, "Enter your name: ")
			if sc.Scan() {
				label = strings.TrimSpace(sc.Text())
			}
		}
		if label == "" {
			label = ring.DefaultLabel
		}
	}

	opts := []ring.Option{ring.WithDir(o.dir), ring.WithLogger(log)}
	var (
		l     *ring.Log
		start ring.Start
		err   error
	)
	if o.host {
		l, err = ring.Create(o.ring, opts...)
		start = ring.FromNow
	} else {
		l, err = ring.Open(o.ring, opts...)
		start = ring.FromStart
	}
	if err != nil {
		if errors.Is(err, ring.ErrNotFound) {
			return fmt.Errorf("ring %q not found; start a host first: %w", o.ring, err)
		}
		return err
	}
	defer func() {
		_ = l.Close()
		if o.host && o.cleanup {
			if err := ring.Destroy(l.Names()); err != nil {
				log.Warn("ring cleanup failed", logx.Err(err))
			}
		}
	}()

	if o.host {
		say("* Hosting ring " + l.Names().Mem)
	} else {
		say("* Joined ring " + l.Names().Mem + " as " + label)
	}

	rctx, stop := context.WithCancel(ctx)
	defer stop()
	monitor := make(chan error, 1)
	go func() {
		monitor <- ring.NewReader(l, start).Run(rctx, func(m ring.Message) { say(m.Text) })
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-rctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			stop()
			<-monitor
			return nil
		case err := <-monitor:
			return err
		case text, ok := <-lines:
			if !ok {
				stop()
				<-monitor
				return nil
			}
			text = strings.TrimRight(text, "\r")
			if text == "" {
				continue
			}
			if _, err := l.Append(ring.FormatMessage(label, text)); err != nil {
				say("* Send failed: " + err.Error())
			}
		}
	}
}
