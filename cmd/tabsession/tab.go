package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/tabsession/pkg/config"
	"github.com/pixperk/tabsession/pkg/identity"
	"github.com/pixperk/tabsession/pkg/session"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/types"
)

type tabOptions struct {
	Backend   store.Backend
	ContextID string
	Keys      types.Keys
	Logger    hclog.Logger
	In        io.Reader
	Out       io.Writer
}

// runs one context until its input ends, it says quit or ctx is done
// every status change is printed, the terminal stand-in for a favicon
func runTab(ctx context.Context, opts tabOptions) error {
	coord := session.New(&session.Config{
		Store:    opts.Backend.Attach(opts.ContextID),
		Identity: identity.Fixed(opts.ContextID),
		Logger:   opts.Logger,
		Keys:     opts.Keys,
	})

	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(opts.Out, format, args...)
	}

	//Close stops the watcher after delivering every queued event
	coord.Watch(func(e types.Event) {
		printf("[%s] %s -> %s\n", e.At.Round(time.Millisecond), e.From, e.To)
	})
	defer coord.Close()

	coord.Start()
	printf("context %s is %s\n", coord.ID(), coord.Status())

	stop := make(chan struct{})
	defer close(stop)
	lines, readErr := readLines(opts.In, stop)
	for {
		select {
		case <-ctx.Done():
			printf("terminating\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			switch cmd := strings.TrimSpace(line); cmd {
			case "":
			case "claim", "take":
				coord.Claim()
			case "release":
				coord.Release()
			case "status":
				printf("%s\n", coord.Status())
			case "quit", "exit":
				return nil
			default:
				printf("unknown command %q (claim, release, status, quit)\n", cmd)
			}
		}
	}
}

// feeds input lines from a goroutine so a blocked read never delays shutdown
func readLines(in io.Reader, stop <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// applies the tab flags over the environment and validates the result
func tabConfig(cfg config.Config, sessionKey, ownerKey string, timeout time.Duration, logLevel string) (config.Config, error) {
	cfg.SessionKey, cfg.OwnerKey = sessionKey, ownerKey
	cfg.RPCTimeout = timeout
	cfg.LogLevel = logLevel
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func parseNodeID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid node id: %w", err)
	}
	return id, nil
}

// parses id@addr,id@addr
func parsePeers(s string) (map[uuid.UUID]string, error) {
	peers := make(map[uuid.UUID]string)
	if strings.TrimSpace(s) == "" {
		return peers, nil
	}
	for _, part := range strings.Split(s, ",") {
		idPart, addr, ok := strings.Cut(strings.TrimSpace(part), "@")
		if !ok || addr == "" {
			return nil, fmt.Errorf("invalid peer %q, want id@addr", part)
		}
		id, err := uuid.Parse(idPart)
		if err != nil {
			return nil, fmt.Errorf("invalid peer %q: %w", part, err)
		}
		peers[id] = addr
	}
	return peers, nil
}
