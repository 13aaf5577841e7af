package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TaylorAbraham/Covert-Channels/pkg/covert"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
)

func main() {
	var (
		friendAddr string
		originAddr string
		friendPort uint16
		originPort uint16
		bounce     bool
		wait       time.Duration
		verbose    bool
	)

	pflag.StringVar(&friendAddr, "friend_address", "127.0.0.1", "the friend IP address")
	pflag.StringVar(&originAddr, "origin_address", "127.0.0.1", "the origin IP address (the friend's source, or the bouncer in bounce mode)")
	pflag.Uint16Var(&friendPort, "friend_port", 8082, "the friend port")
	pflag.Uint16Var(&originPort, "origin_port", 8081, "the origin port")
	pflag.BoolVar(&bounce, "bounce", false, "expect packets reflected off a foreign TCP service")
	pflag.DurationVar(&wait, "wait", 10*time.Second, "how long each receive attempt waits before retrying")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logs")
	pflag.Parse()

	friendIP := mustIPv4(friendAddr)
	originIP := mustIPv4(originAddr)

	if err := covert.RequirePrivileges(); err != nil {
		fmt.Fprintf(os.Stderr, "privileges check failed: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := covert.NewConfig(friendIP, originIP, friendPort, originPort)
	cfg.Logger = log
	cfg.Bounce = bounce

	_, receiver, err := covert.Channel(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create channel: %v\n", err)
		os.Exit(1)
	}

	buf := make([]byte, 1024)
	for ctx.Err() == nil {
		fmt.Println("Waiting for message")
		attempt, cancel := context.WithTimeout(ctx, wait)
		n, err := receiver.Receive(attempt, buf, nil)
		cancel()
		if err != nil {
			if errors.Is(err, covert.ErrReadCancelled) && ctx.Err() == nil {
				continue
			}
			fmt.Fprintf(os.Stderr, "receive error: %v\n", err)
			continue
		}
		fmt.Printf("Msg Received: %s\n", buf[:n])
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
}

func mustIPv4(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		fmt.Fprintf(os.Stderr, "bad IPv4 address: %s\n", s)
		os.Exit(2)
	}
	return ip.To4()
}
