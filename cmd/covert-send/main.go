package main

import (
	"bufio"
	"context"
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
		delay      time.Duration
		verbose    bool
	)

	pflag.StringVar(&friendAddr, "friend_address", "127.0.0.1", "the friend IP address")
	pflag.StringVar(&originAddr, "origin_address", "127.0.0.1", "the origin IP address (local, or the bouncer in bounce mode)")
	pflag.Uint16Var(&friendPort, "friend_port", 8081, "the friend port")
	pflag.Uint16Var(&originPort, "origin_port", 8082, "the origin port")
	pflag.BoolVar(&bounce, "bounce", false, "bounce packets off a foreign TCP service instead of sending directly")
	pflag.DurationVar(&delay, "delay", 0, "fixed delay between packets (e.g. 50ms)")
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
	cfg.GetDelay = func() time.Duration { return delay }

	sender, _, err := covert.Channel(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create channel: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Write your message")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		msg := sc.Bytes()
		if len(msg) == 0 {
			continue
		}
		n, err := sender.Send(ctx, msg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "send error: %v\n", err)
			continue
		}
		fmt.Printf("sent %d bytes\n", n)
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "stdin error: %v\n", err)
		os.Exit(1)
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
