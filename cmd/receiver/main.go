// Command receiver accepts ledger files pushed by ledger nodes and writes
// them into a directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/pow-ledger/config"
	"github.com/luca-patrignani/pow-ledger/discovery"
	"github.com/luca-patrignani/pow-ledger/network"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := Run(ctx, os.Args[1:]); err != nil {
		pterm.Error.Println(err)
		stop()
		os.Exit(1)
	}
}

// Run parses args and serves until ctx is done.
func Run(ctx context.Context, args []string) error {
	cfg := config.DefaultReceiver()
	fs := flag.NewFlagSet("receiver", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	verbose := fs.Bool("verbose", false, "log debug messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := pterm.LogLevelInfo
	if *verbose {
		level = pterm.LogLevelDebug
	}
	logger := slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(level)))

	opts, err := receiverOptions(cfg)
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "address", cfg.ListenAddr, "err", err)
		return err
	}
	if cfg.Announce {
		a, err := announce(l)
		if err != nil {
			l.Close()
			return err
		}
		defer a.Close()
		logger.Info("announced receiver", "service", discovery.Service)
	}
	return serve(ctx, l, cfg.OutputDir, logger, opts...)
}

func receiverOptions(cfg config.ReceiverConfig) ([]network.ReceiverOption, error) {
	opts := []network.ReceiverOption{
		network.WithReadTimeout(cfg.ReadTimeout),
		network.WithMaxMessageSize(cfg.MaxMessageSize),
	}
	tlsConfig, err := cfg.TLS.ServerConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, network.WithReceiverTLS(tlsConfig))
	}
	return opts, nil
}

// announce advertises l under the host name.
func announce(l net.Listener) (*discovery.Announcement, error) {
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("cannot announce a %s listener", l.Addr().Network())
	}
	host, err := os.Hostname()
	if err != nil {
		host = "receiver"
	}
	return discovery.Announce(host, addr.Port)
}

func serve(ctx context.Context, l net.Listener, outputDir string, logger *slog.Logger, opts ...network.ReceiverOption) error {
	opts = append([]network.ReceiverOption{network.WithReceiverLogger(logger)}, opts...)
	r := network.NewReceiver(outputDir, opts...)
	pterm.Info.Printfln("Listening on %s, writing into %s", l.Addr(), outputDir)

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.Serve(l)
	}()
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		if err := r.Close(); err != nil {
			return err
		}
		return <-errChan
	}
}
