package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/pow-ledger/application"
	"github.com/luca-patrignani/pow-ledger/config"
	"github.com/luca-patrignani/pow-ledger/discovery"
	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
	"github.com/luca-patrignani/pow-ledger/network"
)

var errUsage = errors.New("usage")

// Run parses args and executes one command, or the interactive menu when
// no command is given.
func Run(ctx context.Context, args []string) (err error) {
	cfg := config.Default()
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	verbose := fs.Bool("verbose", false, "log debug messages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(*verbose)
	if err := cfg.Validate(); err != nil {
		return err
	}
	sender, err := newSender(cfg)
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	p, err := application.Open(cfg, store, sender, logger)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return runMenu(ctx, p)
	}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "create-account":
		return createAccount(p, cmdArgs)
	case "transfer":
		return transfer(ctx, p, cmdArgs)
	case "balance":
		return balance(p, cmdArgs)
	case "accounts":
		return renderAccounts(p.Accounts())
	case "chain":
		return renderChain(p.Chain().Blocks())
	case "verify":
		return verify(p)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// newSender returns nil when the ledger is not pushed anywhere.
func newSender(cfg config.Config) (application.Sender, error) {
	if !cfg.Discover && cfg.RemoteAddr == "" {
		return nil, nil
	}
	opts := []network.SenderOption{
		network.WithTimeout(cfg.TransportTimeout),
		network.WithRetries(cfg.TransportRetries, network.DefaultRetryInterval),
	}
	tlsConfig, err := cfg.TLS.ClientConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, network.WithTLS(tlsConfig))
	}
	if cfg.Discover {
		return discovery.NewSender(discovery.DefaultLookupTimeout, opts...), nil
	}
	return network.NewSender(cfg.RemoteAddr, opts...), nil
}

func newLogger(verbose bool) *slog.Logger {
	level := pterm.LogLevelInfo
	if verbose {
		level = pterm.LogLevelDebug
	}
	handler := pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(level))
	return slog.New(handler)
}

func commandFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func createAccount(p *application.Processor, args []string) error {
	fs := commandFlags("create-account")
	name := fs.String("name", "", "display name")
	initial := fs.Float64("balance", 0, "initial balance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("%w: -name is required", errUsage)
	}
	a, err := p.CreateAccount(*name, *initial)
	if err != nil {
		return err
	}
	printNewAccount(a)
	return nil
}

func transfer(ctx context.Context, p *application.Processor, args []string) error {
	fs := commandFlags("transfer")
	from := fs.String("from", "", "sender public key")
	to := fs.String("to", "", "recipient public key")
	amount := fs.Float64("amount", 0, "amount to move")
	rawKey := fs.String("key", "", "sender private key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" || *rawKey == "" {
		return fmt.Errorf("%w: -from, -to and -key are required", errUsage)
	}
	key, err := account.ParsePrivateKey(*rawKey)
	if err != nil {
		return err
	}
	_, err = submit(ctx, p, ledger.Transfer{Sender: *from, Recipient: *to, Amount: *amount}, key)
	return err
}

// submit runs a transfer behind a spinner and prints its outcome.
func submit(ctx context.Context, p *application.Processor, t ledger.Transfer, key account.PrivateKey) (application.Receipt, error) {
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Mining block at difficulty %d ...", p.Difficulty()))
	receipt, err := p.Submit(ctx, t, key)
	if err != nil {
		spinner.Fail(describeRejection(err))
		return receipt, err
	}
	spinner.Success(fmt.Sprintf("Block %d mined in %s", receipt.Block.Index, receipt.Elapsed.Round(time.Millisecond)))
	printReceipt(receipt)
	return receipt, nil
}

func balance(p *application.Processor, args []string) error {
	fs := commandFlags("balance")
	pub := fs.String("account", "", "public key")
	rawKey := fs.String("key", "", "private key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := account.ParsePrivateKey(*rawKey)
	if err != nil {
		return err
	}
	b, err := p.Balance(*pub, key)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Balance: %v", b)
	return nil
}

func verify(p *application.Processor) error {
	if err := p.Chain().Verify(); err != nil {
		return err
	}
	pterm.Success.Printfln("Ledger of %d blocks is valid at difficulty %d", p.Chain().Len(), p.Chain().Difficulty())
	return nil
}

func describeRejection(err error) string {
	switch {
	case errors.Is(err, application.ErrInvalidAmount):
		return "Amount must be a non-negative number"
	case errors.Is(err, account.ErrUnknownAccount):
		return "Unknown account"
	case errors.Is(err, application.ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, account.ErrUnauthorized):
		return "Wrong private key"
	default:
		return err.Error()
	}
}
