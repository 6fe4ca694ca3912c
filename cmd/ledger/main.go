// Command ledger manages accounts and transfers on a proof-of-work ledger.
//
//	ledger create-account -name alice -balance 10
//	ledger transfer -from <public key> -to <public key> -amount 4 -key <private key>
//	ledger balance -account <public key> -key <private key>
//	ledger accounts | chain | verify
//
// Without a command it opens an interactive menu.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
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
