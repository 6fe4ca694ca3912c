package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/pow-ledger/application"
	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
)

const (
	menuCreate   = "Create account"
	menuTransfer = "Make transaction"
	menuBalance  = "View balance"
	menuAccounts = "List accounts"
	menuChain    = "Show ledger"
	menuVerify   = "Verify ledger"
	menuQuit     = "Quit"
)

func runMenu(ctx context.Context, p *application.Processor) error {
	printBanner()
	pterm.Info.Printfln("%d blocks, %d accounts, difficulty %d", p.Chain().Len(), len(p.Accounts()), p.Difficulty())
	options := []string{menuCreate, menuTransfer, menuBalance, menuAccounts, menuChain, menuVerify, menuQuit}
	for ctx.Err() == nil {
		choice, err := pterm.DefaultInteractiveSelect.WithDefaultText("What do you want to do?").WithOptions(options).Show()
		if err != nil {
			return err
		}
		pterm.Println()
		switch choice {
		case menuCreate:
			err = menuCreateAccount(p)
		case menuTransfer:
			err = menuMakeTransaction(ctx, p)
		case menuBalance:
			err = menuViewBalance(p)
		case menuAccounts:
			err = renderAccounts(p.Accounts())
		case menuChain:
			err = renderChain(p.Chain().Blocks())
		case menuVerify:
			err = verify(p)
		case menuQuit:
			return nil
		}
		if err != nil {
			pterm.Error.Println(err)
		}
		pterm.Println()
	}
	return nil
}

func ask(text string) string {
	answer, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(text).Show()
	pterm.Println()
	return strings.TrimSpace(answer)
}

func askAmount(text string) (float64, error) {
	return strconv.ParseFloat(ask(text), 64)
}

func askKey(text string) (account.PrivateKey, error) {
	return account.ParsePrivateKey(ask(text))
}

func menuCreateAccount(p *application.Processor) error {
	name := ask("Name")
	initial, err := askAmount("Initial balance")
	if err != nil {
		return err
	}
	a, err := p.CreateAccount(name, initial)
	if err != nil {
		return err
	}
	printNewAccount(a)
	return nil
}

func menuMakeTransaction(ctx context.Context, p *application.Processor) error {
	from := ask("Sender public key")
	to := ask("Recipient public key")
	amount, err := askAmount("Amount")
	if err != nil {
		return err
	}
	key, err := askKey("Sender private key")
	if err != nil {
		return err
	}
	confirm, _ := pterm.DefaultInteractiveConfirm.WithDefaultText("Mine and commit the transaction?").WithDefaultValue(true).Show()
	if !confirm {
		pterm.Info.Println("Transaction cancelled.")
		return nil
	}
	// submit already reports rejections through the spinner.
	_, _ = submit(ctx, p, ledger.Transfer{Sender: from, Recipient: to, Amount: amount}, key)
	return nil
}

func menuViewBalance(p *application.Processor) error {
	pub := ask("Public key")
	key, err := askKey("Private key")
	if err != nil {
		return err
	}
	b, err := p.Balance(pub, key)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Balance: %v", b)
	return nil
}
