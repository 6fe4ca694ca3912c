package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/pow-ledger/application"
	"github.com/luca-patrignani/pow-ledger/domain/account"
	"github.com/luca-patrignani/pow-ledger/ledger"
)

func printBanner() {
	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("P", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("o", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("W ", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("Ledger", pterm.FgDarkGray.ToStyle()),
	).Render()
}

func printNewAccount(a account.Account) {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	pbox.WithTitle(pterm.LightGreen("|ACCOUNT CREATED|")).WithTitleTopCenter().Println(
		pterm.Sprintfln("Name: %s\nBalance: %v\nPublic key: %s\nPrivate key: %s",
			a.Name, a.Balance, pterm.LightCyan(a.PublicKey), pterm.LightRed(a.PrivateKey)))
	pterm.Warning.Println("Keep the private key: it is shown only once.")
}

func printReceipt(r application.Receipt) {
	if t := r.Block.Data.Transfer; t != nil {
		pterm.Success.Printfln("Moved %v from %s to %s", t.Amount, short(t.Sender), short(t.Recipient))
	}
	if !r.Delivered {
		pterm.Warning.Println("Ledger was not shipped to the remote node.")
	}
}

func renderAccounts(accounts []account.Account) error {
	data := pterm.TableData{{"Name", "Balance", "Public key"}}
	for _, a := range accounts {
		data = append(data, []string{a.Name, strconv.FormatFloat(a.Balance, 'f', -1, 64), a.PublicKey})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderChain(blocks []ledger.Block) error {
	data := pterm.TableData{{"Index", "Time", "Nonce", "Previous", "Hash", "Data"}}
	for _, b := range blocks {
		data = append(data, []string{
			strconv.FormatUint(b.Index, 10),
			formatTimestamp(b.Timestamp),
			strconv.FormatUint(b.Nonce, 10),
			short(b.PreviousHash),
			short(b.Hash),
			describePayload(b.Data),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func describePayload(p ledger.Payload) string {
	if p.Transfer == nil {
		return p.Marker
	}
	return fmt.Sprintf("%s -> %s: %v", short(p.Transfer.Sender), short(p.Transfer.Recipient), p.Transfer.Amount)
}

func formatTimestamp(ts float64) string {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9)).Format(time.DateTime)
}

// short abbreviates a hex digest.
func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "…"
}
