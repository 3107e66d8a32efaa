package main

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/internal/config"
	"github.com/tdex-network/tdex-payjoin/internal/core/application"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/mathutil"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/wallet"
)

var (
	psbtFlag = cli.StringFlag{
		Name:  "psbt",
		Usage: "base64 signed original psbt, funded with the --wif wallet if missing",
	}
	feeRateFlag = cli.StringFlag{
		Name:  "fee-rate",
		Usage: "fee rate in sat/vB of the original transaction, defaults to PAYJOIN_MIN_FEE_RATE",
	}
)

var send = cli.Command{
	Name:      "send",
	Usage:     "pay a payjoin <uri> and wait for the receiver's proposal",
	ArgsUsage: "<uri>",
	Action:    sendAction,
	Flags: []cli.Flag{
		&psbtFlag,
		&wifFlag,
		&utxoFlag,
		&amountFlag,
		&feeRateFlag,
		&disableSubstitutionFlag,
		&noWaitFlag,
	},
}

func sendAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, ctx.Command.Name}
	}
	uri := ctx.Args().First()

	w, err := getWallet(ctx)
	if err != nil {
		return err
	}
	minFeeRate := getMinFeeRate()
	feeRate := minFeeRate
	if ctx.IsSet(feeRateFlag.Name) {
		if feeRate, err = psbtutil.ParseFeeRate(ctx.String(feeRateFlag.Name)); err != nil {
			return err
		}
	}

	original := ctx.String(psbtFlag.Name)
	if original == "" {
		if w == nil {
			return fmt.Errorf("either --psbt or --wif must be given")
		}
		if original, err = fundOriginal(ctx, w, uri, feeRate); err != nil {
			return err
		}
	}

	repoManager, err := getRepoManager()
	if err != nil {
		return err
	}
	defer repoManager.Close()

	svc, err := getSenderService(repoManager, w)
	if err != nil {
		return err
	}

	session, err := svc.NewSession(ctx.Context, application.PaymentOrder{
		OriginalPsbt:              original,
		Uri:                       uri,
		MinFeeRate:                minFeeRate,
		DisableOutputSubstitution: ctx.Bool(disableSubstitutionFlag.Name),
	})
	if err != nil {
		return err
	}
	if ctx.Bool(noWaitFlag.Name) {
		printJSON(newSessionInfo(session))
		return nil
	}

	runCtx, cancel := signalContext()
	defer cancel()

	id := session.ID
	log.WithField("session", id).Info("waiting for the receiver")
	session, err = svc.Run(runCtx, id)
	if err != nil {
		if runCtx.Err() != nil {
			log.WithField("session", id).Info(
				"interrupted, run resume to continue the session",
			)
			return nil
		}
		return err
	}

	printJSON(newSessionInfo(session))
	return nil
}

// fundOriginal returns the base64 psbt of a transaction paying the uri with
// the wallet's utxos.
func fundOriginal(
	ctx *cli.Context, w *wallet.Wallet, uri string, feeRate psbtutil.FeeRate,
) (string, error) {
	u, err := bip21.Parse(uri, config.GetNetwork())
	if err != nil {
		return "", err
	}
	amount, ok := u.Amount()
	if flagAmount := ctx.String(amountFlag.Name); flagAmount != "" {
		if amount, err = mathutil.ParseBtc(flagAmount); err != nil {
			return "", err
		}
		ok = true
	}
	if !ok {
		return "", fmt.Errorf("uri has no amount, use --amount")
	}

	script, err := txscript.PayToAddrScript(u.Address())
	if err != nil {
		return "", err
	}
	p, err := w.CreatePsbt([]*wire.TxOut{wire.NewTxOut(amount, script)}, feeRate)
	if err != nil {
		return "", err
	}
	return psbtutil.Encode(p)
}
