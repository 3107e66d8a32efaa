package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/internal/core/application"
	"github.com/tdex-network/tdex-payjoin/pkg/mathutil"
)

var (
	interactiveFlag = cli.BoolFlag{
		Name:  "interactive",
		Usage: "skip the broadcast check of the original transaction",
	}
	maxFeeRateFlag = cli.StringFlag{
		Name:  "max-fee-rate",
		Usage: "max fee rate in sat/vB of the payjoin transaction",
	}
	noWaitFlag = cli.BoolFlag{
		Name:  "no-wait",
		Usage: "only create the session, run it later with resume",
	}
)

var receive = cli.Command{
	Name:   "receive",
	Usage:  "create a receiver session and wait for the payjoin",
	Action: receiveAction,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     wifFlag.Name,
			Usage:    wifFlag.Usage,
			Required: true,
		},
		&utxoFlag,
		&ohttpKeysFlag,
		&amountFlag,
		&labelFlag,
		&messageFlag,
		&disableSubstitutionFlag,
		&interactiveFlag,
		&maxFeeRateFlag,
		&noWaitFlag,
	},
}

func receiveAction(ctx *cli.Context) error {
	w, err := getWallet(ctx)
	if err != nil {
		return err
	}
	repoManager, err := getRepoManager()
	if err != nil {
		return err
	}
	defer repoManager.Close()

	svc, err := getReceiverService(ctx, repoManager, w)
	if err != nil {
		return err
	}

	req := application.PaymentRequest{
		Label:   ctx.String(labelFlag.Name),
		Message: ctx.String(messageFlag.Name),
	}
	if amount := ctx.String(amountFlag.Name); amount != "" {
		if req.Amount, err = mathutil.ParseBtc(amount); err != nil {
			return err
		}
	}

	session, err := svc.NewSession(ctx.Context, req)
	if err != nil {
		return err
	}
	if ctx.Bool(noWaitFlag.Name) {
		printJSON(newSessionInfo(session))
		return nil
	}
	fmt.Println(session.Uri)

	runCtx, cancel := signalContext()
	defer cancel()

	id := session.ID
	log.WithField("session", id).Info("waiting for the sender")
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
