package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tdex-network/tdex-payjoin/internal/core/application"
)

var resume = cli.Command{
	Name:  "resume",
	Usage: "resume the active sessions from their last checkpoint",
	Description: "Receiver sessions are resumed only if the wallet is given " +
		"with --wif. Sender sessions are signed with the same wallet, if any.",
	Action: resumeAction,
	Flags: []cli.Flag{
		&wifFlag,
		&utxoFlag,
		&ohttpKeysFlag,
		&interactiveFlag,
		&disableSubstitutionFlag,
		&maxFeeRateFlag,
	},
}

func resumeAction(ctx *cli.Context) error {
	w, err := getWallet(ctx)
	if err != nil {
		return err
	}
	repoManager, err := getRepoManager()
	if err != nil {
		return err
	}
	defer repoManager.Close()

	senderSvc, err := getSenderService(repoManager, w)
	if err != nil {
		return err
	}
	var receiverSvc application.ReceiverService
	if w != nil {
		if receiverSvc, err = getReceiverService(ctx, repoManager, w); err != nil {
			return err
		}
	} else {
		log.Warn("missing wallet, receiver sessions are not resumed")
	}

	runCtx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := senderSvc.RunAll(gctx); err != nil {
			return fmt.Errorf("sender sessions: %w", err)
		}
		return nil
	})
	if receiverSvc != nil {
		g.Go(func() error {
			if err := receiverSvc.RunAll(gctx); err != nil {
				return fmt.Errorf("receiver sessions: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if runCtx.Err() != nil {
			log.Info("interrupted, active sessions left to resume")
			return nil
		}
		return err
	}

	log.Info("no active sessions left")
	return nil
}
