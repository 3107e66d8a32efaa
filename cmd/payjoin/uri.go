package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/internal/config"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/mathutil"
)

var (
	amountFlag = cli.StringFlag{
		Name:  "amount",
		Usage: "requested amount in BTC",
	}
	labelFlag = cli.StringFlag{
		Name:  "label",
		Usage: "label of the payment request",
	}
	messageFlag = cli.StringFlag{
		Name:  "message",
		Usage: "message of the payment request",
	}
	disableSubstitutionFlag = cli.BoolFlag{
		Name:  "disable-output-substitution",
		Usage: "forbid the receiver from replacing its output",
	}
)

var uri = cli.Command{
	Name:  "uri",
	Usage: "build or parse BIP21 payjoin uris",
	Subcommands: []*cli.Command{
		{
			Name:   "build",
			Usage:  "build a uri paying <address> through the payjoin <endpoint>",
			Action: buildUriAction,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "address",
					Usage:    "the receiver address",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "endpoint",
					Usage:    "the payjoin endpoint",
					Required: true,
				},
				&amountFlag,
				&labelFlag,
				&messageFlag,
				&disableSubstitutionFlag,
			},
		},
		{
			Name:      "parse",
			Usage:     "decode a payjoin uri",
			ArgsUsage: "<uri>",
			Action:    parseUriAction,
		},
	},
}

func buildUriAction(ctx *cli.Context) error {
	builder, err := bip21.NewBuilder(
		ctx.String("address"), ctx.String("endpoint"), config.GetNetwork(),
	)
	if err != nil {
		return err
	}
	if amount := ctx.String(amountFlag.Name); amount != "" {
		sats, err := mathutil.ParseBtc(amount)
		if err != nil {
			return err
		}
		builder = builder.Amount(sats)
	}

	uri := builder.
		Label(ctx.String(labelFlag.Name)).
		Message(ctx.String(messageFlag.Name)).
		DisableOutputSubstitution(ctx.Bool(disableSubstitutionFlag.Name)).
		Build()

	printJSON(map[string]string{"uri": uri})
	return nil
}

func parseUriAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, ctx.Command.Name}
	}

	u, err := bip21.Parse(ctx.Args().First(), config.GetNetwork())
	if err != nil {
		return err
	}

	resp := map[string]interface{}{
		"address": u.Address().EncodeAddress(),
		"label":   u.Label(),
		"message": u.Message(),
	}
	if amount, ok := u.Amount(); ok {
		resp["amount"] = mathutil.FormatBtc(amount)
	}

	pjUri, err := u.CheckPjSupported()
	if err != nil {
		resp["payjoin_supported"] = false
		resp["reason"] = err.Error()
		printJSON(resp)
		return nil
	}
	resp["payjoin_supported"] = true
	resp["endpoint"] = pjUri.Endpoint().String()
	resp["output_substitution_disabled"] = pjUri.OutputSubstitutionDisabled()
	if expiry, ok := pjUri.Expiry(); ok {
		resp["expiry"] = expiry.UTC().Format(time.RFC3339)
	}

	printJSON(resp)
	return nil
}
