package main

import (
	"encoding/hex"

	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
)

var keys = cli.Command{
	Name:  "keys",
	Usage: "manage the ohttp keys of the payjoin directory",
	Subcommands: []*cli.Command{
		{
			Name:   "fetch",
			Usage:  "fetch the directory keys through the relay",
			Action: fetchKeysAction,
		},
	},
}

func fetchKeysAction(ctx *cli.Context) error {
	relay, directory, err := getRelayAndDirectory()
	if err != nil {
		return err
	}
	keys, err := ohttp.FetchKeys(ctx.Context, relay, directory)
	if err != nil {
		return err
	}
	buf, err := ohttp.EncodeKeys(keys)
	if err != nil {
		return err
	}

	printJSON(map[string]interface{}{
		"key_id":     keys.KeyID,
		"ohttp_keys": hex.EncodeToString(buf),
	})
	return nil
}
