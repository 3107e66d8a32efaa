package bip21

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

var networks = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"bitcoin":  &chaincfg.MainNetParams,
	"testnet":  &chaincfg.TestNet3Params,
	"testnet3": &chaincfg.TestNet3Params,
	"regtest":  &chaincfg.RegressionNetParams,
	"signet":   &chaincfg.SigNetParams,
	"simnet":   &chaincfg.SimNetParams,
}

// NetworkFromName returns the chain params of the named network. The name is
// either one accepted by the command line (mainnet, testnet, regtest, ...) or
// the one carried by chaincfg.Params.Name.
func NetworkFromName(name string) (*chaincfg.Params, error) {
	net, ok := networks[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", name)
	}
	return net, nil
}
