package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/glothriel/airlink/pkg/pairing"
	"github.com/urfave/cli/v2"
)

var debugCommandFlag *cli.StringFlag = &cli.StringFlag{
	Name:     "command",
	Usage:    "Command sent to the device's debug endpoint",
	Required: true,
}

var debugCommand *cli.Command = &cli.Command{
	Name:   "debug",
	Usage:  "Pair with a sensor and exchange a single command over its debug endpoint",
	Flags:  append([]cli.Flag{debugCommandFlag}, pairingFlags...),
	Before: sanitizeAddressFlag,
	Action: func(c *cli.Context) error {
		return withSession(c, func(ctx context.Context, session *pairing.Session) error {
			response, debugErr := session.Debug(ctx, []byte(c.String(debugCommandFlag.Name)))
			if debugErr != nil {
				return fmt.Errorf("debug exchange failed: %w", debugErr)
			}
			fmt.Print(hex.Dump(response))
			return nil
		})
	},
}
