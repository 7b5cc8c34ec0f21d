package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var tokenStoreFlags = []cli.Flag{
	tokenStoreDBFlag,
	tokenStoreFileFlag,
}

var tokensCommand *cli.Command = &cli.Command{
	Name:  "tokens",
	Usage: "Manage cached fast-connect tokens",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Flags: tokenStoreFlags,
			Action: func(c *cli.Context) error {
				store, storeErr := getTokenStore(c)
				if storeErr != nil {
					return storeErr
				}
				defer store.Close()
				entries, listErr := store.List()
				if listErr != nil {
					return fmt.Errorf("failed to list tokens: %w", listErr)
				}
				if len(entries) == 0 {
					fmt.Println("No fast-connect tokens are stored")
					return nil
				}
				for _, entry := range entries {
					fmt.Printf("%s\t%d\n", entry.MAC, entry.TokenID)
				}
				return nil
			},
		},
		{
			Name:      "remove",
			Flags:     tokenStoreFlags,
			ArgsUsage: "<address> - the device whose token should be forgotten",
			Action: func(c *cli.Context) error {
				address, addressErr := sanitizeAddress(c.Args().First())
				if addressErr != nil {
					return addressErr
				}
				store, storeErr := getTokenStore(c)
				if storeErr != nil {
					return storeErr
				}
				defer store.Close()
				if removeErr := store.Remove(address); removeErr != nil {
					return fmt.Errorf("failed to remove token: %w", removeErr)
				}
				fmt.Println("OK")
				return nil
			},
		},
		{
			Name:  "clear",
			Flags: tokenStoreFlags,
			Action: func(c *cli.Context) error {
				store, storeErr := getTokenStore(c)
				if storeErr != nil {
					return storeErr
				}
				defer store.Close()
				if clearErr := store.Clear(); clearErr != nil {
					return fmt.Errorf("failed to clear tokens: %w", clearErr)
				}
				fmt.Println("OK")
				return nil
			},
		},
	},
}
