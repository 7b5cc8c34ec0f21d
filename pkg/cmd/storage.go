package cmd

import (
	"github.com/glothriel/airlink/pkg/fastconnect"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

func getTokenStore(c *cli.Context) (fastconnect.Store, error) {
	if path := c.String(tokenStoreDBFlag.Name); path != "" {
		return fastconnect.NewBoltStore(path)
	}
	if path := c.String(tokenStoreFileFlag.Name); path != "" {
		return fastconnect.NewFileStore(afero.NewOsFs(), path), nil
	}
	logrus.Warn("No token store configured, fast-connect tokens will be forgotten on exit")
	return fastconnect.NewInMemoryStore(), nil
}
