package cmd

import (
	"net/http"
	"time"

	"github.com/glothriel/airlink/pkg/relay"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var testserverCommand *cli.Command = &cli.Command{
	Name:  "testserver",
	Usage: "Run a development relay backend that trusts every certificate",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: "127.0.0.1:8080",
		},
		&cli.BoolFlag{
			Name:  "issue-tokens",
			Usage: "Provision fast-connect tokens on confirm",
		},
	},
	Action: func(c *cli.Context) error {
		startPrometheusServer(c)
		opts := []relay.ServerOption{}
		if c.Bool("issue-tokens") {
			opts = append(opts, relay.WithTokens())
		}
		server := &http.Server{
			Addr:              c.String("listen"),
			Handler:           relay.NewServer(opts...).Handler(),
			ReadHeaderTimeout: time.Second * 5,
		}
		logrus.Infof("Development relay backend listening on %s", server.Addr)
		return server.ListenAndServe()
	},
}
