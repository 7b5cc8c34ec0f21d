package cmd

import (
	"net/http"
	"time"

	"github.com/glothriel/airlink/pkg/api"
	"github.com/glothriel/airlink/pkg/fastconnect"
	"github.com/glothriel/airlink/pkg/pairing"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var apiCommand *cli.Command = &cli.Command{
	Name:  "api",
	Usage: "Serve the local status API for managing fast-connect tokens",
	Flags: []cli.Flag{
		tokenStoreDBFlag,
		tokenStoreFileFlag,
		apiListenFlag,
		basicAuthUsernameFlag,
		basicAuthPasswordFlag,
	},
	Action: func(c *cli.Context) error {
		startPrometheusServer(c)
		store, storeErr := getTokenStore(c)
		if storeErr != nil {
			return storeErr
		}
		defer store.Close()
		return newAPIServer(c, pairing.NewRegistry(), nil, store).ListenAndServe()
	},
}

func configureAPIServer(cliCtx *cli.Context) api.ServerSettings {
	username := cliCtx.String(basicAuthUsernameFlag.Name)
	password := cliCtx.String(basicAuthPasswordFlag.Name)
	settings := api.NewServerSettings().WithDebug(cliCtx.Bool("debug"))
	if username != "" && password != "" {
		settings = settings.WithBasicAuth(username, password)
	} else {
		logrus.Info(
			"State-changing API endpoints will not be enabled - " +
				"either basic auth username or password is missing",
		)
	}
	return settings
}

func newAPIServer(
	c *cli.Context, registry *pairing.Registry, live api.SessionCloser, store fastconnect.Store,
) *http.Server {
	handler := api.NewAdminAPI([]api.Controller{
		api.NewSessionsController(registry, live),
		api.NewTokensController(store),
	}, configureAPIServer(c))
	logrus.Infof("Starting status API on %s", c.String(apiListenFlag.Name))
	return &http.Server{
		Addr:              c.String(apiListenFlag.Name),
		Handler:           handler,
		ReadHeaderTimeout: time.Second * 5,
	}
}
