package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/glothriel/airlink/pkg/ble"
	"github.com/glothriel/airlink/pkg/fastconnect"
	"github.com/glothriel/airlink/pkg/pairing"
	"github.com/glothriel/airlink/pkg/relay"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"tinygo.org/x/bluetooth"
)

var holdFlag *cli.BoolFlag = &cli.BoolFlag{
	Name:  "hold",
	Usage: "Keep the secured link open until interrupted",
}

var pairingFlags = []cli.Flag{
	addressFlag,
	backendFlag,
	backendTokenFlag,
	backendTimeoutFlag,
	scanTimeoutFlag,
	tokenStoreDBFlag,
	tokenStoreFileFlag,
	pinTimeoutFlag,
	pollDelayFlag,
	pollMaxDelayFlag,
	apiFlag,
	apiListenFlag,
	basicAuthUsernameFlag,
	basicAuthPasswordFlag,
}

var pairCommand *cli.Command = &cli.Command{
	Name:   "pair",
	Usage:  "Pair with a sensor, printing the PIN that has to be entered in the system pairing prompt",
	Flags:  append([]cli.Flag{holdFlag}, pairingFlags...),
	Before: sanitizeAddressFlag,
	Action: func(c *cli.Context) error {
		return withSession(c, func(ctx context.Context, session *pairing.Session) error {
			fmt.Printf("Device %s paired\n", session.Address())
			if c.Bool(holdFlag.Name) {
				logrus.Info("Holding the link open, press Ctrl+C to disconnect")
				<-ctx.Done()
			}
			return nil
		})
	},
}

// withSession pairs with the device named by the flags and runs fn on the secured session
func withSession(c *cli.Context, fn func(context.Context, *pairing.Session) error) error {
	startPrometheusServer(c)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, storeErr := getTokenStore(c)
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	registry := pairing.NewRegistry()
	machine := newMachine(c, store, registry)
	defer machine.Close()

	if c.Bool(apiFlag.Name) {
		server := newAPIServer(c, registry, machine, store)
		go func() {
			if listenErr := server.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
				logrus.Errorf("Status API failed: %v", listenErr)
			}
		}()
		defer server.Close()
	}

	session, pairErr := machine.Pair(ctx, c.String(addressFlag.Name))
	if pairErr != nil {
		return fmt.Errorf("failed to pair with %s: %w", c.String(addressFlag.Name), pairErr)
	}
	defer session.Close()
	return fn(ctx, session)
}

func newMachine(c *cli.Context, store fastconnect.Store, registry *pairing.Registry) *pairing.Machine {
	relayOpts := []relay.ClientOption{}
	if token := c.String(backendTokenFlag.Name); token != "" {
		relayOpts = append(relayOpts, relay.WithToken(token))
	}
	return pairing.NewMachine(
		ble.NewTinygoConnector(bluetooth.DefaultAdapter, c.Duration(scanTimeoutFlag.Name)),
		relay.NewHTTPClient(c.String(backendFlag.Name), c.Duration(backendTimeoutFlag.Name), relayOpts...),
		store,
		pairing.WithPinTimeout(c.Duration(pinTimeoutFlag.Name)),
		pairing.WithPolling(c.Duration(pollDelayFlag.Name), c.Duration(pollMaxDelayFlag.Name), 0),
		pairing.WithObservers(registry, pairing.ObserverFunc(announcePIN)),
	)
}

func announcePIN(s pairing.Snapshot) {
	switch s.State {
	case pairing.StateAwaitingPinEntry:
		if s.FastConnect {
			fmt.Printf("Enter PIN %s in the pairing prompt (fast-connect)\n", passkey(s.PIN))
			return
		}
		fmt.Printf("Enter PIN %s in the pairing prompt\n", passkey(s.PIN))
	case pairing.StateDisconnected:
		logrus.Warnf("Lost the link to %s", s.Address)
	}
}

// passkey renders a PIN the way the platform pairing dialog asks for it: six digits
func passkey(pin string) string {
	value, parseErr := strconv.ParseUint(pin, 10, 32)
	if parseErr != nil {
		return pin
	}
	return fmt.Sprintf("%06d", value)
}
