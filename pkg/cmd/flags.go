package cmd

import (
	"fmt"
	"regexp"
	"time"

	"github.com/glothriel/airlink/pkg/ble"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var backendFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "backend",
	Usage: "Base URL of the relay backend",
	Value: "http://localhost:8080",
}

var backendTokenFlag *cli.StringFlag = &cli.StringFlag{
	Name:    "backend-token",
	Usage:   "Bearer token sent to the relay backend",
	EnvVars: []string{"AIRLINK_BACKEND_TOKEN"},
	Value:   "",
}

var backendTimeoutFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "backend-timeout",
	Value: time.Second * 15,
}

var addressFlag *cli.StringFlag = &cli.StringFlag{
	Name:     "address",
	Usage:    "Physical address of the device, for example AA:BB:CC:DD:EE:FF",
	Required: true,
}

var scanTimeoutFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "scan-timeout",
	Value: time.Second * 30,
}

var tokenStoreDBFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "token-store-db",
	Usage: "Path to a bolt database keeping fast-connect tokens",
	Value: "",
}

var tokenStoreFileFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "token-store-file",
	Usage: "Path to a JSON file keeping fast-connect tokens, used when --token-store-db is not set",
	Value: "",
}

var pinTimeoutFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "pin-timeout",
	Usage: "How long the operator has to enter the PIN",
	Value: time.Minute * 2,
}

var pollDelayFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "poll-delay",
	Usage: "Initial delay between encryption checks while waiting for the PIN",
	Value: time.Millisecond * 250,
}

var pollMaxDelayFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "poll-max-delay",
	Value: time.Second * 2,
}

var apiFlag *cli.BoolFlag = &cli.BoolFlag{
	Name:  "api",
	Usage: "Serve the local status API while pairing",
}

var apiListenFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "api-listen",
	Value: "127.0.0.1:8082",
}

var basicAuthUsernameFlag *cli.StringFlag = &cli.StringFlag{
	Name:    "api-user",
	EnvVars: []string{"AIRLINK_API_USER"},
	Value:   "",
}

var basicAuthPasswordFlag *cli.StringFlag = &cli.StringFlag{
	Name:    "api-password",
	EnvVars: []string{"AIRLINK_API_PASSWORD"},
	Value:   "",
}

var macPattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

func sanitizeAddress(address string) (string, error) {
	normalized := ble.NormalizeAddress(address)
	if !macPattern.MatchString(normalized) {
		return "", fmt.Errorf("%q is not a valid physical address", address)
	}
	return normalized, nil
}

func sanitizeAddressFlag(context *cli.Context) error {
	sanitized, err := sanitizeAddress(context.String(addressFlag.Name))
	if err != nil {
		return err
	}
	logrus.Debugf("%s flag set to: %s", addressFlag.Name, sanitized)
	return context.Set(addressFlag.Name, sanitized)
}
