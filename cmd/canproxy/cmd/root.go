package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/obdsim/canproxy"
	"github.com/obdsim/canproxy/config"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitRejected = 1
	ExitStartup  = 2
)

var rootCmd = &cobra.Command{
	Use:   "canproxy",
	Short: "OBD2 TCP <-> CAN proxy client",
	Long: `canproxy connects a local CAN interface to an OBD2 simulation server.
Frames from the bus are sent to the server as "<ID>#<DATA>" lines and lines
from the server are put on the bus.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runProxy,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case errors.Is(err, canproxy.ErrConfigRejected):
		return ExitRejected
	default:
		return ExitStartup
	}
}

const (
	flagConfig           = "config"
	flagConfigFile       = "config-file"
	flagHost             = "host"
	flagPort             = "port"
	flagChannel          = "channel"
	flagInterface        = "interface"
	flagBitrate          = "bitrate"
	flagBaudrate         = "baudrate"
	flagRecvTimeout      = "recv-timeout"
	flagHandshakeTimeout = "handshake-timeout"
	flagConnectAttempts  = "connect-attempts"
	flagTXRate           = "tx-rate"
	flagTrace            = "trace"
	flagDebug            = "debug"
)

func init() {
	rootCmd.PersistentFlags().BoolP(flagDebug, "d", false, "debug logging")
	registerFlags(rootCmd)
}

func registerFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringP(flagConfig, "c", "", "config id announced to the server")
	f.StringP(flagConfigFile, "f", "", "YAML file with settings, flags override it")
	f.String(flagHost, config.DefaultHost, "server host")
	f.IntP(flagPort, "p", config.DefaultPort, "server port")
	f.String(flagChannel, config.DefaultChannel, "CAN interface or serial port")
	f.StringP(flagInterface, "i", config.DefaultInterface, "adapter to use, see 'canproxy adapters'")
	f.Float64(flagBitrate, 0, "CAN bitrate in kbit/s, 0 keeps the interface setting")
	f.IntP(flagBaudrate, "b", config.DefaultBaudrate, "serial baudrate for serial adapters")
	f.Duration(flagRecvTimeout, config.DefaultRecvTimeout, "upper bound for a single bus read")
	f.Duration(flagHandshakeTimeout, config.DefaultHandshakeTimeout, "how long to wait for a config rejection")
	f.Uint(flagConnectAttempts, config.DefaultConnectAttempts, "server connect attempts")
	f.Float64(flagTXRate, 0, "max frames per second put on the bus, 0 is unlimited")
	f.BoolP(flagTrace, "t", false, "print every relayed frame")
}

func runProxy(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closer, err := config.NewLogger(cfg.Log, cfg.Debug)
	if err != nil {
		return err
	}
	defer closer.Close()

	adapterCfg := cfg.Adapter()
	adapterCfg.OnMessage = func(msg string) {
		logger.Info(msg, "adapter", cfg.Interface)
	}
	bus, err := newAdapter(cfg.Interface, adapterCfg)
	if err != nil {
		return err
	}

	sessCfg := cfg.Session()
	if cfg.Trace {
		sessCfg.OnFrame = frameTracer(color.Output)
	}
	sess, err := canproxy.NewSession(sessCfg, bus, logger)
	if err != nil {
		return err
	}
	logger.Debug("starting session", "session", sess.ID(), "server", sessCfg.Address(), "adapter", bus.Name(), "channel", cfg.Channel)
	return sess.Run(cmd.Context())
}

// newAdapter creates the named adapter and lists the known ones if the name is unknown.
func newAdapter(name string, cfg *canproxy.AdapterConfig) (canproxy.Adapter, error) {
	bus, err := canproxy.NewAdapter(name, cfg)
	if errors.Is(err, canproxy.ErrUnknownAdapter) {
		return nil, fmt.Errorf("%w, available: %s", err, strings.Join(canproxy.ListAdapterNames(), ", "))
	}
	return bus, err
}

// loadConfig reads the optional config file, applies explicitly set flags on
// top and fills in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()
	cfg := &config.Config{}
	if path, _ := f.GetString(flagConfigFile); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set(flagConfig, func() (e error) { cfg.Config, e = f.GetString(flagConfig); return })
	set(flagHost, func() (e error) { cfg.Host, e = f.GetString(flagHost); return })
	set(flagPort, func() (e error) { cfg.Port, e = f.GetInt(flagPort); return })
	set(flagChannel, func() (e error) { cfg.Channel, e = f.GetString(flagChannel); return })
	set(flagInterface, func() (e error) { cfg.Interface, e = f.GetString(flagInterface); return })
	set(flagBitrate, func() (e error) { cfg.Bitrate, e = f.GetFloat64(flagBitrate); return })
	set(flagBaudrate, func() (e error) { cfg.Baudrate, e = f.GetInt(flagBaudrate); return })
	set(flagRecvTimeout, func() error {
		d, e := f.GetDuration(flagRecvTimeout)
		cfg.RecvTimeout = config.Duration(d)
		return e
	})
	set(flagHandshakeTimeout, func() error {
		d, e := f.GetDuration(flagHandshakeTimeout)
		cfg.HandshakeTimeout = config.Duration(d)
		return e
	})
	set(flagConnectAttempts, func() (e error) { cfg.ConnectAttempts, e = f.GetUint(flagConnectAttempts); return })
	set(flagTXRate, func() (e error) { cfg.TXRate, e = f.GetFloat64(flagTXRate); return })
	set(flagTrace, func() (e error) { cfg.Trace, e = f.GetBool(flagTrace); return })
	set(flagDebug, func() (e error) { cfg.Debug, e = f.GetBool(flagDebug); return })
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func frameTracer(w io.Writer) func(canproxy.Direction, *canproxy.CANFrame) {
	var mu sync.Mutex
	return func(dir canproxy.Direction, frame *canproxy.CANFrame) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s || %s\n", dir.Prefix(), frame.ColorString())
	}
}
