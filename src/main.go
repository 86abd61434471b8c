// networkd-broker watches systemd-networkd link state transitions and runs
// the hook scripts registered for the new state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OpenTollGate/networkd-broker-go/src/broker"
	"github.com/OpenTollGate/networkd-broker-go/src/config_manager"
	"github.com/OpenTollGate/networkd-broker-go/src/extcommand"
	"github.com/OpenTollGate/networkd-broker-go/src/launcher"
	"github.com/OpenTollGate/networkd-broker-go/src/link"
	"github.com/OpenTollGate/networkd-broker-go/src/netmon"
	"github.com/OpenTollGate/networkd-broker-go/src/networkd"
	"github.com/OpenTollGate/networkd-broker-go/src/script"
)

const defaultConfigPath = "/etc/networkd/broker.json"

var rootCmd = &cobra.Command{
	Use:   "networkd-broker",
	Short: "Event broker for systemd-networkd link state changes",
	Long: `networkd-broker listens for link state transitions reported by
systemd-networkd and dispatches the executable hooks found under
<script-dir>/<state>.d, deduplicating repeated notifications per interface.`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("config", defaultConfigPath, "Configuration file path")
	flags.StringP("script-dir", "S", "", "Location under which to look for scripts")
	flags.BoolP("run-startup-triggers", "T", false,
		"Generate events reflecting preexisting state and behavior on startup")
	flags.Uint64P("timeout", "t", 0, "Script execution timeout in seconds")
	flags.BoolP("json", "j", false, "Pass JSON encoding of event and link status to script")
	flags.CountP("verbose", "v", "Increase log verbosity")
	flags.String("resolver", "", "Link resolver: dbus or netlink")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	InitializeGlobalLogger(config.LogLevel)
	logrus.WithFields(logrus.Fields{
		"script_dir": config.ScriptDir,
		"timeout":    config.TimeoutSeconds,
		"resolver":   config.Resolver,
	}).Debug("Run with configuration")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The bus connection is required in both resolver variants: it is the
	// only source of link property-change notifications.
	conn, err := networkd.Connect()
	if err != nil {
		return fmt.Errorf("connect to networkd: %w", err)
	}
	defer conn.Close()

	var directory link.Directory = conn
	var enrich broker.EnrichFunc
	if config.Resolver == config_manager.ResolverNetlink {
		directory = netmon.NewDirectory()
		enrich = extcommand.Enrich
	}

	launch := launcher.New(config.QueueSize)
	if err := launch.Start(); err != nil {
		return err
	}
	defer launch.Stop()

	b := broker.New(directory, launch, broker.Options{
		ScriptDir:       config.ScriptDir,
		Timeout:         time.Duration(config.TimeoutSeconds) * time.Second,
		DescribeTimeout: time.Duration(config.DescribeTimeoutSeconds) * time.Second,
		IncludeJSON:     config.PassJSON,
		Policy: script.Policy{
			RequiredUID: config.RequiredUID,
			RequiredGID: config.RequiredGID,
			MinMode:     0o500,
		},
		Enrich: enrich,
	})

	if err := b.InitCache(ctx); err != nil {
		return fmt.Errorf("build initial link state cache: %w", err)
	}

	if config.RunStartupTriggers {
		logrus.Info("Found 'run-startup-triggers'. Execute all scripts for the current state of each interface")
		if err := b.TriggerAll(ctx); err != nil {
			logrus.WithError(err).Warn("Startup triggers failed")
		}
	}

	sub, err := conn.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe to link events: %w", err)
	}
	defer sub.Close()

	err = b.Listen(ctx, sub)
	if errors.Is(err, context.Canceled) {
		// External termination, clean shutdown.
		return nil
	}
	return err
}

// loadConfig merges the config file with CLI flag overrides; a flag set on
// the command line always wins.
func loadConfig(cmd *cobra.Command) (*config_manager.Config, error) {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	if envPath := os.Getenv("NETWORKD_BROKER_CONFIG"); envPath != "" && !flags.Changed("config") {
		configPath = envPath
	}

	cm, err := config_manager.NewConfigManager(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config := cm.GetConfig()

	if flags.Changed("script-dir") {
		config.ScriptDir, _ = flags.GetString("script-dir")
	}
	if flags.Changed("timeout") {
		config.TimeoutSeconds, _ = flags.GetUint64("timeout")
	}
	if flags.Changed("run-startup-triggers") {
		config.RunStartupTriggers, _ = flags.GetBool("run-startup-triggers")
	}
	if flags.Changed("json") {
		config.PassJSON, _ = flags.GetBool("json")
	}
	if flags.Changed("resolver") {
		config.Resolver, _ = flags.GetString("resolver")
	}
	if verbosity, _ := flags.GetCount("verbose"); verbosity > 0 {
		if verbosity == 1 {
			config.LogLevel = "info"
		} else {
			config.LogLevel = "debug"
		}
	}

	if config.Resolver != config_manager.ResolverDBus && config.Resolver != config_manager.ResolverNetlink {
		return nil, fmt.Errorf("unknown resolver %q", config.Resolver)
	}

	return config, nil
}
