package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-chat/pkg/api"
	"github.com/ZentaChain/zentalk-chat/pkg/chat"
	"github.com/ZentaChain/zentalk-chat/pkg/config"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/registry"
)

var log = logging.Logger("chat/cmd")

var (
	configPath string
	cfg        *config.Config

	flagName       string
	flagPSK        string
	flagPassphrase string
	flagAPIPort    int
	flagLogLevel   string
	flagBootstrap  []string
	flagListenAddr []string
	flagRoom       string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zentalk-chat",
		Short: "Peer-to-peer encrypted text chat",
		Long: `P2P Chat Application

Direct mode connects two peers over one encrypted TCP connection.
Gossip mode joins a room shared by any number of peers.

Examples:
  zentalk-chat listen 8080
  zentalk-chat connect 127.0.0.1:8080
  zentalk-chat gossip --room lobby`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&flagName, "name", "", "display name announced to peers")
	pf.StringVar(&flagPSK, "psk", "", "hex encoded 32-byte pre-shared key (direct mode)")
	pf.StringVar(&flagPassphrase, "passphrase", "", "passphrase to derive the pre-shared key from (direct mode)")
	pf.IntVar(&flagAPIPort, "api-port", 0, "serve the local status API on this port (0 = disabled)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringSliceVar(&flagBootstrap, "bootstrap", nil, "bootstrap peer multiaddrs (gossip mode)")
	pf.StringSliceVar(&flagListenAddr, "listen-addr", nil, "libp2p listen multiaddrs (gossip mode)")

	root.AddCommand(listenCmd(), connectCmd(), gossipCmd())
	return root
}

// loadConfig reads the config file and applies flags that were set
func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name = flagName
	}
	if flags.Changed("psk") {
		cfg.PSK = flagPSK
	}
	if flags.Changed("passphrase") {
		cfg.Passphrase = flagPassphrase
	}
	if flags.Changed("api-port") {
		cfg.APIPort = flagAPIPort
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("bootstrap") {
		cfg.BootstrapPeers = flagBootstrap
	}
	if flags.Changed("listen-addr") {
		cfg.ListenAddrs = flagListenAddr
	}
	if flags.Lookup("room") != nil && flags.Changed("room") {
		cfg.Room = flagRoom
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	return logging.SetLogLevel("*", cfg.LogLevel)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startRuntime wires the registry, the runner, stdin and the optional status API
func startRuntime(ctx context.Context, self protocol.PeerID) (*registry.Registry, *chat.Runner, error) {
	reg, err := registry.New(self, cfg.Name, cfg.RegistryCapacity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create registry: %w", err)
	}

	maxLine := protocol.MaxLineLength(cfg.MaxFrameSize)
	runner := chat.NewRunner(reg, os.Stdout, maxLine)
	go runner.ReadInput(ctx, os.Stdin)

	if cfg.APIPort > 0 {
		apiCfg := api.DefaultConfig()
		apiCfg.Port = cfg.APIPort
		apiCfg.MaxTextLength = maxLine
		server := api.NewServer(runner, reg, apiCfg)
		go func() {
			if err := server.Start(ctx); err != nil {
				log.Errorw("status API stopped", "error", err)
			}
		}()
	}

	return reg, runner, nil
}

func printChatBanner() {
	fmt.Println("Start chatting (Ctrl+C to exit):")
	fmt.Println()
}
