// Package cmd holds the powgossip command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"powgossip_go/blockchain"
	"powgossip_go/config"
	"powgossip_go/node"
	"powgossip_go/utils"
)

// Version is printed by the version command.
const Version = "powgossip v0.1.0"

// Log file rotation settings.
const (
	logFileName  = "powgossip.log"
	logMaxSizeKB = 10 * 1024
	logMaxFiles  = 3
)

// RootCmd runs a miner when called without a subcommand.
var RootCmd = &cobra.Command{
	Use:   "powgossip",
	Short: "Proof-of-work node that gossips its tip over LibP2P",
	Long: `powgossip runs a minimal proof-of-work blockchain participant.
A miner keeps only the current tip and mines on it, a node keeps every
block and relays what it hears.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole(cmd, config.RoleMiner)
	},
}

var minerCmd = &cobra.Command{
	Use:   "miner",
	Short: "Mine on the current tip and publish it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole(cmd, config.RoleMiner)
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Keep the full chain and relay blocks without mining",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole(cmd, config.RoleNode)
	},
}

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Print the genesis block as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := blockchain.EncodeBlock(blockchain.Genesis())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	config.RegisterFlags(RootCmd)

	RootCmd.AddCommand(minerCmd)
	RootCmd.AddCommand(nodeCmd)
	RootCmd.AddCommand(genesisCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the settings for role from .env files, the environment,
// the optional config file and the flags set on cmd.
func loadConfig(cmd *cobra.Command, role config.Role) (*config.Config, error) {
	config.LoadDotEnv()

	v := config.NewViper()
	if err := config.BindFlags(v, cmd); err != nil {
		return nil, err
	}
	v.Set(config.KeyRole, string(role))
	return config.Load(v)
}

func runRole(cmd *cobra.Command, role config.Role) error {
	cfg, err := loadConfig(cmd, role)
	if err != nil {
		return err
	}

	utils.InitLogger(cfg.Verbose, false)
	if err := utils.InitLogRotator(cfg.LogDir, logFileName, logMaxSizeKB, logMaxFiles); err != nil {
		utils.LogWarn("Logging to stdout only: %v", err)
	}
	defer utils.CloseLogRotator()

	utils.LogInfo("Starting %s (role %s)", Version, cfg.Role)

	n, err := node.Build(cfg)
	if err != nil {
		return fmt.Errorf("failed to build node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return n.Run(ctx)
}
