// Package config loads node settings from flags, the environment, .env files
// and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"powgossip_go/blockchain"
	"powgossip_go/mempool"
	"powgossip_go/p2p"
	"powgossip_go/utils"
)

// Role selects how a process participates in the network.
type Role string

const (
	// RoleMiner tracks only the tip and mines on it.
	RoleMiner Role = "miner"
	// RoleNode keeps the whole chain and only relays.
	RoleNode Role = "node"
)

// Setting keys. Each is also read from the upper-cased environment variable.
const (
	KeyRole            = "role"
	KeyAPIPort         = "api_port"
	KeyP2PListen       = "p2p_listen"
	KeyBootstrapPeers  = "bootstrap_peers"
	KeyDataDir         = "data_dir"
	KeyLogDir          = "log_dir"
	KeyDBBackend       = "db_backend"
	KeyVerbose         = "verbose"
	KeyKeyPassphrase   = "node_key_passphrase"
	KeyRewardFromKey   = "reward_from_key"
	KeyRewardAddress   = "reward_address"
	KeyMiningWorkers   = "mining_workers"
	KeyMaxBlockTxs     = "max_block_txs"
	KeyVerifyWork      = "verify_work"
	KeyMDNS            = "mdns"
	KeyDHT             = "dht"
	KeyMempoolCapacity = "mempool_capacity"
	KeyPollTimeout     = "poll_timeout"
	KeyAPIEnabled      = "api_enabled"
)

// Publish delays per role.
const (
	MinerPublishDelay = time.Second
	NodePublishDelay  = time.Duration(0)
)

// Config holds all startup configuration.
type Config struct {
	Role            Role
	APIPort         int
	APIEnabled      bool
	P2PListen       []string
	BootstrapPeers  []string
	DataDir         string
	LogDir          string
	DBBackend       string
	Verbose         bool
	KeyPassphrase   string
	RewardFromKey   bool
	RewardAddress   blockchain.Address
	MiningWorkers   int
	MaxBlockTxs     int
	VerifyWork      bool
	EnableMDNS      bool
	EnableDHT       bool
	MempoolCapacity int
	PollTimeout     time.Duration
}

// PublishDelay is the pause between tip publications for the configured role.
func (c *Config) PublishDelay() time.Duration {
	if c.Role == RoleMiner {
		return MinerPublishDelay
	}
	return NodePublishDelay
}

// RetainHistory reports whether the role keeps every block.
func (c *Config) RetainHistory() bool {
	return c.Role == RoleNode
}

// Mining reports whether the role runs the miner.
func (c *Config) Mining() bool {
	return c.Role == RoleMiner
}

// SetDefaults registers the built-in value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRole, string(RoleMiner))
	v.SetDefault(KeyAPIPort, 3002)
	v.SetDefault(KeyAPIEnabled, true)
	v.SetDefault(KeyP2PListen, p2p.DefaultListenAddr)
	v.SetDefault(KeyBootstrapPeers, "")
	v.SetDefault(KeyDataDir, "data")
	v.SetDefault(KeyLogDir, "logs")
	v.SetDefault(KeyDBBackend, blockchain.ArchiveMemory)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyKeyPassphrase, "")
	v.SetDefault(KeyRewardFromKey, false)
	v.SetDefault(KeyRewardAddress, "")
	v.SetDefault(KeyMiningWorkers, 0)
	v.SetDefault(KeyMaxBlockTxs, 0)
	v.SetDefault(KeyVerifyWork, true)
	v.SetDefault(KeyMDNS, true)
	v.SetDefault(KeyDHT, false)
	v.SetDefault(KeyMempoolCapacity, mempool.DefaultCapacity)
	v.SetDefault(KeyPollTimeout, p2p.DefaultPollTimeout)
}

// flagKeys maps command-line flag names onto setting keys.
var flagKeys = map[string]string{
	"api-port":        KeyAPIPort,
	"no-api":          "",
	"listen":          KeyP2PListen,
	"bootstrap":       KeyBootstrapPeers,
	"datadir":         KeyDataDir,
	"logdir":          KeyLogDir,
	"db":              KeyDBBackend,
	"verbose":         KeyVerbose,
	"nodekeypass":     KeyKeyPassphrase,
	"reward-from-key": KeyRewardFromKey,
	"reward-address":  KeyRewardAddress,
	"workers":         KeyMiningWorkers,
	"max-block-txs":   KeyMaxBlockTxs,
	"verify-work":     KeyVerifyWork,
	"mdns":            KeyMDNS,
	"dht":             KeyDHT,
}

// RegisterFlags adds the node flags to cmd.
func RegisterFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.Int("api-port", 3002, "Port for the HTTP API")
	f.Bool("no-api", false, "Do not start the HTTP API")
	f.String("listen", p2p.DefaultListenAddr, "Comma-separated LibP2P listen multiaddresses")
	f.String("bootstrap", "", "Comma-separated LibP2P bootstrap peer multiaddresses")
	f.String("datadir", "data", "Directory for the block archive and node key")
	f.String("logdir", "logs", "Directory for log files")
	f.String("db", blockchain.ArchiveMemory, "Block archive backend (memory, leveldb, pebble)")
	f.BoolP("verbose", "v", false, "Enable detailed logging")
	f.String("nodekeypass", "", "Passphrase for the node's private key")
	f.Bool("reward-from-key", false, "Pay mining rewards to the node key's address")
	f.String("reward-address", "", "Hex address mining rewards are paid to")
	f.Int("workers", 0, "Proof-of-work search goroutines (0 = one per CPU)")
	f.Int("max-block-txs", 0, "Mempool transactions included per mined block")
	f.Bool("verify-work", true, "Check proof of work on blocks received from peers")
	f.Bool("mdns", true, "Discover peers on the local network with mDNS")
	f.Bool("dht", false, "Discover peers through the Kademlia DHT")
}

// BindFlags makes flags set on cmd override every other source in v.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if key == "" {
			continue
		}
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	if flag := cmd.Flags().Lookup("no-api"); flag != nil && flag.Changed {
		v.Set(KeyAPIEnabled, false)
	}
	return nil
}

// LoadDotEnv loads .env.test if present, otherwise .env, into the process
// environment. Variables already set are left alone.
func LoadDotEnv() {
	for _, name := range []string{".env.test", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			utils.LogWarn("Error loading %s file: %v", name, err)
			return
		}
		utils.LogDebug("Loaded %s file", name)
		return
	}
}

// NewViper returns a viper instance with defaults, environment lookup and the
// optional powgossip.yaml config file.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	v.SetConfigName("powgossip")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.powgossip")
	if err := v.ReadInConfig(); err == nil {
		utils.LogInfo("Using config file: %s", v.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			utils.LogWarn("Ignoring unreadable config file: %v", err)
		}
	}
	return v
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Role:            Role(strings.ToLower(v.GetString(KeyRole))),
		APIPort:         v.GetInt(KeyAPIPort),
		APIEnabled:      v.GetBool(KeyAPIEnabled),
		P2PListen:       splitList(v.GetString(KeyP2PListen)),
		BootstrapPeers:  splitList(v.GetString(KeyBootstrapPeers)),
		DataDir:         v.GetString(KeyDataDir),
		LogDir:          v.GetString(KeyLogDir),
		DBBackend:       strings.ToLower(v.GetString(KeyDBBackend)),
		Verbose:         v.GetBool(KeyVerbose),
		KeyPassphrase:   v.GetString(KeyKeyPassphrase),
		RewardFromKey:   v.GetBool(KeyRewardFromKey),
		MiningWorkers:   v.GetInt(KeyMiningWorkers),
		MaxBlockTxs:     v.GetInt(KeyMaxBlockTxs),
		VerifyWork:      v.GetBool(KeyVerifyWork),
		EnableMDNS:      v.GetBool(KeyMDNS),
		EnableDHT:       v.GetBool(KeyDHT),
		MempoolCapacity: v.GetInt(KeyMempoolCapacity),
		PollTimeout:     v.GetDuration(KeyPollTimeout),
	}

	switch cfg.Role {
	case RoleMiner, RoleNode:
	default:
		return nil, fmt.Errorf("unknown role %q (want %s or %s)", cfg.Role, RoleMiner, RoleNode)
	}
	switch cfg.DBBackend {
	case blockchain.ArchiveMemory, blockchain.ArchiveLevelDB, blockchain.ArchivePebble:
	default:
		return nil, fmt.Errorf("unknown db backend %q", cfg.DBBackend)
	}
	if cfg.APIEnabled && (cfg.APIPort <= 0 || cfg.APIPort > 65535) {
		return nil, fmt.Errorf("invalid api port %d", cfg.APIPort)
	}
	if cfg.MiningWorkers < 0 || cfg.MaxBlockTxs < 0 {
		return nil, errors.New("workers and max block txs cannot be negative")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = p2p.DefaultPollTimeout
	}
	if cfg.RewardFromKey && cfg.KeyPassphrase == "" {
		return nil, errors.New("reward from key needs a node key passphrase")
	}

	cfg.RewardAddress = blockchain.DefaultRewardAddress()
	if s := v.GetString(KeyRewardAddress); s != "" {
		addr, err := blockchain.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid reward address: %w", err)
		}
		cfg.RewardAddress = addr
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
