package node

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/active"
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/confirmation"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/gapcache"
	"github.com/tundak/nano-node-sub003/p2p"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/rpc"
	"github.com/tundak/nano-node-sub003/work"
)

// ConfigVersion is the layout written by this node. Older files are upgraded
// one version at a time.
const ConfigVersion = 3

var (
	ErrInvalidConfig      = errors.New("invalid config")
	ErrConfigVersionAhead = errors.New("config was written by a newer node")
)

type NodeConfig struct {
	Network string `validate:"oneof=live beta test"`

	// Hex encoded private keys of the representatives this node votes for.
	RepresentativeKeys []string `validate:"dive,hexadecimal,len=64"`
	EnableVoting       bool

	VotesCacheSize int `validate:"min=1"`

	BlockProcessor blockprocessor.Config
	Active         active.Config
	Confirmation   confirmation.Config
	GapCache       gapcache.Config
	Work           work.Config
}

type LogsConfig struct {
	Database           bool
	Ledger             bool
	BlockProcessor     bool
	GapCache           bool
	Active             bool
	Voting             bool
	ConfirmationHeight bool
	Work               bool
	RPC                bool
}

type Config struct {
	Version uint

	Nano     p2p.Config
	HTTP     rpc.HTTPConfig
	WS       rpc.WSConfig
	Database database.Config
	Node     NodeConfig
	Logs     LogsConfig
}

func DefaultConfig(network params.Network) Config {
	networkParams := params.New(network)

	return Config{
		Version: ConfigVersion,
		Nano:    p2p.DefaultConfig(fmt.Sprintf("[::]:%d", networkParams.DefaultNodePort)),
		HTTP:    rpc.DefaultHTTPConfig(fmt.Sprintf("127.0.0.1:%d", networkParams.DefaultRPCPort)),
		WS:      rpc.DefaultWSConfig(),
		Database: database.Config{
			DataDir: "./gnano_" + network.String(),
		},
		Node: NodeConfig{
			Network:        network.String(),
			EnableVoting:   true,
			VotesCacheSize: 16384,
			BlockProcessor: blockprocessor.DefaultConfig(),
			Active:         active.DefaultConfig(),
			Confirmation:   confirmation.DefaultConfig(),
			GapCache:       gapcache.DefaultConfig(),
			Work:           work.DefaultConfig(),
		},
		Logs: LogsConfig{
			Database:       true,
			Ledger:         true,
			BlockProcessor: true,
			Active:         true,
			RPC:            true,
		},
	}
}

// upgradeV1 brings a version 1 file to version 2: the p2p worker and
// keepalive settings did not exist yet.
func upgradeV1(cfg *Config, defaults *Config) {
	if cfg.Nano.P2P.ConfirmReqWorkers == 0 {
		cfg.Nano.P2P.ConfirmReqWorkers = defaults.Nano.P2P.ConfirmReqWorkers
	}

	if cfg.Nano.P2P.ConfirmAckWorkers == 0 {
		cfg.Nano.P2P.ConfirmAckWorkers = defaults.Nano.P2P.ConfirmAckWorkers
	}

	if cfg.Nano.P2P.KeepaliveInterval == 0 {
		cfg.Nano.P2P.KeepaliveInterval = defaults.Nano.P2P.KeepaliveInterval
	}

	if cfg.Nano.P2P.IdleTimeout == 0 {
		cfg.Nano.P2P.IdleTimeout = defaults.Nano.P2P.IdleTimeout
	}
}

// upgradeV2 brings a version 2 file to version 3: rollback tracking,
// unchecked cleanup and websocket buffering were added.
func upgradeV2(cfg *Config, defaults *Config) {
	processor := &cfg.Node.BlockProcessor
	if processor.RolledBackMax == 0 {
		processor.RolledBackMax = defaults.Node.BlockProcessor.RolledBackMax
		processor.RolledBackTTL = defaults.Node.BlockProcessor.RolledBackTTL
	}

	if processor.UncheckedCutoff == 0 {
		processor.UncheckedCutoff = defaults.Node.BlockProcessor.UncheckedCutoff
	}

	if processor.UncheckedCleanupInterval == 0 {
		processor.UncheckedCleanupInterval = defaults.Node.BlockProcessor.UncheckedCleanupInterval
	}

	if cfg.WS.SubscriberBuffer == 0 {
		cfg.WS.SubscriberBuffer = defaults.WS.SubscriberBuffer
	}
}

var upgrades = map[uint]func(cfg *Config, defaults *Config){
	1: upgradeV1,
	2: upgradeV2,
}

// Upgrade applies every pending upgrade in order and reports whether
// anything changed. A missing version is read as version 1.
func (cfg *Config) Upgrade() (bool, error) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if cfg.Version > ConfigVersion {
		return false, errors.Wrapf(ErrConfigVersionAhead, "version %d, supported up to %d", cfg.Version, ConfigVersion)
	}

	if cfg.Node.Network == "" {
		cfg.Node.Network = params.NETWORK_LIVE.String()
	}

	network, err := params.ParseNetwork(cfg.Node.Network)
	if err != nil {
		return false, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	defaults := DefaultConfig(network)

	upgraded := false
	for cfg.Version < ConfigVersion {
		upgrades[cfg.Version](cfg, &defaults)
		cfg.Version++
		upgraded = true
	}

	return upgraded, nil
}

func (cfg *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	return nil
}

// WriteTxnWarnThreshold defaults to the block processor's batch time, the
// longest a healthy write transaction is held.
func (cfg *Config) WriteTxnWarnThreshold() time.Duration {
	if cfg.Database.WriteTxnWarnThreshold != 0 {
		return cfg.Database.WriteTxnWarnThreshold
	}

	return cfg.Node.BlockProcessor.BatchMaxTime
}

func (cfg *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// LoadConfig reads, upgrades and validates a TOML config file. An upgraded
// config is written back in place.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening config")
	}

	var cfg Config
	err = toml.NewDecoder(f).Decode(&cfg)
	f.Close()
	if err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	upgraded, err := cfg.Upgrade()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if upgraded {
		if err := cfg.save(path); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (cfg *Config) save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "writing upgraded config")
	}
	defer f.Close()

	return cfg.Encode(f)
}
