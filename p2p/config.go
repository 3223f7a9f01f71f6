package p2p

import "time"

type P2PConfig struct {
	MaxLivePeers      uint `validate:"min=1"`
	MaxBootstrapPeers uint
	TrustedNodes      []string
	ListenAddr        string `validate:"required"`

	ConfirmReqWorkers int `validate:"min=1"`
	ConfirmAckWorkers int `validate:"min=1"`

	KeepaliveInterval time.Duration `validate:"required"`
	// Peers silent for longer are disconnected.
	IdleTimeout time.Duration `validate:"required"`
}

type LogsConfig struct {
	PeersManager     bool
	ConfirmReqWorker bool
	ConfirmAckWorker bool
	Bootstrap        bool
}

type Config struct {
	P2P  P2PConfig
	Logs LogsConfig
}

func DefaultConfig(listenAddr string) Config {
	return Config{
		P2P: P2PConfig{
			MaxLivePeers:      32,
			MaxBootstrapPeers: 2,
			ListenAddr:        listenAddr,
			ConfirmReqWorkers: 4,
			ConfirmAckWorkers: 4,
			KeepaliveInterval: 60 * time.Second,
			IdleTimeout:       5 * time.Minute,
		},
		Logs: LogsConfig{
			PeersManager: true,
		},
	}
}
