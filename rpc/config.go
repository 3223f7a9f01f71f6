package rpc

type HTTPConfig struct {
	Enabled    bool
	ListenAddr string `validate:"required_if=Enabled true"`
	// Allows work_generate and work_cancel.
	EnableControl bool
}

type WSConfig struct {
	Enabled bool
	// Messages queued per subscriber before new ones are dropped.
	SubscriberBuffer int `validate:"min=1"`
}

func DefaultHTTPConfig(listenAddr string) HTTPConfig {
	return HTTPConfig{
		Enabled:    true,
		ListenAddr: listenAddr,
	}
}

func DefaultWSConfig() WSConfig {
	return WSConfig{
		Enabled:          true,
		SubscriberBuffer: 100,
	}
}
