package active

type Config struct {
	AnnouncementsPerInterval int  `validate:"min=1"`
	AnnouncementLong         uint `validate:"min=1"`

	// Elections are only evicted above the larger of this and ten times the
	// recent confirmation rate.
	ActiveElectionsMinimum int `validate:"min=1"`

	RecentConfirmationsSize int `validate:"min=1"`
	RecentlyConfirmedSize   int `validate:"min=1"`
	TrendedSamples          int `validate:"min=1"`

	MaxWeightSamples uint64 `validate:"min=1"`
}

func DefaultConfig() Config {
	return Config{
		AnnouncementsPerInterval: 32,
		AnnouncementLong:         20,
		ActiveElectionsMinimum:   5000,
		RecentConfirmationsSize:  2048,
		RecentlyConfirmedSize:    65536,
		TrendedSamples:           20,
		MaxWeightSamples:         4032,
	}
}
