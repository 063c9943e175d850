package config_test

import (
	"errors"
	"testing"

	"brewfeed/backend/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DBHost:                   "localhost",
		DBUser:                   "user",
		DBName:                   "db",
		QueueDriver:              "nsq",
		DedupShingleSize:         3,
		DedupNumHashes:           128,
		DedupThreshold:           0.75,
		DedupEarlyExit:           0.90,
		PartitionRetentionMonths: 12,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:    "Valid Config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBUser",
			mutate:  func(c *config.Config) { c.DBUser = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBName = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Unknown queue driver",
			mutate:  func(c *config.Config) { c.QueueDriver = "kafka" },
			wantErr: true,
			errIs:   config.ErrInvalid,
		},
		{
			name:    "Threshold above one",
			mutate:  func(c *config.Config) { c.DedupThreshold = 1.5 },
			wantErr: true,
			errIs:   config.ErrInvalid,
		},
		{
			name:    "Early exit below threshold",
			mutate:  func(c *config.Config) { c.DedupEarlyExit = 0.5 },
			wantErr: true,
			errIs:   config.ErrInvalid,
		},
		{
			name:    "Zero retention",
			mutate:  func(c *config.Config) { c.PartitionRetentionMonths = 0 },
			wantErr: true,
			errIs:   config.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
