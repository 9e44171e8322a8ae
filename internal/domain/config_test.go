package domain

import (
	"errors"
	"testing"
	"time"
)

func validCopyConfig() CopyTradingConfig {
	return CopyTradingConfig{
		LeaderID:             "leader",
		FollowerID:           "follower",
		Multiplier:           1,
		SizingMode:           SizingC1,
		MaxExposureUSD:       1000,
		LiquidationBufferPct: 0.1,
		ReconcileInterval:    time.Second,
	}
}

func TestCopyTradingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CopyTradingConfig)
		wantErr bool
	}{
		{"Valid", func(c *CopyTradingConfig) {}, false},
		{"Missing leader", func(c *CopyTradingConfig) { c.LeaderID = "" }, true},
		{"Missing follower", func(c *CopyTradingConfig) { c.FollowerID = "" }, true},
		{"Unknown mode", func(c *CopyTradingConfig) { c.SizingMode = "C3" }, true},
		{"C2 accepted", func(c *CopyTradingConfig) { c.SizingMode = SizingC2 }, false},
		{"Buffer above one", func(c *CopyTradingConfig) { c.LiquidationBufferPct = 1.5 }, true},
		{"Zero interval", func(c *CopyTradingConfig) { c.ReconcileInterval = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validCopyConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCopyConfig) {
				t.Errorf("expected ErrInvalidCopyConfig, got %v", err)
			}
		})
	}
}
