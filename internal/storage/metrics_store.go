package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// MetricsStore keeps the latest metrics report in Redis under a single key.
type MetricsStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewMetricsStore connects lazily to addr. A zero ttl keeps the key forever.
func NewMetricsStore(addr, key string, ttl time.Duration) *MetricsStore {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &MetricsStore{client: client, key: key, ttl: ttl}
}

// Ping checks connectivity.
func (s *MetricsStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING: %w", err)
	}
	return nil
}

// SaveReport overwrites the stored report.
func (s *MetricsStore) SaveReport(ctx context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}
	return nil
}

// LoadReport returns the stored report, or nil if the key is absent.
func (s *MetricsStore) LoadReport(ctx context.Context) (*Report, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", s.key, err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

func (s *MetricsStore) Close() error {
	return s.client.Close()
}
