package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
)

// DefaultRedisPrefix namespaces archive keys when no prefix is configured.
const DefaultRedisPrefix = "loadctl"

// RedisArchive appends JSON-encoded samples to one list per test and keeps
// a set of the tests seen for each run.
type RedisArchive struct {
	client *redis.Client
	prefix string
}

// NewRedisArchive wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisArchive(client *redis.Client, prefix string) *RedisArchive {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisArchive{client: client, prefix: prefix}
}

// SamplesKey is the list holding one test's samples.
func (a *RedisArchive) SamplesKey(runID, testID string) string {
	return fmt.Sprintf("%s:run:%s:test:%s:samples", a.prefix, runID, testID)
}

// TestsKey is the set of test IDs archived for a run.
func (a *RedisArchive) TestsKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:tests", a.prefix, runID)
}

// Write pushes samples through a single pipeline.
func (a *RedisArchive) Write(ctx context.Context, runID, testID string, samples []orchestrator.RequestSample) error {
	if len(samples) == 0 {
		return nil
	}

	values, err := encodeSamples(samples)
	if err != nil {
		return err
	}

	pipeline := a.client.Pipeline()
	pipeline.SAdd(ctx, a.TestsKey(runID), testID)
	pipeline.RPush(ctx, a.SamplesKey(runID, testID), values...)

	cmds, err := pipeline.Exec(ctx)
	if err != nil {
		return fmt.Errorf("archiving samples for %s: %w", testID, err)
	}
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			err = errors.Join(err, cmd.Err())
		}
	}
	return err
}

// Samples reads back the samples stored for one test of a run.
func (a *RedisArchive) Samples(ctx context.Context, runID, testID string) ([]orchestrator.RequestSample, error) {
	values, err := a.client.LRange(ctx, a.SamplesKey(runID, testID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	samples := make([]orchestrator.RequestSample, 0, len(values))
	for i, v := range values {
		s, err := decodeSample(v)
		if err != nil {
			return nil, fmt.Errorf("decoding sample %d: %w", i, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Close closes the client.
func (a *RedisArchive) Close() error {
	return a.client.Close()
}

func encodeSamples(samples []orchestrator.RequestSample) ([]interface{}, error) {
	values := make([]interface{}, len(samples))
	for i, s := range samples {
		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encoding sample %d: %w", i, err)
		}
		values[i] = string(b)
	}
	return values, nil
}

func decodeSample(v string) (orchestrator.RequestSample, error) {
	var s orchestrator.RequestSample
	err := json.Unmarshal([]byte(v), &s)
	return s, err
}
