// Package persistence provides an optional adapter of the kind spec §6
// allows: a process-external store for workflow results (an append-only
// log). It has no memory-snapshot adapter. It is used only when a caller
// wires it in — the core runs
// entirely in-process and process-local without it (§1 Non-goals: "durable
// queue semantics across process restarts" are explicitly not required).
// Grounded in the orchestration package's Redis execution/debug stores
// (client construction via redis.ParseURL, JSON-encoded records, a
// sorted-set index for recent-N listing).
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/agentcore/core"
	"github.com/itsneelabh/agentcore/orchestrator"
)

const (
	schemaVersion = 1

	workflowKeyPrefix = "agentcore:workflow:result:"
	workflowIndexKey  = "agentcore:workflow:result:index"
)

// StepRecord is the serializable projection of an orchestrator.StepResult;
// Err is flattened to a string since error values do not round-trip JSON.
type StepRecord struct {
	StepID   string `json:"step_id"`
	Status   string `json:"status"`
	Text     string `json:"text,omitempty"`
	Attempts int    `json:"attempts"`
	Err      string `json:"err,omitempty"`
}

// WorkflowRecord is one append-only log entry: a completed workflow run,
// tagged with a schema version so a future incompatible record shape can be
// rejected instead of silently misread (§6: "unknown version -> refuse to
// load").
type WorkflowRecord struct {
	SchemaVersion int          `json:"schema_version"`
	WorkflowID    string       `json:"workflow_id"`
	Tenant        string       `json:"tenant"`
	Status        string       `json:"status"`
	FailedStep    string       `json:"failed_step,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	RecordedAt    time.Time    `json:"recorded_at"`
	Steps         []StepRecord `json:"steps"`
}

// ToRecord projects an orchestrator.WorkflowResult into the persisted shape.
func ToRecord(workflowID string, tenant core.TenantID, wr orchestrator.WorkflowResult, recordedAt time.Time) WorkflowRecord {
	steps := make([]StepRecord, 0, len(wr.StepResults))
	for _, sr := range wr.StepResults {
		rec := StepRecord{StepID: sr.StepID, Status: string(sr.Status), Text: sr.Result.Text, Attempts: sr.Attempts}
		if sr.Err != nil {
			rec.Err = sr.Err.Error()
		}
		steps = append(steps, rec)
	}
	return WorkflowRecord{
		SchemaVersion: schemaVersion,
		WorkflowID:    workflowID,
		Tenant:        string(tenant),
		Status:        string(wr.Status),
		FailedStep:    wr.FailedStep,
		Reason:        wr.Reason,
		RecordedAt:    recordedAt,
		Steps:         steps,
	}
}

// RedisWorkflowStore is an append-only log of WorkflowRecords, one string
// key per completed run, indexed by recorded time in a sorted set for
// ListRecent.
type RedisWorkflowStore struct {
	client *redis.Client
	logger core.Logger
	ttl    time.Duration
}

// RedisWorkflowStoreOption configures NewRedisWorkflowStore.
type RedisWorkflowStoreOption func(*redisWorkflowStoreConfig)

type redisWorkflowStoreConfig struct {
	redisURL string
	db       int
	logger   core.Logger
	ttl      time.Duration
}

// WithRedisURL sets the connection string (or bare address) for the store.
func WithRedisURL(url string) RedisWorkflowStoreOption {
	return func(c *redisWorkflowStoreConfig) { c.redisURL = url }
}

// WithRedisDB selects the logical Redis database.
func WithRedisDB(db int) RedisWorkflowStoreOption {
	return func(c *redisWorkflowStoreConfig) { c.db = db }
}

// WithLogger attaches a logger for connection and append diagnostics.
func WithLogger(logger core.Logger) RedisWorkflowStoreOption {
	return func(c *redisWorkflowStoreConfig) { c.logger = logger }
}

// WithTTL bounds how long a record survives before Redis expires it; zero
// means records are kept indefinitely.
func WithTTL(ttl time.Duration) RedisWorkflowStoreOption {
	return func(c *redisWorkflowStoreConfig) { c.ttl = ttl }
}

// NewRedisWorkflowStore connects to Redis and verifies reachability with a
// Ping before returning, so a misconfigured adapter fails at construction
// rather than on the first Append.
func NewRedisWorkflowStore(opts ...RedisWorkflowStoreOption) (*RedisWorkflowStore, error) {
	cfg := &redisWorkflowStoreConfig{redisURL: "localhost:6379", logger: core.NoOpLogger{}, ttl: 30 * 24 * time.Hour}
	for _, opt := range opts {
		opt(cfg)
	}

	redisOpt, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		redisOpt = &redis.Options{Addr: cfg.redisURL}
	}
	redisOpt.DB = cfg.db

	client := redis.NewClient(redisOpt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed at %s (db %d): %w", cfg.redisURL, cfg.db, err)
	}

	cfg.logger.Info("workflow result store connected", map[string]interface{}{"addr": redisOpt.Addr, "db": cfg.db})
	return &RedisWorkflowStore{client: client, logger: cfg.logger, ttl: cfg.ttl}, nil
}

// Append writes one record to the log and its index, keyed by workflow id
// plus recorded timestamp so repeated runs of the same workflow id coexist.
func (s *RedisWorkflowStore) Append(ctx context.Context, rec WorkflowRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal workflow record: %w", err)
	}
	key := s.recordKey(rec.WorkflowID, rec.RecordedAt)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, workflowIndexKey, &redis.Z{Score: float64(rec.RecordedAt.Unix()), Member: key})
	_, err = pipe.Exec(ctx)
	return err
}

// ListRecent returns up to limit of the most recently appended records,
// newest first. Records whose schema_version does not match the store's
// compiled-in version are skipped rather than returned half-decoded (§6:
// "unknown version -> refuse to load").
func (s *RedisWorkflowStore) ListRecent(ctx context.Context, limit int) ([]WorkflowRecord, error) {
	keys, err := s.client.ZRevRange(ctx, workflowIndexKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflow index: %w", err)
	}

	out := make([]WorkflowRecord, 0, len(keys))
	for _, k := range keys {
		data, err := s.client.Get(ctx, k).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get workflow record %s: %w", k, err)
		}
		var rec WorkflowRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("discarding unparseable workflow record", map[string]interface{}{"key": k})
			continue
		}
		if rec.SchemaVersion != schemaVersion {
			s.logger.Warn("discarding workflow record with unknown schema version", map[string]interface{}{"key": k, "version": rec.SchemaVersion})
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close releases the underlying Redis client.
func (s *RedisWorkflowStore) Close() error { return s.client.Close() }

func (s *RedisWorkflowStore) recordKey(workflowID string, recordedAt time.Time) string {
	return fmt.Sprintf("%s%s:%d", workflowKeyPrefix, workflowID, recordedAt.UnixNano())
}
