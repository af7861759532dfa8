package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"arbiter/internal/common/cache"
	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
)

const trackKeyPrefix = "judge:track:"

// recordResultScript is the single synchronization point for callback
// ingestion. It combines, in one indivisible operation: dedup insert of the
// runner token, first-writer-wins write of the payload at the test-case
// index, increment of the received counter, and a read of the expected
// total. A separate check-then-act sequence would lose updates under
// concurrent delivery across service instances.
//
// KEYS[1] tokens set, KEYS[2] results hash, KEYS[3] received counter,
// KEYS[4] meta hash. ARGV[1] token, ARGV[2] index, ARGV[3] payload,
// ARGV[4] ttl millis. Returns {accepted, received, total}.
const recordResultScript = `
local added = redis.call('SADD', KEYS[1], ARGV[1])
local total = tonumber(redis.call('HGET', KEYS[4], 'total') or '0')
if added == 0 then
  local received = tonumber(redis.call('GET', KEYS[3]) or '0')
  return {0, received, total}
end
redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[3])
local received = redis.call('INCR', KEYS[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
  redis.call('PEXPIRE', KEYS[2], ARGV[4])
  redis.call('PEXPIRE', KEYS[3], ARGV[4])
end
return {1, received, total}
`

// RecordOutcome is the result of one recordResult attempt.
type RecordOutcome struct {
	Accepted bool
	Received int
	Total    int
}

// Completed reports whether this record crossed the completion threshold.
// Only an accepted write can cross it, so duplicates never re-trigger
// finalize scheduling.
func (o RecordOutcome) Completed() bool {
	return o.Accepted && o.Total > 0 && o.Received >= o.Total
}

// StoredResult is the per-test payload kept in the tracking session.
// The runner token is retained for the enriched detail fetch on
// wrong-answer verdicts.
type StoredResult struct {
	Token  string               `json:"token"`
	Result model.TestCaseResult `json:"result"`
}

// Session is a loaded tracking session.
type Session struct {
	Meta    model.TrackingMeta
	Results map[int]StoredResult
}

// TrackingRepository owns the ephemeral per-submission aggregation state.
type TrackingRepository struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewTrackingRepository creates a tracking repository. ttl bounds the
// lifetime of sessions whose callbacks never complete.
func NewTrackingRepository(cacheClient cache.Cache, ttl time.Duration) *TrackingRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TrackingRepository{cache: cacheClient, ttl: ttl}
}

func trackKeys(submissionID string) (tokens, results, recv, meta string) {
	base := trackKeyPrefix + submissionID
	return base + ":tokens", base + ":results", base + ":recv", base + ":meta"
}

// CreateSession initializes the tracking session for a dispatched batch.
func (r *TrackingRepository) CreateSession(ctx context.Context, submissionID string, meta model.TrackingMeta) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if meta.Total <= 0 {
		return appErr.ValidationError("total", "must be positive")
	}
	_, _, recvKey, metaKey := trackKeys(submissionID)
	fields := map[string]interface{}{
		"total":           meta.Total,
		"mode":            string(meta.Mode),
		"user_id":         meta.UserID,
		"problem_id":      meta.ProblemID,
		"language":        meta.Language,
		"time_limit_ms":   meta.TimeLimitMs,
		"memory_limit_kb": meta.MemoryLimitKB,
	}
	if err := r.cache.HMSet(ctx, metaKey, fields); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create tracking session failed")
	}
	if err := r.cache.Expire(ctx, metaKey, r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "expire tracking session failed")
	}
	if err := r.cache.Set(ctx, recvKey, 0, r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "init received counter failed")
	}
	return nil
}

// RecordResult atomically records one callback result.
func (r *TrackingRepository) RecordResult(ctx context.Context, submissionID string, index int, token string, result StoredResult) (RecordOutcome, error) {
	if submissionID == "" || token == "" {
		return RecordOutcome{}, appErr.ValidationError("submission_id/token", "required")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return RecordOutcome{}, appErr.Wrapf(err, appErr.InvalidParams, "encode result failed")
	}
	tokensKey, resultsKey, recvKey, metaKey := trackKeys(submissionID)
	raw, err := r.cache.Eval(ctx, recordResultScript,
		[]string{tokensKey, resultsKey, recvKey, metaKey},
		token, strconv.Itoa(index), string(payload), r.ttl.Milliseconds())
	if err != nil {
		return RecordOutcome{}, appErr.Wrapf(err, appErr.CacheError, "record result failed")
	}
	return parseRecordOutcome(raw)
}

func parseRecordOutcome(raw interface{}) (RecordOutcome, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return RecordOutcome{}, appErr.Newf(appErr.CacheError, "unexpected script reply %T", raw)
	}
	nums := make([]int64, 3)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return RecordOutcome{}, appErr.Newf(appErr.CacheError, "unexpected script reply element %T", v)
		}
		nums[i] = n
	}
	return RecordOutcome{
		Accepted: nums[0] == 1,
		Received: int(nums[1]),
		Total:    int(nums[2]),
	}, nil
}

// LoadSession reads the full tracking session.
// Returns TrackingExpired if the session is gone (TTL elapsed or already
// consumed by a finalize run).
func (r *TrackingRepository) LoadSession(ctx context.Context, submissionID string) (*Session, error) {
	_, resultsKey, _, metaKey := trackKeys(submissionID)
	metaFields, err := r.cache.HGetAll(ctx, metaKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load tracking meta failed")
	}
	if len(metaFields) == 0 {
		return nil, appErr.New(appErr.TrackingExpired)
	}
	meta, err := metaFromFields(metaFields)
	if err != nil {
		return nil, err
	}

	rawResults, err := r.cache.HGetAll(ctx, resultsKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load tracking results failed")
	}
	results := make(map[int]StoredResult, len(rawResults))
	for field, payload := range rawResults {
		index, err := strconv.Atoi(field)
		if err != nil {
			return nil, appErr.Newf(appErr.CacheError, "invalid result index %q", field)
		}
		var stored StoredResult
		if err := json.Unmarshal([]byte(payload), &stored); err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "decode result %d failed", index)
		}
		results[index] = stored
	}
	return &Session{Meta: meta, Results: results}, nil
}

// DeleteSession removes all ephemeral keys for a submission.
func (r *TrackingRepository) DeleteSession(ctx context.Context, submissionID string) error {
	tokensKey, resultsKey, recvKey, metaKey := trackKeys(submissionID)
	if err := r.cache.Del(ctx, tokensKey, resultsKey, recvKey, metaKey); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete tracking session failed")
	}
	return nil
}

func metaFromFields(fields map[string]string) (model.TrackingMeta, error) {
	var meta model.TrackingMeta
	var err error
	if meta.Total, err = strconv.Atoi(fields["total"]); err != nil {
		return meta, appErr.Newf(appErr.CacheError, "invalid tracking total %q", fields["total"])
	}
	meta.Mode = model.ParseMode(fields["mode"])
	meta.Language = fields["language"]
	meta.UserID = parseInt64(fields["user_id"])
	meta.ProblemID = parseInt64(fields["problem_id"])
	meta.TimeLimitMs = parseInt64(fields["time_limit_ms"])
	meta.MemoryLimitKB = parseInt64(fields["memory_limit_kb"])
	return meta, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
