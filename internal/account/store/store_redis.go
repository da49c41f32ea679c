package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"confirmit/internal/account/models"
	"confirmit/pkg/sentinel"
)

// RedisStore keeps reputation records in Redis hashes. Counter updates use
// HINCRBY and a Lua script so concurrent checks and reports stay atomic
// without locks.
//
// Keys:
//
//	rep:{fingerprint}         hash with the record's scalar fields
//	rep:{fingerprint}:flags   list of flag strings
//	reports:{fingerprint}     list of JSON-encoded reports, newest first
type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedis(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func recordKey(fingerprint string) string  { return "rep:" + fingerprint }
func flagsKey(fingerprint string) string   { return "rep:" + fingerprint + ":flags" }
func reportsKey(fingerprint string) string { return "reports:" + fingerprint }

// recordFraudScript applies one fraud report atomically. The tier branches
// mirror models.DeriveRiskTier.
//
// KEYS[1] record hash, KEYS[2] flags list
// ARGV[1] penalty, ARGV[2] flag, ARGV[3] updated_at (RFC 3339)
var recordFraudScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return redis.error_reply('NOTFOUND')
end
local total = redis.call('HINCRBY', KEYS[1], 'fraud_total', 1)
redis.call('HINCRBY', KEYS[1], 'fraud_recent_30d', 1)
local score = tonumber(redis.call('HGET', KEYS[1], 'trust_score')) - tonumber(ARGV[1])
if score < 0 then
	score = 0
end
local tier = 'low'
if total >= 5 or score < 30 then
	tier = 'high'
elseif total >= 2 or score < 60 then
	tier = 'medium'
end
redis.call('HSET', KEYS[1], 'trust_score', score, 'risk_tier', tier, 'updated_at', ARGV[3])
redis.call('RPUSH', KEYS[2], ARGV[2])
return score
`)

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*models.ReputationRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, recordKey(fingerprint)).Result()
	if err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	flags, err := s.rdb.LRange(ctx, flagsKey(fingerprint), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get flags: %w", err)
	}
	return recordFromHash(fingerprint, fields, flags)
}

func (s *RedisStore) Create(ctx context.Context, record *models.ReputationRecord) error {
	created, err := s.rdb.HSetNX(ctx, recordKey(record.Fingerprint), "fingerprint", record.Fingerprint).Result()
	if err != nil {
		return fmt.Errorf("create reputation: %w", err)
	}
	if !created {
		return sentinel.ErrConflict
	}
	return s.write(ctx, record, true)
}

func (s *RedisStore) SaveRefresh(ctx context.Context, record *models.ReputationRecord) error {
	return s.write(ctx, record, false)
}

func (s *RedisStore) write(ctx context.Context, record *models.ReputationRecord, withCounters bool) error {
	fields := map[string]any{
		"fingerprint":         record.Fingerprint,
		"bank_code":           record.BankCode,
		"trust_score":         record.TrustScore,
		"risk_tier":           string(record.RiskTier),
		"fraud_total":         record.FraudTotal,
		"fraud_recent_30d":    record.FraudRecent30d,
		"linked_business_ref": record.LinkedBusinessRef,
		"updated_at":          record.UpdatedAt.Format(time.RFC3339Nano),
	}
	if withCounters {
		fields["check_count"] = record.CheckCount
		fields["created_at"] = record.CreatedAt.Format(time.RFC3339Nano)
	}
	if record.LastCheckedAt != nil {
		fields["last_checked_at"] = record.LastCheckedAt.Format(time.RFC3339Nano)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, recordKey(record.Fingerprint), fields)
	// A refresh is allowed to create a record; seed the counter fields only
	// when they are missing so the counter survives.
	if !withCounters {
		pipe.HSetNX(ctx, recordKey(record.Fingerprint), "check_count", record.CheckCount)
		pipe.HSetNX(ctx, recordKey(record.Fingerprint), "created_at", record.CreatedAt.Format(time.RFC3339Nano))
	}
	pipe.Del(ctx, flagsKey(record.Fingerprint))
	if len(record.Flags) > 0 {
		values := make([]any, len(record.Flags))
		for i, flag := range record.Flags {
			values[i] = flag
		}
		pipe.RPush(ctx, flagsKey(record.Fingerprint), values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write reputation: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementCheckCount(ctx context.Context, fingerprint string) (int64, error) {
	exists, err := s.rdb.Exists(ctx, recordKey(fingerprint)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment check count: %w", err)
	}
	if exists == 0 {
		return 0, sentinel.ErrNotFound
	}
	count, err := s.rdb.HIncrBy(ctx, recordKey(fingerprint), "check_count", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment check count: %w", err)
	}
	return count, nil
}

func (s *RedisStore) RecordFraud(ctx context.Context, fingerprint, flag string, now time.Time) (*models.ReputationRecord, error) {
	err := recordFraudScript.Run(ctx, s.rdb,
		[]string{recordKey(fingerprint), flagsKey(fingerprint)},
		models.FraudPenalty, flag, now.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		if isScriptNotFound(err) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("record fraud: %w", err)
	}
	return s.Get(ctx, fingerprint)
}

func isScriptNotFound(err error) bool {
	var redisErr redis.Error
	return errors.As(err, &redisErr) && redisErr.Error() == "NOTFOUND"
}

func (s *RedisStore) AppendReport(ctx context.Context, report *models.FraudReport) error {
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := s.rdb.LPush(ctx, reportsKey(report.Fingerprint), value).Err(); err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

func (s *RedisStore) ListReports(ctx context.Context, fingerprint string, limit int) ([]*models.FraudReport, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit) - 1
	}
	values, err := s.rdb.LRange(ctx, reportsKey(fingerprint), 0, end).Result()
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var reports []*models.FraudReport
	for _, value := range values {
		var report models.FraudReport
		if err := json.Unmarshal([]byte(value), &report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		reports = append(reports, &report)
	}
	return reports, nil
}

func recordFromHash(fingerprint string, fields map[string]string, flags []string) (*models.ReputationRecord, error) {
	record := &models.ReputationRecord{
		Fingerprint:       fingerprint,
		BankCode:          fields["bank_code"],
		RiskTier:          models.RiskTier(fields["risk_tier"]),
		LinkedBusinessRef: fields["linked_business_ref"],
		Flags:             flags,
	}
	var err error
	if record.TrustScore, err = strconv.Atoi(fields["trust_score"]); err != nil {
		return nil, fmt.Errorf("decode trust_score: %w", err)
	}
	if v := fields["check_count"]; v != "" {
		if record.CheckCount, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("decode check_count: %w", err)
		}
	}
	if v := fields["fraud_total"]; v != "" {
		if record.FraudTotal, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode fraud_total: %w", err)
		}
	}
	if v := fields["fraud_recent_30d"]; v != "" {
		if record.FraudRecent30d, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode fraud_recent_30d: %w", err)
		}
	}
	if v := fields["last_checked_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode last_checked_at: %w", err)
		}
		record.LastCheckedAt = &t
	}
	if v := fields["created_at"]; v != "" {
		if record.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
	}
	if v := fields["updated_at"]; v != "" {
		if record.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("decode updated_at: %w", err)
		}
	}
	return record, nil
}
