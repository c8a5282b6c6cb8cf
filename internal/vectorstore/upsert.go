package vectorstore

import (
	"context"
	"math"
	"math/rand"
	"time"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

// UpsertConfig 控制分批、节流与重试。
type UpsertConfig struct {
	Limits BatchLimits
	// TokensPerSecond 是批次间节流的目标吞吐，默认 3000。
	TokensPerSecond float64
	// MinDelay 是批次间的最短等待，默认 2s。
	MinDelay    time.Duration
	MaxAttempts int
}

func DefaultUpsertConfig() UpsertConfig {
	return UpsertConfig{
		Limits:          DefaultBatchLimits(),
		TokensPerSecond: 3000,
		MinDelay:        2 * time.Second,
		MaxAttempts:     5,
	}
}

func (c UpsertConfig) withDefaults() UpsertConfig {
	d := DefaultUpsertConfig()
	c.Limits = c.Limits.withDefaults()
	if c.TokensPerSecond <= 0 {
		c.TokensPerSecond = d.TokensPerSecond
	}
	if c.MinDelay <= 0 {
		c.MinDelay = d.MinDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// UpsertReport 汇总一次写入。
type UpsertReport struct {
	ChunkIDs []string
	Batches  int
	Tokens   int
}

// Upserter 顺序写入各批次，以单一全局速率预算对远端限流。
type Upserter struct {
	backend Backend
	store   *ChunkStore
	cfg     UpsertConfig

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(min, max float64) float64
}

func NewUpserter(backend Backend, store *ChunkStore, cfg UpsertConfig) *Upserter {
	return &Upserter{
		backend: backend,
		store:   store,
		cfg:     cfg.withDefaults(),
		sleep:   sleepContext,
		jitter: func(min, max float64) float64 {
			return min + rand.Float64()*(max-min)
		},
	}
}

// Upsert 写入全部记录。任一批次耗尽重试后立即返回错误，之前的批次保持已提交状态。
// 每个批次成功后更新元数据缓存并追加到文档的跟踪列表。
func (u *Upserter) Upsert(ctx context.Context, namespace string, chunks []model.Chunk) (UpsertReport, error) {
	batches := PartitionBatches(chunks, u.cfg.Limits)
	report := UpsertReport{Batches: len(batches)}
	log.Infof("[Upserter] 共 %d 条记录，划分为 %d 个批次, namespace=%s", len(chunks), len(batches), namespace)

	for i, batch := range batches {
		if err := u.upsertBatch(ctx, namespace, batch, i+1, len(batches)); err != nil {
			return report, err
		}
		u.store.PutChunks(batch.Records)
		for _, rec := range batch.Records {
			report.ChunkIDs = append(report.ChunkIDs, rec.ID)
		}
		report.Tokens += batch.Tokens
		log.Infof("[Upserter] 批次 %d/%d 写入成功 (%d 条, 约 %d tokens)", i+1, len(batches), len(batch.Records), batch.Tokens)

		if i < len(batches)-1 {
			delay := u.throttleDelay(batch.Tokens)
			log.Debugf("[Upserter] 等待 %.2fs 后写入下一批次", delay.Seconds())
			if err := u.sleep(ctx, delay); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// throttleDelay 返回 max(MinDelay, tokens/TokensPerSecond) 加 0.1~0.5s 抖动。
func (u *Upserter) throttleDelay(tokens int) time.Duration {
	base := math.Max(u.cfg.MinDelay.Seconds(), float64(tokens)/u.cfg.TokensPerSecond)
	return seconds(base + u.jitter(0.1, 0.5))
}

// retryDelay 限流时指数退避 min(60, 5*2^attempt + 1~3s)，其他错误线性退避 2*(attempt+1)。
func (u *Upserter) retryDelay(attempt int, rateLimited bool) time.Duration {
	if rateLimited {
		return seconds(math.Min(60, 5*math.Pow(2, float64(attempt))+u.jitter(1, 3)))
	}
	return seconds(float64(2 * (attempt + 1)))
}

func (u *Upserter) upsertBatch(ctx context.Context, namespace string, batch Batch, n, total int) error {
	for attempt := 0; attempt < u.cfg.MaxAttempts; attempt++ {
		err := u.backend.UpsertRecords(ctx, namespace, batch.Records)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rateLimited := IsRateLimit(err)
		if attempt == u.cfg.MaxAttempts-1 {
			log.Errorf("[Upserter] 批次 %d/%d 重试 %d 次后仍失败: %v", n, total, u.cfg.MaxAttempts, err)
			if rateLimited {
				return &RateLimitExceededError{Batch: n, Total: total, Attempts: u.cfg.MaxAttempts, Err: err}
			}
			return &RemoteBackendError{Batch: n, Total: total, Attempts: u.cfg.MaxAttempts, Err: err}
		}

		wait := u.retryDelay(attempt, rateLimited)
		log.Warnf("[Upserter] 批次 %d/%d 写入失败 (限流=%t)，%.2fs 后进行第 %d/%d 次重试: %v",
			n, total, rateLimited, wait.Seconds(), attempt+1, u.cfg.MaxAttempts, err)
		if err := u.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
