package aggregator

import (
	"context"

	"github.com/shopspring/decimal"

	"cove-indexer/internal/amount"
	"cove-indexer/internal/bucket"
	"cove-indexer/internal/entity"
	"cove-indexer/internal/storage"
)

// Rollup updates the direct-exchange Pool and its hourly and daily buckets.
// PoolID is the aggregation root every bucket points at.
type Rollup struct {
	PoolID string
}

// UpdatePoolStatus feeds one trade into the Pool and both buckets of timestamp.
// isNewUser is accepted for future unique-user counters and has no effect.
func (r Rollup) UpdatePoolStatus(ctx context.Context, s *storage.Session, timestamp int64, volumeDelta decimal.Decimal, isNewUser bool) error {
	pool, _, err := storage.LoadOrCreate[entity.Pool](ctx, s, r.PoolID, func(p *entity.Pool) {
		p.ID = r.PoolID
	})
	if err != nil {
		return storeErr(err)
	}
	if err := accumulate(&pool.TxCount, &pool.VolumeUSD, &pool.AvgTrade, volumeDelta); err != nil {
		return err
	}
	s.Upsert(pool)

	hourWindow := bucket.For(timestamp, bucket.Hour)
	hourly, _, err := storage.LoadOrCreate[entity.HourlyPoolStatus](ctx, s, bucket.ID(r.PoolID, hourWindow), func(h *entity.HourlyPoolStatus) {
		h.PoolStatus = r.newStatus(hourWindow)
	})
	if err != nil {
		return storeErr(err)
	}
	if err := accumulate(&hourly.TxCount, &hourly.VolumeUSD, &hourly.AvgTrade, volumeDelta); err != nil {
		return err
	}
	s.Upsert(hourly)

	dayWindow := bucket.For(timestamp, bucket.Day)
	daily, _, err := storage.LoadOrCreate[entity.DailyPoolStatus](ctx, s, bucket.ID(r.PoolID, dayWindow), func(d *entity.DailyPoolStatus) {
		d.PoolStatus = r.newStatus(dayWindow)
	})
	if err != nil {
		return storeErr(err)
	}
	if err := accumulate(&daily.TxCount, &daily.VolumeUSD, &daily.AvgTrade, volumeDelta); err != nil {
		return err
	}
	s.Upsert(daily)
	return nil
}

func (r Rollup) newStatus(w bucket.Window) entity.PoolStatus {
	return entity.PoolStatus{
		ID:   bucket.ID(r.PoolID, w),
		Pool: r.PoolID,
		From: w.From,
		To:   w.To,
	}
}

// accumulate increments the counter before dividing, so avg is always defined.
func accumulate(txCount *int64, volumeUSD, avgTrade *decimal.Decimal, delta decimal.Decimal) error {
	*txCount++
	*volumeUSD = volumeUSD.Add(delta)
	avg, err := amount.Average(*volumeUSD, *txCount)
	if err != nil {
		return err
	}
	*avgTrade = avg
	return nil
}
