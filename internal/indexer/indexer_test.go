package indexer

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/aggregator"
	"cove-indexer/internal/alerting"
	"cove-indexer/internal/chain"
	"cove-indexer/internal/config"
	"cove-indexer/internal/entity"
	"cove-indexer/internal/event"
	"cove-indexer/internal/metrics"
	"cove-indexer/internal/storage"
)

var (
	exchange = common.HexToAddress("0x00000000000000000000000000000000000e0c0e")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// shortTailOracle prices USDC and WETH only.
type shortTailOracle struct {
	err    error
	blocks []uint64
}

func (o *shortTailOracle) CoveBalances(context.Context, common.Address, int32) (aggregator.CoveBalances, error) {
	return aggregator.CoveBalances{}, errors.New("not supported")
}

func (o *shortTailOracle) CoveAssetPrice(context.Context, common.Address, int32) (aggregator.CoveAssetQuote, error) {
	return aggregator.CoveAssetQuote{}, errors.New("not supported")
}

func (o *shortTailOracle) USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if o.err != nil {
		return decimal.Zero, o.err
	}
	if b, ok := chain.BlockFrom(ctx); ok {
		o.blocks = append(o.blocks, b.Number)
	}
	if symbol == "WETH" {
		return decimal.NewFromInt(2000), nil
	}
	return decimal.NewFromInt(1), nil
}

func (o *shortTailOracle) TokenBalance(context.Context, common.Address, int32, common.Address) (decimal.Decimal, error) {
	if o.err != nil {
		return decimal.Zero, o.err
	}
	return decimal.NewFromInt(1000), nil
}

func (o *shortTailOracle) TokenMetadata(context.Context, common.Address) (aggregator.TokenMetadata, error) {
	return aggregator.TokenMetadata{}, errors.New("not supported")
}

type recordingPublisher struct {
	events  []string
	changes [][]entity.Entity
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, eventID string, changes []entity.Entity) error {
	p.events = append(p.events, eventID)
	p.changes = append(p.changes, changes)
	return p.err
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

type fakeSource struct {
	head   uint64
	events []event.Envelope
	ranges [][2]uint64
}

func (f *fakeSource) Head(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeSource) Fetch(_ context.Context, from, to uint64) ([]event.Envelope, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []event.Envelope
	for _, env := range f.events {
		meta, _ := env.Meta()
		if meta.BlockNumber >= from && meta.BlockNumber <= to {
			out = append(out, env)
		}
	}
	return out, nil
}

type fixture struct {
	svc       *Service
	mem       *storage.Memory
	oracle    *shortTailOracle
	publisher *recordingPublisher
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	source    *fakeSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := aggregator.NewRegistry(config.TokensConfig{
		ShortTail: []config.TokenConfig{
			{Address: usdc.Hex(), Symbol: "USDC", Decimals: 6},
			{Address: weth.Hex(), Symbol: "WETH", Decimals: 18},
		},
	})
	require.NoError(t, err)

	f := &fixture{
		mem:       storage.NewMemory(),
		oracle:    &shortTailOracle{},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		metrics:   metrics.New(),
		source:    &fakeSource{},
	}
	eng, err := aggregator.New(aggregator.Options{Oracle: f.oracle, Registry: reg, DirectExchange: exchange}, zerolog.Nop())
	require.NoError(t, err)

	f.svc, err = New(Options{BatchSize: 2, Environment: "test"}, Dependencies{
		Backend:   f.mem,
		Engine:    eng,
		Source:    f.source,
		Publisher: f.publisher,
		Notifier:  f.notifier,
		Metrics:   f.metrics,
	}, zerolog.Nop())
	require.NoError(t, err)
	return f
}

func swapAt(block uint64, logIndex uint) event.Envelope {
	env, err := event.Wrap(event.Swap{
		Meta: event.Meta{
			BlockNumber: block,
			TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
			LogIndex:    logIndex,
			Timestamp:   int64(block) * 12,
			From:        alice,
		},
		InAsset:   usdc,
		OutAsset:  weth,
		Recipient: bob,
		InAmount:  big.NewInt(100_000_000),
		OutAmount: new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil),
	})
	if err != nil {
		panic(err)
	}
	return env
}

func loadPool(t *testing.T, f *fixture) *entity.Pool {
	t.Helper()
	pool, found, err := storage.Load[entity.Pool](context.Background(), storage.NewSession(f.mem), event.AddressID(exchange))
	require.NoError(t, err)
	require.True(t, found)
	return pool
}

func TestProcessCommitsEventWithCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Process(ctx, swapAt(10, 3))
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	cp, err := f.svc.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.EqualValues(t, 10, cp.BlockNumber)
	assert.EqualValues(t, 3, cp.LogIndex)
	assert.Equal(t, res.EventID, cp.EventID)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, res.EventID, f.publisher.events[0])
	for _, e := range f.publisher.changes[0] {
		assert.NotEqual(t, entity.KindCheckpoint, e.EntityKind())
	}
	assert.Equal(t, []uint64{10, 10}, f.oracle.blocks)

	assert.EqualValues(t, 1, loadPool(t, f).TxCount)
}

func TestProcessSkipsRedeliveredEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Process(ctx, swapAt(10, 3))
	require.NoError(t, err)

	for _, env := range []event.Envelope{swapAt(10, 3), swapAt(10, 1), swapAt(9, 7)} {
		res, err := f.svc.Process(ctx, env)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
	}
	assert.EqualValues(t, 1, loadPool(t, f).TxCount)
	assert.Len(t, f.publisher.events, 1)

	res, err := f.svc.Process(ctx, swapAt(10, 4))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.EqualValues(t, 2, loadPool(t, f).TxCount)
}

func TestProcessFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("rpc unavailable")

	_, err := f.svc.Process(context.Background(), swapAt(10, 0))
	require.Error(t, err)

	var evErr *aggregator.EventError
	require.ErrorAs(t, err, &evErr)
	assert.ErrorIs(t, err, aggregator.ErrLookupFailed)

	for _, kind := range entity.Kinds {
		assert.Zero(t, f.mem.Len(kind), "kind %s", kind)
	}
	assert.Empty(t, f.publisher.events)

	require.Len(t, f.notifier.notes, 1)
	note := f.notifier.notes[0]
	assert.Equal(t, "lookup_failed", note.Reason)
	assert.Equal(t, "swap", note.EventType)
	assert.EqualValues(t, 10, note.BlockNumber)
	assert.Equal(t, "test", note.Environment)

	count, err := testutil.GatherAndCount(f.metrics.Registry(), "coveindexer_events_failed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPublishFailureDoesNotRejectEvent(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("nats down")

	_, err := f.svc.Process(context.Background(), swapAt(10, 0))
	require.NoError(t, err)

	cp, err := f.svc.Checkpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.EqualValues(t, 10, cp.BlockNumber)
}

func encodeLog(t *testing.T, envs ...event.Envelope) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := event.NewWriter(&buf)
	for _, env := range envs {
		require.NoError(t, w.Write(env))
	}
	return &buf
}

func TestReplayIsDeterministic(t *testing.T) {
	envs := []event.Envelope{swapAt(1, 0), swapAt(1, 2), swapAt(300, 0), swapAt(7300, 5)}
	raw := encodeLog(t, envs...).String()

	first := newFixture(t)
	second := newFixture(t)

	stats, err := first.svc.Replay(context.Background(), strings.NewReader(raw), false)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Processed: 4}, stats)

	_, err = second.svc.Replay(context.Background(), strings.NewReader(raw), false)
	require.NoError(t, err)

	for _, kind := range entity.Kinds {
		assert.Equal(t, first.mem.Dump(kind), second.mem.Dump(kind), "kind %s", kind)
	}

	// replaying again only skips
	stats, err = first.svc.Replay(context.Background(), strings.NewReader(raw), false)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Skipped: 4}, stats)
}

func TestReplayRejectsOutOfOrderLog(t *testing.T) {
	f := newFixture(t)
	log := encodeLog(t, swapAt(5, 1), swapAt(5, 1))

	stats, err := f.svc.Replay(context.Background(), log, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")
	assert.Equal(t, 1, stats.Processed)
}

func TestReplayContinueOnError(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("rpc unavailable")

	stats, err := f.svc.Replay(context.Background(), encodeLog(t, swapAt(1, 0), swapAt(2, 0)), true)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Failed: 2}, stats)

	_, err = f.svc.Replay(context.Background(), encodeLog(t, swapAt(1, 0)), false)
	assert.ErrorIs(t, err, aggregator.ErrLookupFailed)
}

func TestSyncFollowsChainInBatches(t *testing.T) {
	f := newFixture(t)
	f.svc.opts.StartBlock = 1
	f.source.head = 5
	f.source.events = []event.Envelope{swapAt(1, 0), swapAt(3, 0), swapAt(3, 1), swapAt(5, 0)}

	require.NoError(t, f.svc.Sync(context.Background()))
	assert.Equal(t, [][2]uint64{{1, 2}, {3, 4}, {5, 5}}, f.source.ranges)
	assert.EqualValues(t, 4, loadPool(t, f).TxCount)

	// new events land in the checkpoint block and beyond
	f.source.ranges = nil
	f.source.head = 6
	f.source.events = append(f.source.events, swapAt(5, 9), swapAt(6, 0))
	require.NoError(t, f.svc.Sync(context.Background()))
	assert.Equal(t, [][2]uint64{{5, 6}}, f.source.ranges)
	assert.EqualValues(t, 6, loadPool(t, f).TxCount)

	cp, err := f.svc.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 6, cp.BlockNumber)
}

func TestSyncStopsAtRejectedEvent(t *testing.T) {
	f := newFixture(t)
	f.source.head = 2
	f.source.events = []event.Envelope{swapAt(1, 0)}
	f.oracle.err = errors.New("rpc unavailable")

	err := f.svc.Sync(context.Background())
	require.Error(t, err)

	cp, err := f.svc.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestReason(t *testing.T) {
	cases := map[string]error{
		"lookup_failed":      aggregator.ErrLookupFailed,
		"unclassified_token": aggregator.ErrUnclassifiedToken,
		"duplicate_swap":     aggregator.ErrDuplicateSwap,
		"store":              aggregator.ErrStore,
		"other":              errors.New("boom"),
	}
	for want, err := range cases {
		wrapped := &aggregator.EventError{EventID: "x", Op: "swap", Err: err}
		if got := Reason(wrapped); got != want {
			t.Fatalf("期望 %s 实际 %s", want, got)
		}
	}
}

func TestNewRequiresBackendAndEngine(t *testing.T) {
	_, err := New(Options{}, Dependencies{}, zerolog.Nop())
	require.Error(t, err)
	_, err = New(Options{}, Dependencies{Backend: storage.NewMemory()}, zerolog.Nop())
	require.Error(t, err)
}
