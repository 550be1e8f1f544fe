package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cove-indexer/internal/amount"
	"cove-indexer/internal/entity"
	"cove-indexer/internal/event"
	"cove-indexer/internal/storage"
)

// UnknownSource is the TransactionSource id of swaps without integrator data.
const UnknownSource = "Unknown"

// Options configures the engine.
type Options struct {
	Oracle         Oracle
	Registry       *Registry
	DirectExchange common.Address
}

// Engine applies Cove events to the entity graph staged in a storage.Session.
// It keeps no state between events.
type Engine struct {
	oracle         Oracle
	registry       *Registry
	directExchange common.Address
	rollup         Rollup
	logger         zerolog.Logger
}

// New constructs an Engine.
func New(opts Options, logger zerolog.Logger) (*Engine, error) {
	if opts.Oracle == nil {
		return nil, errors.New("aggregator: oracle is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("aggregator: registry is required")
	}
	if opts.DirectExchange == (common.Address{}) {
		return nil, errors.New("aggregator: direct exchange address is required")
	}
	return &Engine{
		oracle:         opts.Oracle,
		registry:       opts.Registry,
		directExchange: opts.DirectExchange,
		rollup:         Rollup{PoolID: event.AddressID(opts.DirectExchange)},
		logger:         logger.With().Str("component", "aggregator").Logger(),
	}, nil
}

// PoolID returns the id of the Pool aggregation root.
func (e *Engine) PoolID() string {
	return e.rollup.PoolID
}

// Apply dispatches env to its handler.
func (e *Engine) Apply(ctx context.Context, s *storage.Session, env event.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	switch env.Type {
	case event.TypeDeposit:
		return e.OnDeposit(ctx, s, *env.Deposit)
	case event.TypeSwap:
		return e.OnSwap(ctx, s, *env.Swap)
	default:
		return e.OnWithdraw(ctx, s, *env.Withdraw)
	}
}

// OnDeposit refreshes the depositor's cove balances and activates the stake.
func (e *Engine) OnDeposit(ctx context.Context, s *storage.Session, ev event.Deposit) error {
	fail := func(err error) error {
		return &EventError{EventID: ev.ID(), Op: "deposit", Err: err}
	}

	asset, err := e.loadToken(ctx, s, ev.Token, entity.LongTail)
	if err != nil {
		return fail(err)
	}
	if asset.Type != entity.LongTail {
		return fail(fmt.Errorf("%w: deposit asset %s is %s", ErrUnclassifiedToken, asset.ID, asset.Type))
	}

	cove, err := e.loadCove(ctx, s, ev.Token, ev.Depositor, ev.Meta)
	if err != nil {
		return fail(err)
	}

	balances, err := e.oracle.CoveBalances(ctx, ev.Token, asset.Decimals)
	if err != nil {
		return fail(lookupErr("cove balances "+asset.ID, err))
	}
	if !nonNegative(balances.PoolTokenAmount, balances.AssetBalance) {
		return fail(lookupErr("cove balances "+asset.ID, errors.New("negative balance")))
	}

	cove.DepositCount++
	cove.PoolTokenAmount = balances.PoolTokenAmount
	cove.LongtailTokenAmount = balances.AssetBalance

	depositor := event.AddressID(ev.Depositor)
	stakeID := entity.UserCoveStakeID(cove.ID, depositor)
	stake, _, err := storage.LoadOrCreate[entity.UserCoveStake](ctx, s, stakeID, func(st *entity.UserCoveStake) {
		st.ID = stakeID
		st.Cove = cove.ID
		st.User = depositor
	})
	if err != nil {
		return fail(storeErr(err))
	}
	stake.Active = true

	s.Upsert(cove)
	s.Upsert(stake)

	e.logger.Debug().
		Str("event_id", ev.ID()).
		Str("cove", cove.ID).
		Int64("deposits", cove.DepositCount).
		Msg("deposit applied")
	return nil
}

// leg is the priced view of one side of a swap.
type leg struct {
	addr       common.Address
	token      *entity.Token
	amount     decimal.Decimal
	price      decimal.Decimal
	balance    decimal.Decimal
	balanceUSD decimal.Decimal
	poolTokens decimal.Decimal
}

func (l leg) amountUSD() decimal.Decimal {
	return l.price.Mul(l.amount)
}

// OnSwap records the swap, updates both tokens, the transaction source, the
// user and pool rollups for short-tail trades, and the coves of long-tail legs.
func (e *Engine) OnSwap(ctx context.Context, s *storage.Session, ev event.Swap) error {
	fail := func(err error) error {
		return &EventError{EventID: ev.ID(), Op: "swap", Err: err}
	}

	swapID := entity.SwapID(ev.TxHash.Hex(), ev.LogIndex)
	if _, exists, err := storage.Load[entity.Swap](ctx, s, swapID); err != nil {
		return fail(storeErr(err))
	} else if exists {
		return fail(fmt.Errorf("%w: %s", ErrDuplicateSwap, swapID))
	}

	in, err := e.priceLeg(ctx, s, ev.InAsset, ev.InAmount)
	if err != nil {
		return fail(err)
	}
	out, err := e.priceLeg(ctx, s, ev.OutAsset, ev.OutAmount)
	if err != nil {
		return fail(err)
	}

	amountInUSD := in.amountUSD()
	amountOutUSD := out.amountUSD()
	volume := amount.Mean(amountInUSD, amountOutUSD)

	origin := event.AddressID(ev.From)
	recipient := event.AddressID(ev.Recipient)

	sourceID, sourceName := transactionSource(ev.AuxiliaryData)
	source, _, err := storage.LoadOrCreate[entity.TransactionSource](ctx, s, sourceID, func(src *entity.TransactionSource) {
		src.ID = sourceID
		src.Name = sourceName
	})
	if err != nil {
		return fail(storeErr(err))
	}
	source.TxCount++
	s.Upsert(source)

	s.Upsert(&entity.Swap{
		ID:                  swapID,
		Transaction:         ev.TxHash.Hex(),
		LogIndex:            ev.LogIndex,
		Timestamp:           ev.Timestamp,
		InToken:             in.token.ID,
		OutToken:            out.token.ID,
		Origin:              origin,
		Sender:              origin,
		Recipient:           recipient,
		AmountIn:            in.amount,
		AmountOut:           out.amount,
		PricePerInputToken:  in.price,
		PricePerOutputToken: out.price,
		AmountInUSD:         amountInUSD,
		AmountOutUSD:        amountOutUSD,
		TransactionSource:   source.ID,
	})

	for _, l := range []leg{out, in} {
		l.token.TxCount++
		l.token.Volume = l.token.Volume.Add(l.amount)
		l.token.VolumeUSD = l.token.VolumeUSD.Add(l.amountUSD())
		l.token.TVL = l.balance
		l.token.TVLUSD = l.balanceUSD
		s.Upsert(l.token)
	}

	if in.token.Type == entity.ShortTail || out.token.Type == entity.ShortTail {
		isNew, err := e.upsertUser(ctx, s, origin, ev.Timestamp, volume)
		if err != nil {
			return fail(err)
		}
		if err := e.rollup.UpdatePoolStatus(ctx, s, ev.Timestamp, volume, isNew); err != nil {
			return fail(err)
		}
	}

	for _, l := range []leg{in, out} {
		if l.token.Type != entity.LongTail {
			continue
		}
		cove, err := e.loadCove(ctx, s, l.addr, ev.Recipient, ev.Meta)
		if err != nil {
			return fail(err)
		}
		cove.SwapCount++
		cove.PoolTokenAmount = l.poolTokens
		cove.LongtailTokenAmount = l.balance
		// overwritten, not accumulated
		cove.VolumeUSD = volume
		s.Upsert(cove)
	}

	e.logger.Debug().
		Str("event_id", ev.ID()).
		Str("in", in.token.Symbol).
		Str("out", out.token.Symbol).
		Str("volume_usd", volume.String()).
		Msg("swap applied")
	return nil
}

// OnWithdraw leaves every entity untouched.
func (e *Engine) OnWithdraw(_ context.Context, _ *storage.Session, ev event.Withdraw) error {
	e.logger.Debug().Str("event_id", ev.ID()).Msg("withdraw ignored")
	return nil
}

func (e *Engine) priceLeg(ctx context.Context, s *storage.Session, addr common.Address, raw *big.Int) (leg, error) {
	tok, err := e.loadToken(ctx, s, addr, "")
	if err != nil {
		return leg{}, err
	}
	l := leg{addr: addr, token: tok, amount: amount.FromRaw(raw, tok.Decimals)}

	switch tok.Type {
	case entity.LongTail:
		quote, err := e.oracle.CoveAssetPrice(ctx, addr, tok.Decimals)
		if err != nil {
			return leg{}, lookupErr("cove asset price "+tok.ID, err)
		}
		if !nonNegative(quote.AssetPrice, quote.AssetBalance, quote.PoolTokenBalance) {
			return leg{}, lookupErr("cove asset price "+tok.ID, errors.New("negative quote"))
		}
		l.price = quote.AssetPrice
		l.balance = quote.AssetBalance
		l.balanceUSD = quote.AssetBalance.Mul(quote.AssetPrice)
		l.poolTokens = quote.PoolTokenBalance
	case entity.ShortTail:
		price, err := e.oracle.USDPrice(ctx, tok.Symbol)
		if err != nil {
			return leg{}, lookupErr("usd price "+tok.Symbol, err)
		}
		balance, err := e.oracle.TokenBalance(ctx, addr, tok.Decimals, e.directExchange)
		if err != nil {
			return leg{}, lookupErr("token balance "+tok.ID, err)
		}
		if !nonNegative(price, balance) {
			return leg{}, lookupErr("short tail quote "+tok.ID, errors.New("negative quote"))
		}
		l.price = price
		l.balance = balance
		l.balanceUSD = price.Mul(balance)
	default:
		return leg{}, fmt.Errorf("%w: %s has type %q", ErrUnclassifiedToken, tok.ID, tok.Type)
	}
	return l, nil
}

// loadToken returns the Token for addr, creating it from the registry and the
// oracle's metadata on first reference. Symbol and decimals are fixed at creation.
func (e *Engine) loadToken(ctx context.Context, s *storage.Session, addr common.Address, fallback entity.TailType) (*entity.Token, error) {
	id := event.AddressID(addr)
	tok, found, err := storage.Load[entity.Token](ctx, s, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if found {
		if !tok.Type.Valid() {
			return nil, fmt.Errorf("%w: %s has type %q", ErrUnclassifiedToken, id, tok.Type)
		}
		return tok, nil
	}

	info, err := e.registry.Classify(addr, fallback)
	if err != nil {
		return nil, err
	}
	if !info.Pinned() {
		meta, err := e.oracle.TokenMetadata(ctx, addr)
		if err != nil {
			return nil, lookupErr("token metadata "+id, err)
		}
		if meta.Decimals < 0 {
			return nil, lookupErr("token metadata "+id, fmt.Errorf("decimals %d", meta.Decimals))
		}
		info.Symbol = meta.Symbol
		info.Decimals = meta.Decimals
	}

	tok = &entity.Token{
		ID:       id,
		Symbol:   info.Symbol,
		Decimals: info.Decimals,
		Type:     info.Type,
	}
	s.Upsert(tok)
	return tok, nil
}

func (e *Engine) loadCove(ctx context.Context, s *storage.Session, asset, actor common.Address, meta event.Meta) (*entity.Cove, error) {
	assetID := event.AddressID(asset)
	id := entity.CoveID(assetID, event.AddressID(actor))
	cove, _, err := storage.LoadOrCreate[entity.Cove](ctx, s, id, func(c *entity.Cove) {
		c.ID = id
		c.LongtailAsset = assetID
		c.Owner = event.AddressID(actor)
		c.Pool = e.rollup.PoolID
		c.CreatedAt = meta.Timestamp
		c.CreatedTx = meta.TxHash.Hex()
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return cove, nil
}

// upsertUser records a short-tail trade for origin and reports whether the
// address was first seen by this event.
func (e *Engine) upsertUser(ctx context.Context, s *storage.Session, origin string, timestamp int64, volume decimal.Decimal) (bool, error) {
	user, created, err := storage.LoadOrCreate[entity.User](ctx, s, origin, func(u *entity.User) {
		u.ID = origin
		u.FirstSeen = timestamp
	})
	if err != nil {
		return false, storeErr(err)
	}
	user.LastSeen = timestamp
	user.TxCount++
	user.VolumeUSD = user.VolumeUSD.Add(volume)
	s.Upsert(user)
	return created, nil
}

// transactionSource derives the source id and a readable name from the
// integrator tag carried in a swap's auxiliary data.
func transactionSource(aux common.Hash) (string, string) {
	if aux == (common.Hash{}) {
		return UnknownSource, UnknownSource
	}
	id := aux.Hex()

	name := strings.TrimRight(string(aux.Bytes()), "\x00")
	if name == "" || !utf8.ValidString(name) {
		return id, id
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return id, id
		}
	}
	return id, name
}
