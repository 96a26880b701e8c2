package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/resilience"
)

const (
	uniswapV2PairABIJSON = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"payable":false,"stateMutability":"view","type":"function"}]`

	defaultPoolFeeBps = 30
)

var uniswapV2PairABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(uniswapV2PairABIJSON))
	if err != nil {
		panic("failed to parse Uniswap V2 pair ABI: " + err.Error())
	}
	uniswapV2PairABI = parsed
}

// Pool is one constant-product pair contract.
type Pool struct {
	Pair          string  `mapstructure:"pair"`
	Address       string  `mapstructure:"address"`
	BaseIsToken0  bool    `mapstructure:"base_is_token0"`
	BaseDecimals  int32   `mapstructure:"base_decimals"`
	QuoteDecimals int32   `mapstructure:"quote_decimals"`
	FeeBps        float64 `mapstructure:"fee_bps"`
}

// OnChainOptions parameterise the AMM reserve reader.
type OnChainOptions struct {
	RPCURL  string
	Pools   []Pool
	Timeout time.Duration
}

type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OnChain prices pairs from Uniswap V2 style pool reserves.
type OnChain struct {
	opts      OnChainOptions
	logger    zerolog.Logger
	caller    contractCaller
	clientMux sync.Mutex
}

// NewOnChain builds the reserve reader. The RPC connection is opened lazily.
func NewOnChain(opts OnChainOptions, logger zerolog.Logger) *OnChain {
	return &OnChain{opts: opts, logger: logger.With().Str("component", "onchain_fetcher").Logger()}
}

// FetchSnapshot reads reserves for every configured pool among pairs.
func (o *OnChain) FetchSnapshot(ctx context.Context, ex market.Exchange, pairs []string) (market.Snapshot, error) {
	snap := market.NewSnapshot(ex, timeNow())
	if len(o.opts.Pools) == 0 {
		return snap, resilience.Errorf(resilience.KindAPI, ex.ID, "fetch", "no pools configured")
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := o.getCaller(ctx)
	if err != nil {
		return snap, err
	}

	wanted := make(map[string]struct{}, len(pairs))
	for _, sym := range pairs {
		if p, err := market.ParsePair(sym); err == nil {
			wanted[p.String()] = struct{}{}
		}
	}

	var lastErr error
	for _, pool := range o.opts.Pools {
		p, err := market.ParsePair(pool.Pair)
		if err != nil {
			lastErr = resilience.Wrap(resilience.KindValidation, ex.ID, "pool", err)
			continue
		}
		if _, ok := wanted[p.String()]; len(wanted) > 0 && !ok {
			continue
		}
		t, err := readPool(ctx, caller, ex.ID, p, pool)
		if err != nil {
			lastErr = err
			o.logger.Warn().Err(err).Str("pool", pool.Address).Str("pair", p.String()).Msg("reserve read failed")
			continue
		}
		snap.Tickers[p.String()] = t
	}
	if snap.Empty() && lastErr != nil {
		return snap, lastErr
	}
	return snap, nil
}

func readPool(ctx context.Context, caller contractCaller, exchangeID string, p market.Pair, pool Pool) (market.Ticker, error) {
	if !common.IsHexAddress(pool.Address) {
		return market.Ticker{}, resilience.Errorf(resilience.KindValidation, exchangeID, "pool", "invalid address %q", pool.Address)
	}
	addr := common.HexToAddress(pool.Address)
	payload, err := uniswapV2PairABI.Pack("getReserves")
	if err != nil {
		return market.Ticker{}, resilience.Wrap(resilience.KindCalculation, exchangeID, "pack", err)
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return market.Ticker{}, resilience.Wrap(transportKind(err), exchangeID, "getReserves", err)
	}
	outputs, err := uniswapV2PairABI.Unpack("getReserves", res)
	if err != nil || len(outputs) != 3 {
		if err == nil {
			err = errors.New("unexpected getReserves response")
		}
		return market.Ticker{}, resilience.Wrap(resilience.KindData, exchangeID, "getReserves", err)
	}
	r0, ok0 := outputs[0].(*big.Int)
	r1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return market.Ticker{}, resilience.Errorf(resilience.KindData, exchangeID, "getReserves", "failed to decode reserves")
	}

	baseRaw, quoteRaw := r0, r1
	if !pool.BaseIsToken0 {
		baseRaw, quoteRaw = r1, r0
	}
	base := decimal.NewFromBigInt(baseRaw, -pool.BaseDecimals)
	quote := decimal.NewFromBigInt(quoteRaw, -pool.QuoteDecimals)
	if base.IsZero() || quote.IsZero() {
		return market.Ticker{}, resilience.Errorf(resilience.KindData, exchangeID, "getReserves", "empty pool %s", pool.Address)
	}

	price, _ := quote.Div(base).Float64()
	feeBps := pool.FeeBps
	if feeBps <= 0 {
		feeBps = defaultPoolFeeBps
	}
	fee := feeBps / 10000
	baseReserve, _ := base.Float64()
	quoteReserve, _ := quote.Float64()

	return market.Ticker{
		Symbol:      p.String(),
		Bid:         price * (1 - fee),
		Ask:         price * (1 + fee),
		Last:        price,
		Close:       price,
		BaseVolume:  baseReserve,
		QuoteVolume: quoteReserve,
		Timestamp:   timeNow(),
	}, nil
}

func (o *OnChain) getCaller(ctx context.Context) (contractCaller, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.caller != nil {
		return o.caller, nil
	}
	if o.opts.RPCURL == "" {
		return nil, resilience.Errorf(resilience.KindAPI, "", "dial", "ethereum rpc url not configured")
	}
	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, resilience.Wrap(resilience.KindNetwork, "", "dial", fmt.Errorf("dial rpc: %w", err))
	}
	o.caller = client
	return client, nil
}

var _ Source = (*OnChain)(nil)
