// Package onchain reads the keeper's wallet balances directly from the
// Polygon chain: the collateral ERC-20 (USDC) and the two ERC-1155 outcome
// token positions for a condition. These are the source of truth the
// strategy manager's Synchronize tick balances its order sizing against —
// the venue's /data/orders response tells us what is resting, but never what
// we actually hold.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

const erc20ABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

const erc1155ABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// usdcDecimals is the collateral asset's on-chain precision; outcome tokens
// on Polymarket's CTF share this same precision.
const usdcDecimals = 6

// Polygon mainnet contract addresses. These are fixed deployments, not
// per-market configuration, so the keeper never takes them as flags.
var (
	USDCAddress              = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	ConditionalTokensAddress = common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
)

// Reader reads collateral and outcome-token balances for one wallet directly
// from chain state, bypassing the CLOB entirely.
type Reader struct {
	client        *ethclient.Client
	collateral    common.Address
	conditionalCT common.Address
	tokenIDA      *big.Int
	tokenIDB      *big.Int
	erc20         abi.ABI
	erc1155       abi.ABI
}

// NewReader dials rpcURL and builds a Reader for the given collateral (USDC)
// contract, the ERC-1155 conditional-tokens contract, and the two outcome
// token ids for this market.
func NewReader(ctx context.Context, rpcURL string, collateral, conditionalTokens common.Address, tokenIDA, tokenIDB *big.Int) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	erc1155, err := abi.JSON(strings.NewReader(erc1155ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc1155 abi: %w", err)
	}
	return &Reader{
		client:        client,
		collateral:    collateral,
		conditionalCT: conditionalTokens,
		tokenIDA:      tokenIDA,
		tokenIDB:      tokenIDB,
		erc20:         erc20,
		erc1155:       erc1155,
	}, nil
}

// Close releases the underlying RPC connection.
func (r *Reader) Close() {
	r.client.Close()
}

// GetBalances reads collateral and both outcome token balances for owner,
// scaled down from their on-chain integer precision to human units.
func (r *Reader) GetBalances(ctx context.Context, owner common.Address) (types.Balances, error) {
	collateral, err := r.erc20Balance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("collateral balance: %w", err)
	}
	a, err := r.erc1155Balance(ctx, owner, r.tokenIDA)
	if err != nil {
		return nil, fmt.Errorf("token A balance: %w", err)
	}
	b, err := r.erc1155Balance(ctx, owner, r.tokenIDB)
	if err != nil {
		return nil, fmt.Errorf("token B balance: %w", err)
	}

	scale := decimal.New(1, usdcDecimals)
	return types.Balances{
		types.Collateral: decimal.NewFromBigInt(collateral, 0).Div(scale),
		types.A:           decimal.NewFromBigInt(a, 0).Div(scale),
		types.B:           decimal.NewFromBigInt(b, 0).Div(scale),
	}, nil
}

func (r *Reader) erc20Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return r.call(ctx, r.collateral, r.erc20, "balanceOf", owner)
}

func (r *Reader) erc1155Balance(ctx context.Context, owner common.Address, id *big.Int) (*big.Int, error) {
	return r.call(ctx, r.conditionalCT, r.erc1155, "balanceOf", owner, id)
}

func (r *Reader) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) (*big.Int, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s return arity: %d", method, len(out))
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s return type: %T", method, out[0])
	}
	return amount, nil
}
