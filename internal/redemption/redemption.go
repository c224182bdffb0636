// Package redemption polls the CTF contract for window resolution and
// redeems won/lost positions on-chain once the oracle has reported,
// crediting realized PnL back into the running balance.
package redemption

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"polymarket-updown/internal/config"
	"polymarket-updown/internal/store"
	"polymarket-updown/internal/wallclock"
	domain "polymarket-updown/pkg/types"
)

const payoutNumeratorsSelector = "da3550f7" // payoutNumerators(bytes32,uint256)

var redeemPositionsABI abi.ABI

func init() {
	const redeemPositionsJSON = `[{
		"name": "redeemPositions",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "indexSets", "type": "uint256[]"}
		],
		"outputs": []
	}]`
	parsed, err := abi.JSON(strings.NewReader(redeemPositionsJSON))
	if err != nil {
		panic(fmt.Sprintf("parse redeemPositions ABI: %v", err))
	}
	redeemPositionsABI = parsed
}

// Redeemer polls resolution for a set of pending positions and redeems those
// that have settled.
type Redeemer struct {
	client       *ethclient.Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	ctfAddress   common.Address
	usdcAddress  common.Address
	chainID      *big.Int
	pollInterval time.Duration

	mu      sync.Mutex
	pending map[string]domain.PendingPosition

	store     *store.Store
	stats     *Stats
	settledCh chan domain.RedemptionResult
	logger    *slog.Logger
}

// Settled reports each position as it's redeemed, so the risk manager can
// release its open-position slot and fold the realized PnL into the daily
// loss cap.
func (r *Redeemer) Settled() <-chan domain.RedemptionResult {
	return r.settledCh
}

// New dials the configured RPC endpoint and builds a Redeemer.
func New(ctx context.Context, cfg *config.Config, st *store.Store, stats *Stats, logger *slog.Logger) (*Redeemer, error) {
	keyHex, err := cfg.PrivateKey()
	if err != nil {
		return nil, err
	}
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	pollInterval := time.Duration(cfg.Chain.PollIntervalSecs) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}

	return &Redeemer{
		client:       client,
		privateKey:   priv,
		address:      crypto.PubkeyToAddress(priv.PublicKey),
		ctfAddress:   common.HexToAddress(cfg.Chain.CTFAddress),
		usdcAddress:  common.HexToAddress(cfg.Chain.USDCAddress),
		chainID:      big.NewInt(cfg.Wallet.ChainID),
		pollInterval: pollInterval,
		pending:      make(map[string]domain.PendingPosition),
		store:        st,
		stats:        stats,
		settledCh:    make(chan domain.RedemptionResult, 16),
		logger:       logger.With("component", "redemption"),
	}, nil
}

// TrackPosition registers a position awaiting redemption.
func (r *Redeemer) TrackPosition(pos domain.PendingPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[pos.ConditionID] = pos
	r.logger.Info("tracking position for redemption", "condition_id", pos.ConditionID, "market", pos.MarketName)
}

// PendingCount reports how many positions are awaiting redemption.
func (r *Redeemer) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run polls resolution and redeems settled positions until ctx is cancelled.
func (r *Redeemer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.processPending(ctx)
		}
	}
}

func (r *Redeemer) snapshotPending() []domain.PendingPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PendingPosition, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	return out
}

func (r *Redeemer) processPending(ctx context.Context) {
	redeemed := 0
	for _, pos := range r.snapshotPending() {
		resolution, err := r.queryResolution(ctx, pos.ConditionID)
		if err != nil {
			r.logger.Warn("resolution query failed", "condition_id", pos.ConditionID, "error", err)
			continue
		}
		if resolution == "" {
			continue
		}

		txHash, err := r.redeemPositions(ctx, pos.ConditionID)
		if err != nil {
			r.logger.Warn("redemption failed, will retry", "condition_id", pos.ConditionID, "market", pos.MarketName, "error", err)
			continue
		}

		won := (pos.Side == domain.BuyYes && resolution == "UP") || (pos.Side == domain.BuyNo && resolution == "DOWN")
		r.settle(pos, won, txHash)

		r.mu.Lock()
		delete(r.pending, pos.ConditionID)
		r.mu.Unlock()
		if err := r.store.RemovePendingPosition(pos.ConditionID); err != nil {
			r.logger.Error("remove pending position", "error", err)
		}
		redeemed++
	}

	if redeemed > 0 {
		r.logger.Info("redemption cycle complete", "redeemed", redeemed, "pending", r.PendingCount())
	}
}

func (r *Redeemer) settle(pos domain.PendingPosition, won bool, txHash string) {
	var pnl, exitPrice float64
	var outcome, category, severity string
	if won {
		pnl = pos.SizeUSD * (1.0/pos.EntryPrice - 1.0)
		exitPrice = 1.0
		outcome, category, severity = "converged", "arb.converge", "INFO"
	} else {
		pnl = -pos.SizeUSD
		exitPrice = 0.0
		outcome, category, severity = "adverse", "arb.adverse", "WARNING"
	}

	r.stats.RecordRedemption(won, pnl)

	short := txHash
	if len(short) > 10 {
		short = short[:10]
	}
	r.store.Alert(severity, category,
		fmt.Sprintf("%s on %s — $%.2f (%s)", pos.Side, pos.MarketName, pnl, short),
		map[string]any{"signal_id": pos.SignalID, "market": pos.MarketName, "won": won, "pnl": pnl, "entry_price": pos.EntryPrice, "exit_price": exitPrice, "side": pos.Side, "tx_hash": txHash},
	)

	select {
	case r.settledCh <- domain.RedemptionResult{
		SignalID:    pos.SignalID,
		ConditionID: pos.ConditionID,
		MarketName:  pos.MarketName,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		SizeUSD:     pos.SizeUSD,
		Won:         won,
		TxHash:      txHash,
	}:
	default:
		r.logger.Warn("settled channel full, risk manager won't see this close", "market", pos.MarketName)
	}

	r.store.WriteTrade(domain.TradeRecord{
		SignalID:   pos.SignalID,
		Timestamp:  wallclock.NowSecs(),
		Market:     pos.MarketName,
		Side:       string(pos.Side),
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Outcome:    outcome,
	})
}

// queryResolution reads the CTF contract's payoutNumerators for both binary
// outcomes (index 0 = UP, index 1 = DOWN). A nonzero numerator means the
// oracle has reported for that outcome.
func (r *Redeemer) queryResolution(ctx context.Context, conditionID string) (string, error) {
	p0, err := r.payoutNumerator(ctx, conditionID, 0)
	if err != nil {
		return "", err
	}
	p1, err := r.payoutNumerator(ctx, conditionID, 1)
	if err != nil {
		return "", err
	}

	switch {
	case p0 > 0:
		return "UP", nil
	case p1 > 0:
		return "DOWN", nil
	default:
		return "", nil
	}
}

func (r *Redeemer) payoutNumerator(ctx context.Context, conditionID string, index uint64) (uint64, error) {
	cidBytes, err := conditionIDBytes(conditionID)
	if err != nil {
		return 0, err
	}

	data := make([]byte, 0, 4+32+32)
	selector, _ := hex.DecodeString(payoutNumeratorsSelector)
	data = append(data, selector...)
	data = append(data, cidBytes[:]...)
	data = append(data, common.LeftPadBytes(new(big.Int).SetUint64(index).Bytes(), 32)...)

	to := r.ctfAddress
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("eth_call payoutNumerators: %w", err)
	}
	if len(result) == 0 {
		return 0, nil
	}
	return new(big.Int).SetBytes(result).Uint64(), nil
}

func (r *Redeemer) redeemPositions(ctx context.Context, conditionID string) (string, error) {
	cidBytes, err := conditionIDBytes(conditionID)
	if err != nil {
		return "", err
	}

	calldata, err := redeemPositionsABI.Pack("redeemPositions",
		r.usdcAddress,
		[32]byte{},
		cidBytes,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
	)
	if err != nil {
		return "", fmt.Errorf("pack redeemPositions: %w", err)
	}

	nonce, err := r.client.PendingNonceAt(ctx, r.address)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &r.ctfAddress,
		Value:    big.NewInt(0),
		Gas:      500_000,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signer := types.NewEIP155Signer(r.chainID)
	signedTx, err := types.SignTx(tx, signer, r.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := r.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

func conditionIDBytes(conditionID string) ([32]byte, error) {
	var out [32]byte
	clean := strings.TrimPrefix(conditionID, "0x")
	if len(clean) < 64 {
		clean = strings.Repeat("0", 64-len(clean)) + clean
	}
	decoded, err := hex.DecodeString(clean)
	if err != nil {
		return out, fmt.Errorf("decode condition id: %w", err)
	}
	copy(out[32-len(decoded):], decoded)
	return out, nil
}
