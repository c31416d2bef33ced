package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCallGasLimit = uint64(300000)
	gasBufferPercent    = 120
)

// Client is the part of ethclient.Client the wallet needs
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config describes the network and key the wallet signs with
type Config struct {
	RPCURL     string
	PrivateKey string
	ChainID    int64
	GasPrice   *int64
	GasLimit   *uint64
}

// ContractCall is a single ABI method invocation, used for reads and writes
type ContractCall struct {
	Address common.Address
	ABI     *abi.ABI
	Method  string
	Args    []interface{}
	Value   *big.Int
}

// Wallet signs and submits transactions with a local private key
type Wallet struct {
	client     Client
	closer     func()
	cfg        Config
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger
}

// Dial connects to the configured RPC endpoint and loads the key
func Dial(cfg Config, logger *zap.Logger) (*Wallet, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}

	privateKey, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	w := NewWallet(client, privateKey, cfg, logger)
	w.closer = client.Close
	return w, nil
}

// AddressFromKey derives the account address of a hex private key
func AddressFromKey(hexKey string) (common.Address, error) {
	key, err := parseKey(hexKey)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// NewWallet builds a wallet around an existing client
func NewWallet(client Client, key *ecdsa.PrivateKey, cfg Config, logger *zap.Logger) *Wallet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wallet{
		client:     client,
		cfg:        cfg,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		logger:     logger.Named("wallet"),
	}
}

// Address is the account the wallet signs for
func (w *Wallet) Address() common.Address { return w.address }

func (w *Wallet) ChainID() int64 { return w.cfg.ChainID }

// ReadContract performs an eth_call and returns the decoded outputs
func (w *Wallet) ReadContract(ctx context.Context, call ContractCall) ([]interface{}, error) {
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", call.Method, err)
	}

	msg := ethereum.CallMsg{
		From: w.address,
		To:   &call.Address,
		Data: data,
	}
	result, err := w.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", call.Method, err)
	}

	out, err := call.ABI.Unpack(call.Method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", call.Method, err)
	}
	return out, nil
}

// SendContractCall signs and broadcasts a contract method call
func (w *Wallet) SendContractCall(ctx context.Context, call ContractCall) (common.Hash, error) {
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s data: %w", call.Method, err)
	}
	return w.SendRawTransaction(ctx, call.Address, data, call.Value)
}

// SendRawTransaction signs and broadcasts a transaction with arbitrary call data
func (w *Wallet) SendRawTransaction(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := w.gasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := w.gasLimit(ctx, to, data, value)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.LatestSignerForChainID(big.NewInt(w.cfg.ChainID))
	signedTx, err := types.SignTx(tx, signer, w.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := w.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	w.logger.Debug("transaction sent",
		zap.String("hash", signedTx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit),
		zap.String("gas_price", gasPrice.String()),
	)
	return signedTx.Hash(), nil
}

// TransactionReceipt passes through to the node; pending transactions
// return ethereum.NotFound
func (w *Wallet) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return w.client.TransactionReceipt(ctx, hash)
}

func (w *Wallet) gasPrice(ctx context.Context) (*big.Int, error) {
	if w.cfg.GasPrice != nil {
		return big.NewInt(*w.cfg.GasPrice), nil
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

func (w *Wallet) gasLimit(ctx context.Context, to common.Address, data []byte, value *big.Int) uint64 {
	if w.cfg.GasLimit != nil {
		return *w.cfg.GasLimit
	}
	msg := ethereum.CallMsg{
		From:  w.address,
		To:    &to,
		Data:  data,
		Value: value,
	}
	estimated, err := w.client.EstimateGas(ctx, msg)
	if err != nil {
		w.logger.Warn("gas estimation failed, using default limit",
			zap.Error(err), zap.Uint64("gas", defaultCallGasLimit))
		return defaultCallGasLimit
	}
	return estimated * gasBufferPercent / 100
}

// TokenInfo is the metadata and balance of an ERC20 token for one account
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Balance  *big.Int
}

// TokenInfo reads symbol, decimals and the owner's balance concurrently
func (w *Wallet) TokenInfo(ctx context.Context, token, owner common.Address) (*TokenInfo, error) {
	info := &TokenInfo{Address: token}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out, err := w.ReadContract(gctx, ContractCall{Address: token, ABI: ERC20, Method: "decimals"})
		if err != nil {
			return err
		}
		d, ok := out[0].(uint8)
		if !ok {
			return fmt.Errorf("unexpected decimals type %T", out[0])
		}
		info.Decimals = d
		return nil
	})
	g.Go(func() error {
		out, err := w.ReadContract(gctx, ContractCall{Address: token, ABI: ERC20, Method: "symbol"})
		if err != nil {
			return err
		}
		s, ok := out[0].(string)
		if !ok {
			return fmt.Errorf("unexpected symbol type %T", out[0])
		}
		info.Symbol = s
		return nil
	})
	g.Go(func() error {
		out, err := w.ReadContract(gctx, ContractCall{Address: token, ABI: ERC20, Method: "balanceOf", Args: []interface{}{owner}})
		if err != nil {
			return err
		}
		b, ok := out[0].(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected balance type %T", out[0])
		}
		info.Balance = b
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read token %s: %w", token.Hex(), err)
	}
	return info, nil
}

// Close closes the client connection
func (w *Wallet) Close() {
	if w.closer != nil {
		w.closer()
	}
}
