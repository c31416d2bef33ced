package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"perp-trade/pkg/txerr"
)

type fakeClient struct {
	mu       sync.Mutex
	nonce    uint64
	gasPrice *big.Int
	gasErr   error
	sent     []*types.Transaction
	calls    map[string][]byte
	estimate uint64
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return f.estimate, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := ERC20.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	out, ok := f.calls[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func newTestWallet(t *testing.T, client *fakeClient) *Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewWallet(client, key, Config{ChainID: 11155111}, nil)
}

func packOutput(t *testing.T, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := ERC20.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func TestSendContractCallSignsApprove(t *testing.T) {
	client := &fakeClient{nonce: 7, gasPrice: big.NewInt(2e9), estimate: 50000}
	w := newTestWallet(t, client)

	token := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	spender := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	hash, err := w.SendContractCall(context.Background(), ContractCall{
		Address: token,
		ABI:     ERC20,
		Method:  "approve",
		Args:    []interface{}{spender, big.NewInt(1_000_000)},
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	tx := client.sent[0]
	require.Equal(t, hash, tx.Hash())
	require.Equal(t, token, *tx.To())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(60000), tx.Gas())
	require.Equal(t, int64(11155111), tx.ChainId().Int64())

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	require.Equal(t, w.Address(), sender)

	args, err := ERC20.Methods["approve"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, spender, args[0])
	require.Equal(t, big.NewInt(1_000_000), args[1])
}

func TestSendRawTransactionUsesConfiguredGas(t *testing.T) {
	price := int64(5)
	limit := uint64(123456)
	client := &fakeClient{gasErr: errors.New("should not be called")}
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := NewWallet(client, key, Config{ChainID: 1, GasPrice: &price, GasLimit: &limit}, nil)

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	_, err = w.SendRawTransaction(context.Background(), to, []byte{0x01, 0x02}, big.NewInt(10))
	require.NoError(t, err)

	tx := client.sent[0]
	require.Equal(t, limit, tx.Gas())
	require.Equal(t, big.NewInt(price), tx.GasPrice())
	require.Equal(t, big.NewInt(10), tx.Value())
	require.Equal(t, []byte{0x01, 0x02}, tx.Data())
}

func TestSendRawTransactionFallsBackOnEstimateFailure(t *testing.T) {
	client := &fakeClient{gasPrice: big.NewInt(1), gasErr: errors.New("execution reverted")}
	w := newTestWallet(t, client)

	_, err := w.SendRawTransaction(context.Background(), common.Address{1}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, defaultCallGasLimit, client.sent[0].Gas())
}

func TestReadContractAndTokenInfo(t *testing.T) {
	client := &fakeClient{calls: map[string][]byte{}}
	client.calls["allowance"] = packOutput(t, "allowance", big.NewInt(42))
	client.calls["decimals"] = packOutput(t, "decimals", uint8(6))
	client.calls["symbol"] = packOutput(t, "symbol", "USDC")
	client.calls["balanceOf"] = packOutput(t, "balanceOf", big.NewInt(5_000_000))
	w := newTestWallet(t, client)

	token := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	out, err := w.ReadContract(context.Background(), ContractCall{
		Address: token,
		ABI:     ERC20,
		Method:  "allowance",
		Args:    []interface{}{w.Address(), common.Address{2}},
	})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), out[0])

	info, err := w.TokenInfo(context.Background(), token, w.Address())
	require.NoError(t, err)
	require.Equal(t, "USDC", info.Symbol)
	require.Equal(t, uint8(6), info.Decimals)
	require.Equal(t, big.NewInt(5_000_000), info.Balance)
}

func TestTokenInfoPropagatesReadError(t *testing.T) {
	client := &fakeClient{calls: map[string][]byte{}}
	client.calls["decimals"] = packOutput(t, "decimals", uint8(6))
	w := newTestWallet(t, client)

	_, err := w.TokenInfo(context.Background(), common.Address{3}, w.Address())
	require.Error(t, err)
}

type recordingSigner struct {
	contractCalls int
	rawCalls      int
}

func (r *recordingSigner) SendContractCall(context.Context, ContractCall) (common.Hash, error) {
	r.contractCalls++
	return common.Hash{1}, nil
}

func (r *recordingSigner) SendRawTransaction(context.Context, common.Address, []byte, *big.Int) (common.Hash, error) {
	r.rawCalls++
	return common.Hash{2}, nil
}

func TestConfirmingSigner(t *testing.T) {
	next := &recordingSigner{}
	var prompts []string
	answer := false
	s := NewConfirmingSigner(next, func(desc string) bool {
		prompts = append(prompts, desc)
		return answer
	})

	_, err := s.SendContractCall(context.Background(), ContractCall{Method: "approve"})
	require.ErrorIs(t, err, txerr.ErrUserRejected)
	require.True(t, txerr.IsUserRejected(err))
	require.Zero(t, next.contractCalls)

	answer = true
	hash, err := s.SendRawTransaction(context.Background(), common.Address{}, nil, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, common.Hash{2}, hash)
	require.Equal(t, 1, next.rawCalls)
	require.Len(t, prompts, 2)
	require.Contains(t, prompts[1], "3 wei")
}

func TestConfirmingSignerSkipsPromptWhenCancelled(t *testing.T) {
	next := &recordingSigner{}
	prompted := false
	s := NewConfirmingSigner(next, func(string) bool {
		prompted = true
		return true
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SendRawTransaction(ctx, common.Address{}, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.SendContractCall(ctx, ContractCall{Method: "approve"})
	require.ErrorIs(t, err, context.Canceled)

	require.False(t, prompted)
	require.Zero(t, next.rawCalls)
	require.Zero(t, next.contractCalls)
}

func TestAddressFromKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	for _, in := range []string{hexKey, "0x" + hexKey, " " + hexKey + "\n"} {
		addr, err := AddressFromKey(in)
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
	}

	_, err = AddressFromKey("not-a-key")
	require.ErrorContains(t, err, "invalid private key")
}
