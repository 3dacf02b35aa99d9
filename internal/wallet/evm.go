package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"

	"github.com/dexsniper/snipectl/internal/apperr"
	"github.com/dexsniper/snipectl/internal/chains"
	"github.com/dexsniper/snipectl/internal/wsclient"
)

// EVMBridge drives a window-injected EVM provider through its local
// bridge endpoint: requests go out as EIP-1193 JSON-RPC calls, external
// events arrive on the bridge's WebSocket event stream.
type EVMBridge struct {
	kind      chains.WalletKind
	rpcURL    string
	http      *http.Client
	requestID uint64
	idMu      sync.Mutex

	events *wsclient.Client
	reg    handlerRegistry
}

// NewEVMBridge creates the EVM provider over rpcURL. eventsURL is the
// bridge's WebSocket event channel; empty disables external events.
func NewEVMBridge(kind chains.WalletKind, rpcURL, eventsURL string, wsOpts wsclient.Options) *EVMBridge {
	b := &EVMBridge{
		kind:   kind,
		rpcURL: rpcURL,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	if eventsURL != "" {
		b.events = wsclient.New(eventsURL, wsOpts)
		b.events.Subscribe(wsclient.Handlers{
			OnMessage: b.dispatchEvent,
		})
		b.events.Connect()
	}
	return b
}

// Close tears down the event stream.
func (b *EVMBridge) Close() {
	if b.events != nil {
		b.events.Disconnect()
	}
}

func (b *EVMBridge) Kind() chains.WalletKind { return b.kind }
func (b *EVMBridge) Family() chains.Family   { return chains.FamilyEVM }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call runs one JSON-RPC request against the bridge. Provider rejections
// come back as *apperr.ProviderError so the classifier sees the code.
func (b *EVMBridge) call(ctx context.Context, method string, params any, out any) error {
	if b.rpcURL == "" {
		return apperr.ErrProviderMissing
	}

	b.idMu.Lock()
	b.requestID++
	id := b.requestID
	b.idMu.Unlock()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", apperr.ErrProviderMissing, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return &apperr.ProviderError{Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return nil
}

func (b *EVMBridge) Connect(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := b.call(ctx, "eth_requestAccounts", nil, &accounts); err != nil {
		return nil, err
	}
	return validateEVMAccounts(accounts)
}

func (b *EVMBridge) Accounts(ctx context.Context, trusted bool) ([]string, error) {
	// eth_accounts never prompts; it is the trusted probe. The wallet
	// returns an empty list when access was not previously granted.
	var accounts []string
	if err := b.call(ctx, "eth_accounts", nil, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 && !trusted {
		return b.Connect(ctx)
	}
	return validateEVMAccounts(accounts)
}

func (b *EVMBridge) Disconnect(ctx context.Context) error {
	// EVM wallets expose no disconnect; permission revocation is
	// wallet-side. Dropping our state is all there is to do.
	return nil
}

func (b *EVMBridge) ChainID(ctx context.Context) (string, error) {
	var wireID string
	if err := b.call(ctx, "eth_chainId", nil, &wireID); err != nil {
		return "", err
	}
	return wireID, nil
}

// SwitchChain asks the wallet to switch, adding the chain and retrying
// once when the wallet reports it unknown (code 4902).
func (b *EVMBridge) SwitchChain(ctx context.Context, target chains.Descriptor) error {
	switchParams := []map[string]string{{"chainId": target.WireID}}
	err := b.call(ctx, "wallet_switchEthereumChain", switchParams, nil)
	if err == nil {
		return nil
	}

	var provErr *apperr.ProviderError
	if !errors.As(err, &provErr) || provErr.Code != 4902 {
		return err
	}

	log.Debug().Str("chain", target.ID).Msg("Chain unknown to wallet, adding it")
	addParams := []map[string]any{{
		"chainId":   target.WireID,
		"chainName": target.DisplayName,
		"nativeCurrency": map[string]any{
			"name":     target.NativeSymbol,
			"symbol":   target.NativeSymbol,
			"decimals": 18,
		},
		"rpcUrls":           []string{target.RPCURL},
		"blockExplorerUrls": []string{target.ExplorerBase},
	}}
	if err := b.call(ctx, "wallet_addEthereumChain", addParams, nil); err != nil {
		return err
	}
	return b.call(ctx, "wallet_switchEthereumChain", switchParams, nil)
}

func (b *EVMBridge) SignMessage(ctx context.Context, address string, message []byte) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid EVM address %q", address)
	}
	params := []string{hexutil.Encode(message), address}
	var signature string
	if err := b.call(ctx, "personal_sign", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

func (b *EVMBridge) OnAccountsChanged(h AccountsHandler) func() {
	return b.reg.addAccounts(h)
}

func (b *EVMBridge) OnChainChanged(h ChainHandler) func() {
	return b.reg.addChain(h)
}

// dispatchEvent routes bridge event frames to registered handlers.
func (b *EVMBridge) dispatchEvent(msg wsclient.Message) {
	switch msg.Type {
	case "accounts_changed":
		var payload struct {
			Accounts []string `json:"accounts"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Warn().Err(err).Msg("Bad accounts_changed payload")
			return
		}
		b.reg.emitAccounts(payload.Accounts)
	case "chain_changed":
		var payload struct {
			ChainID string `json:"chain_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Warn().Err(err).Msg("Bad chain_changed payload")
			return
		}
		b.reg.emitChain(payload.ChainID)
	}
}

func validateEVMAccounts(accounts []string) ([]string, error) {
	for _, a := range accounts {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("provider returned invalid address %q", a)
		}
	}
	return accounts, nil
}
