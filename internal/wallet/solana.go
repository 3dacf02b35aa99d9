package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/dexsniper/snipectl/internal/apperr"
	"github.com/dexsniper/snipectl/internal/chains"
	"github.com/dexsniper/snipectl/internal/wsclient"
)

// SolanaBridge drives a Phantom/Solflare flavored provider through its
// local bridge endpoint. Solana wallets expose a connect/disconnect pair
// rather than account requests, and the chain never changes.
type SolanaBridge struct {
	kind   chains.WalletKind
	rpcURL string
	http   *http.Client

	events *wsclient.Client
	reg    handlerRegistry
}

// NewSolanaBridge creates the Solana provider over rpcURL. eventsURL is
// the bridge's WebSocket event channel; empty disables external events.
func NewSolanaBridge(kind chains.WalletKind, rpcURL, eventsURL string, wsOpts wsclient.Options) *SolanaBridge {
	b := &SolanaBridge{
		kind:   kind,
		rpcURL: rpcURL,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	if eventsURL != "" {
		b.events = wsclient.New(eventsURL, wsOpts)
		b.events.Subscribe(wsclient.Handlers{OnMessage: b.dispatchEvent})
		b.events.Connect()
	}
	return b
}

// Close tears down the event stream.
func (b *SolanaBridge) Close() {
	if b.events != nil {
		b.events.Disconnect()
	}
}

func (b *SolanaBridge) Kind() chains.WalletKind { return b.kind }
func (b *SolanaBridge) Family() chains.Family   { return chains.FamilySolana }

// call posts one method to the bridge. Rejections come back as
// *apperr.ProviderError.
func (b *SolanaBridge) call(ctx context.Context, method string, params, out any) error {
	if b.rpcURL == "" {
		return apperr.ErrProviderMissing
	}

	body, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return fmt.Errorf("marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
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
		return fmt.Errorf("read bridge response: %w", err)
	}

	var parsed struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	if parsed.Error != nil {
		return &apperr.ProviderError{Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode bridge result: %w", err)
		}
	}
	return nil
}

func (b *SolanaBridge) Connect(ctx context.Context) ([]string, error) {
	var result struct {
		PublicKey string `json:"public_key"`
	}
	if err := b.call(ctx, "connect", map[string]bool{"onlyIfTrusted": false}, &result); err != nil {
		return nil, err
	}
	if err := validateSolanaAddress(result.PublicKey); err != nil {
		return nil, err
	}
	return []string{result.PublicKey}, nil
}

func (b *SolanaBridge) Accounts(ctx context.Context, trusted bool) ([]string, error) {
	var result struct {
		PublicKey string `json:"public_key"`
	}
	err := b.call(ctx, "connect", map[string]bool{"onlyIfTrusted": trusted}, &result)
	if err != nil {
		var provErr *apperr.ProviderError
		// In trusted mode a not-yet-approved wallet is an empty result,
		// not an error surface.
		if trusted && errors.As(err, &provErr) && provErr.Code == 4001 {
			return nil, nil
		}
		return nil, err
	}
	if result.PublicKey == "" {
		return nil, nil
	}
	if err := validateSolanaAddress(result.PublicKey); err != nil {
		return nil, err
	}
	return []string{result.PublicKey}, nil
}

func (b *SolanaBridge) Disconnect(ctx context.Context) error {
	return b.call(ctx, "disconnect", nil, nil)
}

func (b *SolanaBridge) ChainID(ctx context.Context) (string, error) {
	return chains.SolanaWireID, nil
}

// SwitchChain is a no-op success: Solana wallets have exactly one chain.
func (b *SolanaBridge) SwitchChain(ctx context.Context, target chains.Descriptor) error {
	if target.WireID != chains.SolanaWireID {
		return apperr.ErrWrongNetwork
	}
	return nil
}

func (b *SolanaBridge) SignMessage(ctx context.Context, address string, message []byte) (string, error) {
	if err := validateSolanaAddress(address); err != nil {
		return "", err
	}
	params := map[string]string{
		"address": address,
		"message": base58.Encode(message),
	}
	var result struct {
		Signature string `json:"signature"`
	}
	if err := b.call(ctx, "signMessage", params, &result); err != nil {
		return "", err
	}
	return result.Signature, nil
}

func (b *SolanaBridge) OnAccountsChanged(h AccountsHandler) func() {
	return b.reg.addAccounts(h)
}

func (b *SolanaBridge) OnChainChanged(h ChainHandler) func() {
	return b.reg.addChain(h)
}

func (b *SolanaBridge) dispatchEvent(msg wsclient.Message) {
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
	}
}

func validateSolanaAddress(address string) error {
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("invalid solana address %q: not 32 bytes", address)
	}
	return nil
}
