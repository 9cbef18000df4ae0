package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// rpcRequest/rpcResponse are the JSON-RPC 1.0 envelope a bitcoind-compatible node speaks, the
// same shape btcjson's Cmd types are built to marshal into — kept minimal here since the
// teacher's own async future/promise client scaffolding (rpcclient's infrastructure.go,
// notify.go) was not present in the retrieval pack to adapt; this is a direct synchronous
// client instead, still using btcjson's "typed command struct + constructor" naming idiom.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("bitcoind rpc error %d: %s", e.Code, e.Message) }

// SendRawTransactionCmd defines the sendrawtransaction JSON-RPC command (§1's "the Bitcoin
// client... broadcast" contract).
type SendRawTransactionCmd struct {
	HexTx string
}

func NewSendRawTransactionCmd(hexTx string) *SendRawTransactionCmd {
	return &SendRawTransactionCmd{HexTx: hexTx}
}

// GetTransactionConfirmationsCmd defines the gettransaction JSON-RPC command, read for its
// confirmations field only.
type GetTransactionConfirmationsCmd struct {
	Txid string
}

func NewGetTransactionConfirmationsCmd(txid string) *GetTransactionConfirmationsCmd {
	return &GetTransactionConfirmationsCmd{Txid: txid}
}

// Client implements fsm.BitcoinClient against a bitcoind-compatible JSON-RPC endpoint.
type Client struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
}

func NewClient(endpoint, user, pass string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, user: user, pass: pass, http: httpClient}
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return errors.WithStack(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return errors.WithStack(err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	return errors.WithStack(json.Unmarshal(rpcResp.Result, out))
}

// Broadcast submits signedBytes as a raw transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, signedBytes []byte) (string, error) {
	cmd := NewSendRawTransactionCmd(hex.EncodeToString(signedBytes))
	var txid string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{cmd.HexTx}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// Confirmations reports how many confirmations txid currently has.
func (c *Client) Confirmations(ctx context.Context, txid string) (int64, error) {
	cmd := NewGetTransactionConfirmationsCmd(txid)
	var result struct {
		Confirmations int64 `json:"confirmations"`
	}
	if err := c.call(ctx, "gettransaction", []interface{}{cmd.Txid}, &result); err != nil {
		return 0, err
	}
	return result.Confirmations, nil
}

// GetReceivedByAddressCmd defines the getreceivedbyaddress JSON-RPC command, backing the
// GET /api/v1/wallet/balance endpoint: the total ever received at the wallet's single derived
// address, in satoshis.
type GetReceivedByAddressCmd struct {
	Address string
}

func NewGetReceivedByAddressCmd(address string) *GetReceivedByAddressCmd {
	return &GetReceivedByAddressCmd{Address: address}
}

// Balance reports the total amount ever received at address, in satoshis, as getreceivedbyaddress
// returns it. Outputs later spent from address are not subtracted, so this is not its current
// unspent balance.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	cmd := NewGetReceivedByAddressCmd(address)
	var btc float64
	if err := c.call(ctx, "getreceivedbyaddress", []interface{}{cmd.Address}, &btc); err != nil {
		return 0, err
	}
	return int64(btc*1e8 + 0.5), nil
}
