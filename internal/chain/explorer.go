// Package chain implements the block-explorer client used for wallet
// enrichment. Four lookups cover everything the enricher needs: the earliest
// transaction (account age), total transaction count, current balance, and
// whether the address is a contract.
//
// The explorer exposes two API families behind one endpoint: the "account"
// module returns typed JSON envelopes, the "proxy" module forwards raw
// JSON-RPC with hex-encoded results.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
)

// TxInfo is one transaction row from the account txlist endpoint.
type TxInfo struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"` // epoch seconds as string
	From        string `json:"from"`
	To          string `json:"to"`
}

// Block returns the block number, 0 when unparseable.
func (t TxInfo) Block() int64 {
	n, _ := strconv.ParseInt(t.BlockNumber, 10, 64)
	return n
}

// TimeMs returns the transaction time in epoch milliseconds, 0 when unparseable.
func (t TxInfo) TimeMs() int64 {
	sec, _ := strconv.ParseInt(t.TimeStamp, 10, 64)
	return sec * 1000
}

// accountEnvelope wraps account-module responses. Status "1" is success;
// status "0" with message "No transactions found" is an empty result, not an
// error.
type accountEnvelope struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Result  []TxInfo `json:"result"`
}

// proxyEnvelope wraps proxy-module (raw JSON-RPC) responses.
type proxyEnvelope struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Explorer is the block-explorer REST client.
type Explorer struct {
	http   *resty.Client
	apiKey string
}

func NewExplorer(baseURL, apiKey string) *Explorer {
	return &Explorer{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}),
		apiKey: apiKey,
	}
}

// FirstTransaction returns the address's earliest transaction, or nil when
// the address has never transacted.
func (e *Explorer) FirstTransaction(ctx context.Context, address string) (*TxInfo, error) {
	var env accountEnvelope
	resp, err := e.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"module":     "account",
			"action":     "txlist",
			"address":    address,
			"startblock": "0",
			"page":       "1",
			"offset":     "1", // earliest tx only
			"sort":       "asc",
			"apikey":     e.apiKey,
		}).
		SetResult(&env).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("txlist %s: %w", address, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("txlist %s: status %d", address, resp.StatusCode())
	}
	if len(env.Result) == 0 {
		return nil, nil
	}
	tx := env.Result[0]
	return &tx, nil
}

// TransactionCount returns the address's outgoing transaction count (nonce).
func (e *Explorer) TransactionCount(ctx context.Context, address string) (int64, error) {
	result, err := e.proxyCall(ctx, "eth_getTransactionCount", map[string]string{
		"address": address,
		"tag":     "latest",
	})
	if err != nil {
		return 0, err
	}
	n, err := hexutil.DecodeUint64(result)
	if err != nil {
		return 0, fmt.Errorf("decode tx count %q: %w", result, err)
	}
	return int64(n), nil
}

// Balance returns the address's native balance in wei.
func (e *Explorer) Balance(ctx context.Context, address string) (*big.Int, error) {
	result, err := e.proxyCall(ctx, "eth_getBalance", map[string]string{
		"address": address,
		"tag":     "latest",
	})
	if err != nil {
		return nil, err
	}
	wei, err := hexutil.DecodeBig(result)
	if err != nil {
		return nil, fmt.Errorf("decode balance %q: %w", result, err)
	}
	return wei, nil
}

// IsContract reports whether the address has deployed code.
func (e *Explorer) IsContract(ctx context.Context, address string) (bool, error) {
	result, err := e.proxyCall(ctx, "eth_getCode", map[string]string{
		"address": address,
		"tag":     "latest",
	})
	if err != nil {
		return false, err
	}
	return result != "" && result != "0x", nil
}

func (e *Explorer) proxyCall(ctx context.Context, action string, params map[string]string) (string, error) {
	query := map[string]string{
		"module": "proxy",
		"action": action,
		"apikey": e.apiKey,
	}
	for k, v := range params {
		query[k] = v
	}

	var env proxyEnvelope
	resp, err := e.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&env).
		Get("")
	if err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("%s: status %d", action, resp.StatusCode())
	}
	if env.Error != nil {
		return "", fmt.Errorf("%s: %s", action, env.Error.Message)
	}
	return env.Result, nil
}
