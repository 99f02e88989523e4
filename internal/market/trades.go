package market

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"polysentry/pkg/types"
)

// txHashRe matches a 32-byte hex transaction hash with 0x prefix.
var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// NormalizeTrade converts one public-feed trade into the canonical form.
//
// The trade ID is the transaction hash when a valid 32-byte hash is present,
// otherwise "{conditionId}-{unixSec}-{takerAddress}". Feed timestamps are
// seconds and converted to milliseconds; addresses are lowercased.
func NormalizeTrade(pt types.PublicTrade) (types.Trade, error) {
	side := types.Side(strings.ToUpper(pt.Side))
	taker := NormalizeAddress(pt.ProxyWallet)

	id := ""
	txHash := ""
	if txHashRe.MatchString(pt.TransactionHash) {
		txHash = strings.ToLower(pt.TransactionHash)
		id = txHash
	} else {
		id = fmt.Sprintf("%s-%d-%s", pt.ConditionID, pt.Timestamp, taker)
	}

	trade := types.Trade{
		ID:              id,
		TokenID:         pt.Asset,
		ConditionID:     pt.ConditionID,
		Timestamp:       pt.Timestamp * 1000,
		Side:            side,
		Price:           pt.Price,
		Size:            pt.Size,
		TakerAddress:    taker,
		TransactionHash: txHash,
	}
	if err := trade.Validate(); err != nil {
		return types.Trade{}, err
	}
	return trade, nil
}

// NormalizeAddress lowercases a 20-byte hex address. Inputs that are not
// valid addresses are returned lowercased as-is so malformed feed data stays
// traceable in logs.
func NormalizeAddress(addr string) string {
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}
