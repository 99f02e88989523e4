package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"polysentry/pkg/types"
)

// ParseGammaMarket converts a Gamma listing entry into market metadata.
// Outcome names and token IDs arrive as JSON arrays nested inside strings;
// a market must resolve to exactly two outcomes with distinct token IDs.
func ParseGammaMarket(gm types.GammaMarket) (types.MarketMetadata, error) {
	var names, tokenIDs []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &names); err != nil {
		return types.MarketMetadata{}, fmt.Errorf("market %s: parse outcomes: %w", gm.ConditionID, err)
	}
	if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil {
		return types.MarketMetadata{}, fmt.Errorf("market %s: parse token ids: %w", gm.ConditionID, err)
	}
	if len(names) != 2 || len(tokenIDs) != 2 {
		return types.MarketMetadata{}, fmt.Errorf("market %s: want 2 outcomes, got %d names / %d tokens",
			gm.ConditionID, len(names), len(tokenIDs))
	}

	endISO := gm.EndDateISO
	if endISO == "" {
		endISO = gm.EndDate
	}
	if endISO != "" {
		if _, err := time.Parse(time.RFC3339, endISO); err != nil {
			return types.MarketMetadata{}, fmt.Errorf("market %s: bad end date %q", gm.ConditionID, endISO)
		}
	}

	volume, _ := strconv.ParseFloat(gm.Volume, 64)
	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)

	md := types.MarketMetadata{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		EndDateISO:  endISO,
		Active:      gm.Active,
		Closed:      gm.Closed,
		Volume:      volume,
		Liquidity:   liquidity,
		Outcomes: [2]types.Outcome{
			{Name: names[0], TokenID: tokenIDs[0]},
			{Name: names[1], TokenID: tokenIDs[1]},
		},
		Tags:     gm.Tags,
		Category: gm.Category,
	}
	if err := md.Validate(); err != nil {
		return types.MarketMetadata{}, err
	}
	return md, nil
}
