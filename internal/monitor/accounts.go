package monitor

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"deltaScope/internal/model"
)

// ParseAccounts turns the configured account list into monitored accounts.
// Each entry is an on-chain address, optionally with a distinct venue
// address appended as "onchain=venue". All parsed accounts start active.
func ParseAccounts(raw []string) ([]model.MonitoredAccount, error) {
	out := make([]model.MonitoredAccount, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		address := entry
		venueAddress := ""
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			address = strings.TrimSpace(entry[:idx])
			venueAddress = strings.TrimSpace(entry[idx+1:])
		}

		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid account address: %s", address)
		}
		if venueAddress != "" && !common.IsHexAddress(venueAddress) {
			return nil, fmt.Errorf("invalid venue address for %s: %s", address, venueAddress)
		}

		out = append(out, model.MonitoredAccount{
			Address:      common.HexToAddress(address).Hex(),
			VenueAddress: normalizeOptional(venueAddress),
			IsActive:     true,
		})
	}
	return out, nil
}

func normalizeOptional(address string) string {
	if address == "" {
		return ""
	}
	return common.HexToAddress(address).Hex()
}
