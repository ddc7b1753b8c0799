package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
)

// ResolveContract returns the single ACTIVE contract of orgID covering asOf.
// No match is a no_contract PricingError; more than one is ambiguous_contract.
// Any other error comes from the reader and is unexpected.
func ResolveContract(ctx context.Context, reader refdata.Reader, orgID string, asOf time.Time) (core.Contract, error) {
	date := asOf.Format(core.DateLayout)
	contracts, err := reader.FindActiveContracts(ctx, orgID, asOf)
	if err != nil {
		return core.Contract{}, fmt.Errorf("find contracts for %s on %s: %w", orgID, date, err)
	}

	matched := contracts[:0:0]
	for _, c := range contracts {
		if c.Status == core.ContractActive && c.Covers(asOf) {
			matched = append(matched, c)
		}
	}

	switch len(matched) {
	case 0:
		return core.Contract{}, core.NewNoContractError(orgID, date)
	case 1:
		return matched[0], nil
	default:
		ids := make([]string, 0, len(matched))
		for _, c := range matched {
			ids = append(ids, c.ID)
		}
		sort.Strings(ids)
		return core.Contract{}, core.NewAmbiguousContractError(orgID, date, ids)
	}
}
