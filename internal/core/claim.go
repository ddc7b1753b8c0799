package core

import "time"

// Well-known claim attributes.
const (
	AttrProviderID    = "provider_id"
	AttrDateOfService = "date_of_service"
	AttrCode          = "code"
	AttrRevCode       = "rev_code"
	AttrModifier      = "modifier"
	AttrUnits         = "units"
	AttrBilledAmount  = "billed_amount"
	AttrNetworkStatus = "network_status"
)

// DefaultNetworkStatus is assumed when a claim omits network_status.
const DefaultNetworkStatus = "INN"

// Claim is a flat attribute map. No attribute is mandatory.
type Claim map[string]string

// Get returns the attribute value and whether it was present.
func (c Claim) Get(attr string) (string, bool) {
	v, ok := c[attr]
	return v, ok
}

// DateOfService parses the claim's date_of_service.
func (c Claim) DateOfService() (time.Time, bool) {
	raw, ok := c[AttrDateOfService]
	if !ok || raw == "" {
		return time.Time{}, false
	}
	d, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
