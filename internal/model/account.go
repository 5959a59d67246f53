package model

// MonitoredAccount is an address under tracking. The core pipeline only
// reads it; creation happens from config or the environment list.
type MonitoredAccount struct {
	Address      string
	VenueAddress string
	IsActive     bool
}

// VenueAddressOrDefault returns the distinct off-chain venue address when
// set, otherwise the on-chain address.
func (a MonitoredAccount) VenueAddressOrDefault() string {
	if a.VenueAddress != "" {
		return a.VenueAddress
	}
	return a.Address
}
