package model

import "strings"

// Address identifies an on-chain account. Values are kept in raw form
// ("wc:HEX") once they pass through the ledger adapter.
type Address string

func (a Address) String() string {
	return string(a)
}

// BlockID is an opaque block reference produced by the ledger transport.
type BlockID string

func (b BlockID) String() string {
	return string(b)
}

// PollingMethod is reported by a contract handle after every update and
// selects the strategy of the next polling pass.
type PollingMethod string

const (
	PollingMethodManual   PollingMethod = "manual"
	PollingMethodReliable PollingMethod = "reliable"
)

func (m PollingMethod) String() string {
	return string(m)
}

// NetworkParams describes the network a connection is built for.
type NetworkParams struct {
	Name      string `json:"name"`
	Group     string `json:"group"`
	ConfigURL string `json:"config_url"`
}

// Key returns a stable identifier used in logs and metrics labels.
func (p NetworkParams) Key() string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "unnamed"
	}
	if p.Group == "" {
		return name
	}
	return p.Group + "/" + name
}

// TabID identifies a UI consumer (a browser tab or any other connected port).
type TabID int

// ChannelFlags are the notification channels one tab wants for one address.
type ChannelFlags struct {
	State        bool `json:"state"`
	Transactions bool `json:"transactions"`
}

// Any reports whether at least one channel is requested.
func (f ChannelFlags) Any() bool {
	return f.State || f.Transactions
}

// ChannelUpdate is a partial flags update; nil fields keep their previous value.
type ChannelUpdate struct {
	State        *bool `json:"state,omitempty"`
	Transactions *bool `json:"transactions,omitempty"`
}

// Apply merges the update into f.
func (u ChannelUpdate) Apply(f ChannelFlags) ChannelFlags {
	if u.State != nil {
		f.State = *u.State
	}
	if u.Transactions != nil {
		f.Transactions = *u.Transactions
	}
	return f
}
