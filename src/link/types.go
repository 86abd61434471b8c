package link

import (
	"encoding/json"
	"fmt"
)

// Operational states reported by systemd-networkd. The bus vocabulary can grow
// between releases, so unrecognized states are passed through untouched; this
// list is only consulted for logging.
var knownOperationalStates = map[string]bool{
	"missing":          true,
	"off":              true,
	"no-carrier":       true,
	"dormant":          true,
	"degraded-carrier": true,
	"carrier":          true,
	"degraded":         true,
	"enslaved":         true,
	"routable":         true,
}

// IsKnownOperationalState reports whether state is part of the documented
// networkd vocabulary.
func IsKnownOperationalState(state string) bool {
	return knownOperationalStates[state]
}

// Link identifies one network link tracked by the network-management service.
type Link struct {
	Index int32
	Name  string
	Path  string
}

// Details is a snapshot of a link's reported state fields, decoded from the
// describe payload. SSID and Station are only filled for wireless links by the
// address-resolution variant.
type Details struct {
	AdministrativeState string `json:"AdministrativeState"`
	OperationalState    string `json:"OperationalState"`
	CarrierState        string `json:"CarrierState"`
	AddressState        string `json:"AddressState"`
	IPv4AddressState    string `json:"IPv4AddressState"`
	IPv6AddressState    string `json:"IPv6AddressState"`

	SSID    string `json:"SSID,omitempty"`
	Station string `json:"Station,omitempty"`
}

// ParseDetails decodes the raw describe payload of a link. A payload without
// an operational state is rejected: the state string selects the hook
// directory and keys the dedupe cache, so it must never be empty.
func ParseDetails(raw string) (*Details, error) {
	var details Details
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, fmt.Errorf("parse link details: %w", err)
	}
	if details.OperationalState == "" {
		return nil, fmt.Errorf("parse link details: missing OperationalState")
	}
	return &details, nil
}

// Event represents one observed state transition of a link.
type Event struct {
	// Iface is the interface name the event belongs to.
	Iface string

	// State is the operational state that triggered the event. Always
	// non-empty; it selects the <state>.d hook directory.
	State string

	// Path is the bus object identity of the triggering notification, kept
	// for diagnostics only.
	Path string

	// Details is the typed snapshot fetched when the event was built.
	Details *Details

	// DetailsJSON is the verbatim serialized snapshot, handed to scripts
	// unmodified.
	DetailsJSON string
}

func (e *Event) String() string {
	return fmt.Sprintf("%s --> %s", e.Iface, e.State)
}
