package script

import "github.com/OpenTollGate/networkd-broker-go/src/link"

// Environment variable names of the hook invocation ABI. The three core
// variables are set on every invocation; the decomposed variables mirror the
// typed snapshot and the wireless fields when available.
const (
	EnvDeviceIface  = "NWD_DEVICE_IFACE"
	EnvBrokerAction = "NWD_BROKER_ACTION"
	EnvJSON         = "NWD_JSON"

	EnvAdministrativeState = "NWD_ADMINISTRATIVE_STATE"
	EnvOperationalState    = "NWD_OPERATIONAL_STATE"
	EnvCarrierState        = "NWD_CARRIER_STATE"
	EnvAddressState        = "NWD_ADDRESS_STATE"
	EnvIPv4AddressState    = "NWD_IPV4_ADDRESS_STATE"
	EnvIPv6AddressState    = "NWD_IPV6_ADDRESS_STATE"

	EnvESSID   = "NWD_ESSID"
	EnvStation = "NWD_STATION"
)

// Environments collects the extra variables added to a hook's inherited
// environment.
type Environments map[string]string

// NewEnvironments returns an empty variable set.
func NewEnvironments() Environments {
	return make(Environments)
}

// Add sets one variable and returns the set for chaining.
func (e Environments) Add(name, value string) Environments {
	e[name] = value
	return e
}

// PackFromEvent fills the set from a link event. The raw JSON payload is
// passed through verbatim when includeJSON is set and left empty otherwise;
// the variable itself is always present.
func (e Environments) PackFromEvent(event *link.Event, includeJSON bool) Environments {
	e.Add(EnvDeviceIface, event.Iface)
	e.Add(EnvBrokerAction, event.State)

	if includeJSON {
		e.Add(EnvJSON, event.DetailsJSON)
	} else {
		e.Add(EnvJSON, "")
	}

	if d := event.Details; d != nil {
		e.Add(EnvAdministrativeState, d.AdministrativeState)
		e.Add(EnvOperationalState, d.OperationalState)
		e.Add(EnvCarrierState, d.CarrierState)
		e.Add(EnvAddressState, d.AddressState)
		e.Add(EnvIPv4AddressState, d.IPv4AddressState)
		e.Add(EnvIPv6AddressState, d.IPv6AddressState)

		if d.SSID != "" {
			e.Add(EnvESSID, d.SSID)
		}
		if d.Station != "" {
			e.Add(EnvStation, d.Station)
		}
	}

	return e
}
