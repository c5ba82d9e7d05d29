package relay

// TunnelType is the tunnel protocol a relay can terminate.
type TunnelType string

const (
	TunnelTypeWireGuard TunnelType = "wireguard"
	TunnelTypeOpenVPN   TunnelType = "openvpn"
)

func (t TunnelType) IsValid() bool {
	switch t {
	case TunnelTypeWireGuard, TunnelTypeOpenVPN:
		return true
	default:
		return false
	}
}

// TransportProtocol is the L4 protocol of an endpoint.
type TransportProtocol string

const (
	TransportUDP TransportProtocol = "udp"
	TransportTCP TransportProtocol = "tcp"
)

func (p TransportProtocol) IsValid() bool {
	switch p {
	case TransportUDP, TransportTCP:
		return true
	default:
		return false
	}
}

// EndpointKind discriminates the EndpointData variant.
type EndpointKind string

const (
	EndpointWireGuard EndpointKind = "wireguard"
	EndpointOpenVPN   EndpointKind = "openvpn"
	EndpointBridge    EndpointKind = "bridge"
)

// TunnelType maps an endpoint kind to the tunnel it serves. Bridges serve none.
func (k EndpointKind) TunnelType() (TunnelType, bool) {
	switch k {
	case EndpointWireGuard:
		return TunnelTypeWireGuard, true
	case EndpointOpenVPN:
		return TunnelTypeOpenVPN, true
	default:
		return "", false
	}
}
