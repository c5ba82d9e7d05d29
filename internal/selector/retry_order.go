package selector

import (
	"github.com/Resinat/Relayd/internal/constraint"
	"github.com/Resinat/Relayd/internal/relay"
)

// DefaultRetryOrder lists the templates tried on successive connection
// attempts. Each template is intersected with the user's query; templates
// that conflict with it or find no relay are skipped.
var DefaultRetryOrder = []constraint.RelayQuery{
	// 0. WireGuard.
	{
		TunnelProtocol: constraint.Only(relay.TunnelTypeWireGuard),
	},
	// 1. WireGuard over IPv6.
	{
		TunnelProtocol: constraint.Only(relay.TunnelTypeWireGuard),
		WireGuard: constraint.WireGuardQuery{
			IPVersion: constraint.Only(constraint.IPv6),
		},
	},
	// 2. WireGuard with Shadowsocks obfuscation.
	{
		TunnelProtocol: constraint.Only(relay.TunnelTypeWireGuard),
		WireGuard: constraint.WireGuardQuery{
			Obfuscation: constraint.Only(constraint.ObfuscationShadowsocks),
		},
	},
	// 3. WireGuard with udp2tcp obfuscation.
	{
		TunnelProtocol: constraint.Only(relay.TunnelTypeWireGuard),
		WireGuard: constraint.WireGuardQuery{
			Obfuscation: constraint.Only(constraint.ObfuscationUdp2Tcp),
		},
	},
	// 4. OpenVPN over TCP port 443.
	{
		TunnelProtocol: constraint.Only(relay.TunnelTypeOpenVPN),
		OpenVPN: constraint.OpenVPNQuery{
			Port: constraint.Only(constraint.TransportPort{
				Protocol: relay.TransportTCP,
				Port:     constraint.Only[uint16](443),
			}),
		},
	},
	// 5. OpenVPN over TCP through a bridge.
	{
		TunnelProtocol: constraint.Only(relay.TunnelTypeOpenVPN),
		OpenVPN: constraint.OpenVPNQuery{
			Port:      constraint.Only(constraint.TransportPort{Protocol: relay.TransportTCP}),
			UseBridge: constraint.Only(true),
		},
	},
}
