// Package flags defines the command line flags specific to the coordinator
// binary.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// RPCHost defines the address the coordinator API binds to.
	RPCHost = &cli.StringFlag{
		Name:  "rpc-host",
		Usage: "Host on which the coordinator HTTP/WS API listens",
		Value: "127.0.0.1",
	}
	// RPCPort defines the port the coordinator API binds to.
	RPCPort = &cli.IntFlag{
		Name:  "rpc-port",
		Usage: "Port on which the coordinator HTTP/WS API listens",
		Value: 7450,
	}
	// MonitoringPortFlag defines the port used by the prometheus service.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used by the prometheus service",
		Value: 7460,
	}
	// CoordinatorIDFlag names this coordinator in the mesh, the ledger and
	// checkpoint signatures.
	CoordinatorIDFlag = &cli.StringFlag{
		Name:     "coordinator-id",
		Usage:    "Stable identifier of this coordinator in the mesh and the ledger",
		Required: true,
	}
	// SelfURLFlag is the externally reachable base URL announced to peers.
	SelfURLFlag = &cli.StringFlag{
		Name:  "self-url",
		Usage: "Externally reachable base URL of this coordinator, announced to mesh peers",
	}
	// MeshTokenFlag is the pre-shared secret gating every mesh-internal route.
	MeshTokenFlag = &cli.StringFlag{
		Name:  "mesh-token",
		Usage: "Pre-shared token required on all mesh-internal API routes",
	}
	// PortalTokenFlag authenticates the trusted portal service on admin routes.
	PortalTokenFlag = &cli.StringFlag{
		Name:  "portal-token",
		Usage: "Token the trusted portal service presents on admin routes",
	}
	// PortalPubkeyFlag verifies portal-issued registration tokens.
	PortalPubkeyFlag = &cli.StringFlag{
		Name:  "portal-pubkey",
		Usage: "Hex-encoded Ed25519 public key of the portal service, used to verify registration tokens",
	}
	// AdminAllowlistFlag lists CIDRs permitted on admin routes without the portal token.
	AdminAllowlistFlag = &cli.StringSliceFlag{
		Name:  "admin-allowlist",
		Usage: "CIDR blocks permitted on admin routes without the portal token",
	}
	// AllowedOriginsFlag configures CORS for browser-based portals.
	AllowedOriginsFlag = &cli.StringSliceFlag{
		Name:  "http-cors-domain",
		Usage: "Comma separated list of domains from which to accept cross origin requests",
	}
	// BootstrapFileFlag points at the static YAML peer list.
	BootstrapFileFlag = &cli.StringFlag{
		Name:  "bootstrap-file",
		Usage: "Path to a YAML file of bootstrap mesh peers, watched for changes",
	}
	// RegistryFeedURLFlag points at the control-plane peer seed endpoint.
	RegistryFeedURLFlag = &cli.StringFlag{
		Name:  "registry-feed-url",
		Usage: "URL of the control-plane registry feed used to seed mesh peers",
	}
	// InferenceEndpointFlag points at the task decomposition service.
	InferenceEndpointFlag = &cli.StringFlag{
		Name:  "inference-endpoint",
		Usage: "URL of the inference service used for task decomposition; empty uses the built-in pass-through",
	}
	// EscalateEndpointFlag points at the larger-node handoff target.
	EscalateEndpointFlag = &cli.StringFlag{
		Name:  "escalate-endpoint",
		Usage: "URL of a larger coordinator to hand off subtasks that exceed local capability",
	}
	// WorkRewardSatsFlag sets the per-subtask work credit.
	WorkRewardSatsFlag = &cli.Int64Flag{
		Name:  "work-reward-sats",
		Usage: "Credit in sats earned per completed subtask",
		Value: 10,
	}
)
