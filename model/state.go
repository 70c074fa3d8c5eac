package model

// InstanceType is the closed set of instance variants. Every variant has
// its own parameter generation and path rules.
type InstanceType int

const (
	InstanceNone InstanceType = iota
	InstancePoint
	InstanceEdge
	InstanceFace
	InstanceVolume
	InstanceEntity3D
	InstanceNetworkNode
	InstanceNetworkEdge
	InstanceSiteBuilding
)

func (t InstanceType) String() string {
	switch t {
	case InstancePoint:
		return "point"
	case InstanceEdge:
		return "edge"
	case InstanceFace:
		return "face"
	case InstanceVolume:
		return "volume"
	case InstanceEntity3D:
		return "entity3d"
	case InstanceNetworkNode:
		return "network-node"
	case InstanceNetworkEdge:
		return "network-edge"
	case InstanceSiteBuilding:
		return "site-building"
	default:
		return "none"
	}
}

// IsNetwork reports whether the type is placed on flow network elements.
func (t InstanceType) IsNetwork() bool {
	return t == InstanceNetworkNode || t == InstanceNetworkEdge
}

// PlacementState tells whether a placement's target currently resolves.
type PlacementState int

const (
	PlacementValid PlacementState = iota
	PlacementTargetMissing
)

func (s PlacementState) String() string {
	if s == PlacementTargetMissing {
		return "target-missing"
	}
	return "valid"
}

// ConnectionState is the instance/component level connection status.
type ConnectionState int

const (
	ConnectionOk ConnectionState = iota
	ConnectionGeometryNotFound
)

func (s ConnectionState) String() string {
	if s == ConnectionGeometryNotFound {
		return "geometry-not-found"
	}
	return "ok"
}

// InstanceState pairs the realization flag with the connection status.
type InstanceState struct {
	IsRealized bool
	Connection ConnectionState
}

// PropagationMode controls when a parameter change reaches an
// instance's persistent value snapshot.
type PropagationMode int

const (
	PropagateAlways PropagationMode = iota
	PropagateIfInstance
	PropagateNever
)

func (m PropagationMode) String() string {
	switch m {
	case PropagateAlways:
		return "always"
	case PropagateIfInstance:
		return "if-instance"
	case PropagateNever:
		return "never"
	default:
		return "unknown"
	}
}
