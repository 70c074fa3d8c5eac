package model

import "fmt"

// ModelID identifies a loaded geometry, network or site model.
type ModelID string

// ElementID is a stable element identifier, unique within one model.
// Ids survive structural clone/copy of a model.
type ElementID uint64

// ElementRef addresses an element of a loaded model. It is the
// GeometryRef of the association engine and is also used for network
// elements and site buildings.
type ElementRef struct {
	Model   ModelID
	Element ElementID
}

// Ref is a small constructor for ElementRef.
func Ref(m ModelID, id ElementID) ElementRef {
	return ElementRef{Model: m, Element: id}
}

// IsZero reports whether the reference is unset.
func (r ElementRef) IsZero() bool {
	return r.Model == "" && r.Element == 0
}

func (r ElementRef) String() string {
	return fmt.Sprintf("%s/%d", r.Model, r.Element)
}

// ModelKind tells which kind of model a ModelID refers to.
type ModelKind int

const (
	ModelKindUnknown ModelKind = iota
	ModelKindGeometry
	ModelKindNetwork
	ModelKindSite
)

func (k ModelKind) String() string {
	switch k {
	case ModelKindGeometry:
		return "geometry"
	case ModelKindNetwork:
		return "network"
	case ModelKindSite:
		return "site"
	default:
		return "unknown"
	}
}
