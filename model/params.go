package model

// Reserved parameter names written by the recompute engine.
const (
	ParamCount         = "NRtotal"
	ParamLength        = "Ltotal"
	ParamArea          = "Atotal"
	ParamAreaMin       = "AminTotal"
	ParamAreaMax       = "AmaxTotal"
	ParamVolume        = "Vtotal"
	ParamEnvelopeArea  = "AenvTotal"
	ParamFloorArea     = "AfloorTotal"
	ParamFloorPerim    = "PfloorTotal"
	ParamHeight        = "Hmax"
	ParamInstanceCount = "NRinstances"
)

// Offset parameters are user-entered and geometry-affecting: they shift
// the face bounding variants AminTotal and AmaxTotal.
const (
	ParamOffsetInner = "dIn"
	ParamOffsetOuter = "dOut"
)

// Per-instance derived measure keys stored on Instance.Derived.
const (
	MeasureLength    = "L"
	MeasureArea      = "A"
	MeasurePerimeter = "P"
	MeasureAreaMin   = "Amin"
	MeasureAreaMax   = "Amax"
	MeasureVolume    = "V"
	MeasureEnvelope  = "Aenv"
	MeasureFloorArea = "Afloor"
	MeasureFloorPeri = "Pfloor"
	MeasureHeight    = "H"
)

// IsOffsetParameter reports whether a parameter name shifts derived geometry values.
func IsOffsetParameter(name string) bool {
	return name == ParamOffsetInner || name == ParamOffsetOuter
}

// Color is an RGBA display color.
type Color struct {
	R, G, B, A uint8
}

// DerivedColor is a proxy display color plus where it came from.
type DerivedColor struct {
	Color        Color
	IsFromParent bool
}
