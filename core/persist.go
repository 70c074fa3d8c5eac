package core

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
)

// Placement record kinds.
const (
	PlacementKindGeometry = "geometry"
	PlacementKindNetwork  = "network"
)

// PlacementRecord is the persisted form of one placement.
type PlacementRecord struct {
	InstanceID uuid.UUID         `json:"instanceId"`
	Kind       string            `json:"kind"`
	Model      model.ModelID     `json:"modelId"`
	Element    model.ElementID   `json:"elementId"`
	Related    []model.ElementID `json:"relatedIds,omitempty"`
}

// ExportPlacements lists every placement of the tree, components in walk
// order and placements in instance order.
func ExportPlacements(tree *component.Tree) []PlacementRecord {
	var out []PlacementRecord
	tree.Walk(func(c *component.Component) bool {
		for _, inst := range c.Instances() {
			for _, p := range inst.Placements() {
				rec := PlacementRecord{InstanceID: inst.ID, Model: p.Target().Model, Element: p.Target().Element}
				switch pl := p.(type) {
				case *component.GeometryPlacement:
					rec.Kind = PlacementKindGeometry
					rec.Related = append([]model.ElementID(nil), pl.Related...)
				case *component.NetworkPlacement:
					rec.Kind = PlacementKindNetwork
				}
				out = append(out, rec)
			}
		}
		return true
	})
	return out
}

// ImportPlacements re-attaches placement records to the instances of the
// tree with matching ids. Records are validated first; an unknown instance
// or kind rejects the whole import. Placements an instance already has are
// skipped, so importing twice is harmless.
func (e *Exchange) ImportPlacements(records []PlacementRecord) error {
	e.enter()
	defer e.leave()

	instances := make([]*component.Instance, len(records))
	for i, rec := range records {
		inst, ok := e.tree.Instance(rec.InstanceID)
		if !ok {
			return fmt.Errorf("%w: record %d: unknown instance %s", ErrInvalidArgument, i, rec.InstanceID)
		}
		if rec.Kind != PlacementKindGeometry && rec.Kind != PlacementKindNetwork {
			return fmt.Errorf("%w: record %d: unknown placement kind %q", ErrInvalidArgument, i, rec.Kind)
		}
		instances[i] = inst
	}

	e.batch++
	defer func() {
		e.batch--
		e.maybeFlush()
	}()
	for i, rec := range records {
		inst := instances[i]
		ref := model.Ref(rec.Model, rec.Element)
		if hasPlacementOn(inst, ref) {
			continue
		}
		var p component.Placement
		if rec.Kind == PlacementKindNetwork {
			p = component.NewNetworkPlacement(ref)
		} else {
			p = component.NewGeometryPlacement(ref, rec.Related...)
		}
		if err := inst.AddPlacement(p); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

func hasPlacementOn(inst *component.Instance, ref model.ElementRef) bool {
	for _, p := range inst.Placements() {
		if p.Target() == ref {
			return true
		}
	}
	return false
}

// WritePlacements encodes records as indented JSON.
func WritePlacements(w io.Writer, records []PlacementRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode placements: %w", err)
	}
	return nil
}

// ReadPlacements decodes records written by WritePlacements.
func ReadPlacements(r io.Reader) ([]PlacementRecord, error) {
	var records []PlacementRecord
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode placements: %w", err)
	}
	return records, nil
}
