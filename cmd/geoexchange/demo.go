package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/core"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/site"
)

func newDemoCmd(a *app) *cobra.Command {
	var exportPath string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Build a sample building, associate components and print their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDemo(exportPath)
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "write the resulting placements as JSON to this file")
	return cmd
}

func (a *app) runDemo(exportPath string) error {
	store, tree, ex, err := a.newExchange()
	if err != nil {
		return err
	}
	defer ex.Close()

	var events []core.Event
	unsubscribe := ex.Subscribe(func(ev core.Event) { events = append(events, ev) })
	defer unsubscribe()

	g := geometry.NewModel("building")
	if err := store.LoadGeometry(g); err != nil {
		return err
	}
	campus := site.NewModel("campus")
	mainBuilding := campus.AddBuilding("Main", []model.Vec2{{}, {X: 9}, {X: 9, Y: 4}, {Y: 4}})
	if err := store.LoadSite(campus); err != nil {
		return err
	}

	// Geometry edits are grouped so the exchange recomputes once.
	g.StartBatchOperation()
	volA, _, err := g.AddBox(model.Vec3{}, model.Vec3{X: 5, Y: 4, Z: 3})
	if err != nil {
		return err
	}
	volB, _, err := g.AddBox(model.Vec3{X: 5}, model.Vec3{X: 9, Y: 4, Z: 3})
	if err != nil {
		return err
	}
	slab, err := g.AddPolygonFace(geometry.Rectangle(model.Vec3{Z: -0.3}, 9, 4))
	if err != nil {
		return err
	}
	if err := g.EndBatchOperation(); err != nil {
		return err
	}

	building, err := addComponent(tree.Root(), "Main building")
	if err != nil {
		return err
	}
	room101, err := addComponent(building, "Room 101")
	if err != nil {
		return err
	}
	room102, err := addComponent(building, "Room 102")
	if err != nil {
		return err
	}
	floor, err := addComponent(building, "Floor slab")
	if err != nil {
		return err
	}
	if _, err := floor.AddParameter(component.Parameter{Name: model.ParamOffsetInner, Value: 0.1, Unit: "m"}); err != nil {
		return err
	}

	ex.StartBatchOperation()
	steps := []struct {
		c   *component.Component
		ref model.ElementRef
	}{
		{room101, g.Ref(volA)},
		{room102, g.Ref(volB)},
		{floor, g.Ref(slab)},
		{building, campus.Ref(mainBuilding)},
	}
	for _, s := range steps {
		if _, err := ex.Associate(s.c, s.ref); err != nil {
			_ = ex.EndBatchOperation()
			return fmt.Errorf("associate %s: %w", s.c.Name, err)
		}
	}
	if err := ex.EndBatchOperation(); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "== after association")
	printComponents(a.out, tree)

	shaft, err := g.AddPolygonLoop(geometry.Rectangle(model.Vec3{X: 4, Y: 1.5, Z: -0.3}, 1, 1))
	if err != nil {
		return err
	}
	if err := g.AddHole(slab, shaft); err != nil {
		return err
	}
	if err := floor.SetParameter(model.ParamOffsetInner, 0.2); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "== after cutting a shaft into the slab")
	printComponents(a.out, tree)

	fmt.Fprintln(a.out, "== events")
	for _, ev := range events {
		fmt.Fprintf(a.out, "%s\t%d element(s)\n", ev.Type, len(ev.Elements))
	}

	if exportPath != "" {
		return writePlacementsFile(exportPath, core.ExportPlacements(tree))
	}
	return nil
}

func addComponent(parent *component.Component, name string) (*component.Component, error) {
	c := component.NewComponent(name)
	if err := parent.AddSubComponent(c); err != nil {
		return nil, fmt.Errorf("add %s: %w", name, err)
	}
	return c, nil
}

// printComponents lists every user component below the root with its
// parameters, followed by the number of generated children.
func printComponents(w io.Writer, tree *component.Tree) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tPARAMETER\tVALUE\tUNIT")
	tree.Walk(func(c *component.Component) bool {
		if c == tree.Root() {
			return true
		}
		if c.Generated {
			return false
		}
		params := c.Parameters()
		sort.SliceStable(params, func(i, j int) bool { return params[i].Name < params[j].Name })
		for _, p := range params {
			fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", c.Name, p.Name, p.Value, p.Unit)
		}
		generated := 0
		for _, ch := range c.SubComponents() {
			if ch.Generated {
				generated++
			}
		}
		if generated > 0 {
			fmt.Fprintf(tw, "%s\t(generated children)\t%d\t\n", c.Name, generated)
		}
		return true
	})
	_ = tw.Flush()
}

func writePlacementsFile(path string, records []core.PlacementRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := core.WritePlacements(f, records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
