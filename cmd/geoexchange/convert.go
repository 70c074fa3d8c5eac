package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

// networkFile is the JSON layout accepted by the convert command. Nodes
// are keyed by name; a node with In set is created inside the named node,
// which becomes a sub-network. Containers must be listed first.
type networkFile struct {
	ID    model.ModelID `json:"id"`
	Nodes []struct {
		Key string  `json:"key"`
		X   float64 `json:"x"`
		Y   float64 `json:"y"`
		In  string  `json:"in,omitempty"`
	} `json:"nodes"`
	Edges []struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"edges"`
}

const sampleNetwork = `{
  "id": "heating",
  "nodes": [
    {"key": "boiler", "x": 0, "y": 0},
    {"key": "riser", "x": 400, "y": 0},
    {"key": "radiator-1", "x": 400, "y": 300},
    {"key": "radiator-2", "x": 800, "y": 300}
  ],
  "edges": [
    {"from": "boiler", "to": "riser"},
    {"from": "riser", "to": "radiator-1"},
    {"from": "radiator-1", "to": "radiator-2"}
  ]
}`

func newConvertCmd(a *app) *cobra.Command {
	var (
		file   string
		target string
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a network into geometry and print what was generated",
		Long: `convert loads a network from a JSON file (or a built-in sample), converts it
into a geometry model with one vertex and proxy per node and one polyline per edge,
and prints element counts and the total pipe length.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader
			if file == "" {
				r = strings.NewReader(sampleNetwork)
			} else {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open network %s: %w", file, err)
				}
				defer f.Close()
				r = f
			}
			n, err := decodeNetwork(r)
			if err != nil {
				return err
			}
			return a.runConvert(n, model.ModelID(target))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "network JSON file (defaults to a built-in sample)")
	cmd.Flags().StringVar(&target, "target", "", "id of the generated geometry model (defaults to <network>-geometry)")
	return cmd
}

func decodeNetwork(r io.Reader) (*network.Model, error) {
	var nf networkFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&nf); err != nil {
		return nil, fmt.Errorf("decode network: %w", err)
	}
	if nf.ID == "" {
		return nil, fmt.Errorf("decode network: missing id")
	}

	n := network.NewModel(nf.ID)
	ids := make(map[string]model.ElementID, len(nf.Nodes))
	for _, nd := range nf.Nodes {
		if _, dup := ids[nd.Key]; dup {
			return nil, fmt.Errorf("node %q: duplicate key", nd.Key)
		}
		var owner model.ElementID
		if nd.In != "" {
			var ok bool
			owner, ok = ids[nd.In]
			if !ok {
				return nil, fmt.Errorf("node %q: unknown container %q", nd.Key, nd.In)
			}
			if k, _ := n.Kind(owner); k != network.KindSubNetwork {
				if err := n.PromoteNode(owner); err != nil {
					return nil, fmt.Errorf("node %q: %w", nd.Key, err)
				}
			}
		}
		id, err := n.AddNode(owner, nd.Key, model.Vec2{X: nd.X, Y: nd.Y})
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", nd.Key, err)
		}
		ids[nd.Key] = id
	}
	for i, e := range nf.Edges {
		from, ok := ids[e.From]
		if !ok {
			return nil, fmt.Errorf("edge %d: unknown node %q", i, e.From)
		}
		to, ok := ids[e.To]
		if !ok {
			return nil, fmt.Errorf("edge %d: unknown node %q", i, e.To)
		}
		if _, err := n.AddEdge(from, to); err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
	}
	return n, nil
}

func (a *app) runConvert(n *network.Model, target model.ModelID) error {
	store, tree, ex, err := a.newExchange()
	if err != nil {
		return err
	}
	defer ex.Close()

	if target == "" {
		target = n.ID() + "-geometry"
	}
	if err := store.LoadNetwork(n); err != nil {
		return err
	}
	g, err := ex.ConvertNetwork(n.ID(), target)
	if err != nil {
		return err
	}

	pipes, err := addComponent(tree.Root(), "Pipes")
	if err != nil {
		return err
	}
	var refs []model.ElementRef
	for _, id := range n.IDs(network.KindEdge) {
		refs = append(refs, n.Ref(id))
	}
	if len(refs) > 0 {
		if _, err := ex.Associate(pipes, refs...); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.out, "network %s: %d nodes, %d sub-networks, %d edges\n",
		n.ID(), n.Count(network.KindNode), n.Count(network.KindSubNetwork), n.Count(network.KindEdge))
	fmt.Fprintf(a.out, "geometry %s: %d vertices, %d edges, %d polylines, %d proxies\n",
		g.ID(), g.Count(geometry.KindVertex), g.Count(geometry.KindEdge),
		g.Count(geometry.KindPolyline), g.Count(geometry.KindProxy))
	if len(refs) > 0 {
		fmt.Fprintf(a.out, "pipes: %d instances, %s = %.3f m\n",
			len(pipes.Instances()), model.ParamLength, pipes.Value(model.ParamLength))
	}
	return nil
}
