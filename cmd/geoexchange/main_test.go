package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/geoexchange/core"
	"github.com/signalsfoundry/geoexchange/network"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("geoexchange %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestConvertSampleNetwork(t *testing.T) {
	out := run(t, "convert")
	for _, want := range []string{
		"network heating: 4 nodes, 0 sub-networks, 3 edges",
		"geometry heating-geometry: 4 vertices, 3 edges, 3 polylines, 4 proxies",
		"pipes: 3 instances, Ltotal = 11.000 m",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConvertFileWithSubnetwork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plant.json")
	doc := `{
  "id": "plant",
  "nodes": [
    {"key": "station", "x": 0, "y": 0},
    {"key": "pump", "x": 50, "y": 0, "in": "station"},
    {"key": "outlet", "x": 300, "y": 400}
  ],
  "edges": [{"from": "station", "to": "outlet"}]
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write network: %v", err)
	}
	out := run(t, "convert", "--file", path, "--target", "plant-3d")
	if !strings.Contains(out, "network plant: 2 nodes, 1 sub-networks, 1 edges") {
		t.Fatalf("unexpected network summary:\n%s", out)
	}
	if !strings.Contains(out, "geometry plant-3d: 3 vertices") {
		t.Fatalf("unexpected geometry summary:\n%s", out)
	}
	if !strings.Contains(out, "Ltotal = 5.000 m") {
		t.Fatalf("unexpected pipe length:\n%s", out)
	}
}

func TestDecodeNetworkErrors(t *testing.T) {
	cases := map[string]string{
		"missing id":        `{"nodes": []}`,
		"unknown field":     `{"id": "n", "pipes": []}`,
		"duplicate key":     `{"id": "n", "nodes": [{"key": "a"}, {"key": "a"}]}`,
		"unknown container": `{"id": "n", "nodes": [{"key": "a", "in": "b"}]}`,
		"unknown endpoint":  `{"id": "n", "nodes": [{"key": "a"}], "edges": [{"from": "a", "to": "z"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeNetwork(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	n, err := decodeNetwork(strings.NewReader(sampleNetwork))
	if err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	if got := n.Count(network.KindEdge); got != 3 {
		t.Fatalf("sample edges = %d, want 3", got)
	}
}

func TestDemoPrintsParametersAndExports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "placements.json")
	out := run(t, "demo", "--export", path)

	for _, want := range []string{
		"== after association",
		"Room 101",
		"Vtotal",
		"60.000",
		"Floor slab",
		"== after cutting a shaft into the slab",
		core.EventBuildingAssociationChanged.String(),
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("demo output missing %q:\n%s", want, out)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	records, err := core.ReadPlacements(f)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(records) < 4 {
		t.Fatalf("exported %d placements, want at least 4", len(records))
	}
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("exchange:\n  pixel_to_meter: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"--config", path, "convert"})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected invalid config to fail")
	}
}
