package detector

import (
	"testing"
)

func TestParseRegionsValid(t *testing.T) {
	text := `[
		{"label": "bar chart", "box_2d": [10, 20, 110, 220]},
		{"label": "photo", "box_2d": [0, 0, 50, 50]}
	]`
	regions := parseRegions(text, 400, 400)
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(regions))
	}
	if regions[0].Label != "bar chart" {
		t.Errorf("label = %q", regions[0].Label)
	}
	if regions[0].Box.Y0 != 10 || regions[0].Box.X1 != 220 {
		t.Errorf("box = %+v", regions[0].Box)
	}
}

func TestParseRegionsStripsFences(t *testing.T) {
	text := "```json\n[{\"label\": \"table\", \"box_2d\": [0, 0, 10, 10]}]\n```"
	regions := parseRegions(text, 100, 100)
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(regions))
	}
}

func TestParseRegionsRejectsNonArray(t *testing.T) {
	for _, text := range []string{
		`{"label": "x", "box_2d": [0,0,1,1]}`,
		`not json at all`,
		`"just a string"`,
		``,
	} {
		if got := parseRegions(text, 100, 100); len(got) != 0 {
			t.Errorf("input %q should yield no regions, got %d", text, len(got))
		}
	}
}

func TestParseRegionsSkipsInvalidItems(t *testing.T) {
	text := `[
		{"label": "", "box_2d": [0, 0, 10, 10]},
		{"label": "missing box"},
		{"label": "short box", "box_2d": [1, 2, 3]},
		{"label": "degenerate", "box_2d": [10, 10, 10, 40]},
		{"label": "inverted", "box_2d": [40, 40, 10, 10]},
		{"label": "good", "box_2d": [0, 0, 20, 20]}
	]`
	regions := parseRegions(text, 100, 100)
	if len(regions) != 1 {
		t.Fatalf("expected only the valid region, got %d", len(regions))
	}
	if regions[0].Label != "good" {
		t.Errorf("kept wrong region: %q", regions[0].Label)
	}
}

func TestWithInstructions(t *testing.T) {
	d := New(nil, "m", 0)
	if d.prompt != detectPrompt {
		t.Error("default prompt not set")
	}

	d.WithInstructions("", "")
	if d.prompt != detectPrompt {
		t.Error("empty overrides must keep the default prompt")
	}

	d.WithInstructions("find boxes", "coordinates are pixels")
	if d.prompt != "find boxes\n\ncoordinates are pixels" {
		t.Errorf("prompt = %q", d.prompt)
	}

	d = New(nil, "m", 0).WithInstructions("only boxes", "")
	if d.prompt != "only boxes" {
		t.Errorf("prompt = %q", d.prompt)
	}
}

func TestParseRegionsClampsToImage(t *testing.T) {
	text := `[{"label": "overflow", "box_2d": [-10, -10, 500, 500]}]`
	regions := parseRegions(text, 200, 100)
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(regions))
	}
	box := regions[0].Box
	if box.Y0 != 0 || box.X0 != 0 || box.Y1 != 100 || box.X1 != 200 {
		t.Errorf("box not clamped: %+v", box)
	}
}
