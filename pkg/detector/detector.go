package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pagelens/pagelens/pkg/gemini"
	"github.com/pagelens/pagelens/pkg/geometry"
	"github.com/pagelens/pagelens/pkg/log"
)

// Region is one detected visual element on a page raster.
type Region struct {
	Label string
	Box   geometry.Box
}

// Detector finds figures, charts, tables, and diagrams on page images
// with a Gemini vision prompt.
type Detector struct {
	client      *gemini.Client
	model       string
	temperature float64
	prompt      string
}

const detectPrompt = `Identify every distinct visual element on this document page: figures, charts, graphs, tables, diagrams, photos, and illustrations. Ignore running text, headers, footers, and page numbers.

Respond with a JSON array only. Each element must be an object with:
- "label": a short description of the element
- "box_2d": the bounding box as [y0, x0, y1, x1] in image pixel coordinates

Return [] if the page has no visual elements.`

func New(client *gemini.Client, model string, temperature float64) *Detector {
	return &Detector{client: client, model: model, temperature: temperature, prompt: detectPrompt}
}

// WithInstructions replaces the built-in detection prompt. Either
// argument may be empty; both empty keeps the default.
func (d *Detector) WithInstructions(boxInstructions, spatialInstructions string) *Detector {
	combined := strings.TrimSpace(strings.TrimSpace(boxInstructions) + "\n\n" + strings.TrimSpace(spatialInstructions))
	if combined != "" {
		d.prompt = combined
	}
	return d
}

// Detect returns the valid regions found on one page image. Model
// output that cannot be parsed yields an empty list, never an error:
// a page with garbled detection still ingests with its text.
func (d *Detector) Detect(ctx context.Context, png []byte, width, height int) ([]Region, error) {
	req := &gemini.Request{
		Contents: []gemini.Content{{
			Parts: []gemini.Part{
				{InlineData: &gemini.InlineData{
					MimeType: "image/png",
					Data:     base64.StdEncoding.EncodeToString(png),
				}},
				{Text: d.prompt},
			},
		}},
		GenerationConfig: &gemini.GenerationConfig{Temperature: &d.temperature},
	}

	resp, err := d.client.GenerateContent(ctx, d.model, req)
	if err != nil {
		return nil, err
	}

	text, err := gemini.FirstText(resp)
	if err != nil {
		log.Warn("detector returned no text, treating page as empty")
		return nil, nil
	}

	return parseRegions(text, width, height), nil
}

type rawRegion struct {
	Label string    `json:"label"`
	Box2D []float64 `json:"box_2d"`
}

// parseRegions defensively decodes the model's JSON. Fences are
// stripped, non-arrays rejected, and each item validated on its own so
// one bad entry does not discard the rest.
func parseRegions(text string, width, height int) []Region {
	cleaned := stripFences(text)

	var raw []rawRegion
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		log.Warn("detector output is not a JSON array, skipping", "error", err)
		return nil
	}

	regions := make([]Region, 0, len(raw))
	for _, r := range raw {
		if r.Label == "" || len(r.Box2D) != 4 {
			continue
		}
		box, ok := geometry.FromSlice(r.Box2D)
		if !ok {
			continue
		}
		box = box.Clamp(width, height)
		if !box.Valid() {
			continue
		}
		regions = append(regions, Region{Label: r.Label, Box: box})
	}
	return regions
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
