package diffusion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/fphillips/hal-imagegen/internal/log"
)

const dezgoURL = "https://api.dezgo.com/text2image"

// dezgoModels maps Hugging Face identifiers to the names Dezgo serves them
// under. Identifiers not listed are sent unchanged.
var dezgoModels = map[string]string{
	"runwayml/stable-diffusion-v1-5":              "stablediffusion_1_5",
	"stable-diffusion-v1-5/stable-diffusion-v1-5": "stablediffusion_1_5",
	"stabilityai/stable-diffusion-2-1":            "stablediffusion_2_1_512px",
	"stabilityai/stable-diffusion-xl-base-1.0":    "stablediffusion_xl",
}

// DezgoLoader binds pipelines to the hosted Dezgo API. Precision, safety
// filtering and attention slicing are managed by the service. Model, when
// set, replaces the requested identifier.
type DezgoLoader struct {
	Client *http.Client
	Key    string
	URL    string
	Model  string
}

func (l *DezgoLoader) model(id string) string {
	if l.Model != "" {
		return l.Model
	}
	if name, ok := dezgoModels[id]; ok {
		return name
	}
	return id
}

func (l *DezgoLoader) Load(ctx context.Context, params LoadParams) (Pipeline, error) {
	log.FromContextOrDiscard(ctx).WithGroup("dezgo").Info("binding pipeline", "params", params)
	if l.Key == "" {
		return nil, fmt.Errorf("dezgo api key is empty")
	}
	url := l.URL
	if url == "" {
		url = dezgoURL
	}
	return &dezgoPipeline{client: l.Client, key: l.Key, url: url, model: l.model(params.Model)}, nil
}

type dezgoPipeline struct {
	client *http.Client
	key    string
	url    string
	model  string
}

type dezgoRequest struct {
	Prompt   string  `json:"prompt"`
	Model    string  `json:"model"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

func (p *dezgoPipeline) Infer(ctx context.Context, params InferParams) (image.Image, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("dezgo").With("model", p.model)
	logger.Info("generating image via dezgo", "steps", params.Steps, "guidance", params.Guidance)

	body, err := json.Marshal(dezgoRequest{
		Prompt:   params.Prompt,
		Model:    p.model,
		Steps:    params.Steps,
		Guidance: params.Guidance,
		Width:    params.Width,
		Height:   params.Height,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dezgo-Key", p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dezgo returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	logger.Info("received image via dezgo", "seed", resp.Header.Get("x-input-seed"), "bytes", len(data))

	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
