package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// LocalAILoader drives a LocalAI server running the diffusers backend. The
// model definition is rewritten into ModelsDir on every load so the server
// picks up the requested precision, device binding and guidance scale.
type LocalAILoader struct {
	Client    *openai.Client
	ModelsDir string
}

var ErrNoModelsDir = errors.New("localai models directory is not configured")

type modelDefinition struct {
	Name       string   `yaml:"name"`
	Backend    string   `yaml:"backend"`
	F16        bool     `yaml:"f16"`
	CUDA       bool     `yaml:"cuda"`
	MainGPU    string   `yaml:"main_gpu,omitempty"`
	CFGScale   float32  `yaml:"cfg_scale"`
	Options    []string `yaml:"options,omitempty"`
	Parameters struct {
		Model string `yaml:"model"`
	} `yaml:"parameters"`
	Diffusers struct {
		CUDA             bool   `yaml:"cuda"`
		PipelineType     string `yaml:"pipeline_type"`
		EnableParameters string `yaml:"enable_parameters,omitempty"`
	} `yaml:"diffusers"`
}

// ModelName is the name LocalAI serves a model identifier under.
func ModelName(model string) string {
	return path.Base(model)
}

func newModelDefinition(params LoadParams) modelDefinition {
	cuda := strings.HasPrefix(params.Device, "cuda")

	def := modelDefinition{
		Name:     ModelName(params.Model),
		Backend:  "diffusers",
		F16:      params.Precision == Float16,
		CUDA:     cuda,
		MainGPU:  lo.Ternary(cuda, strings.TrimPrefix(params.Device, "cuda:"), ""),
		CFGScale: float32(params.Guidance),
		Options: []string{
			fmt.Sprintf("safety_checker:%t", params.SafetyChecker),
			fmt.Sprintf("attention_slicing:%t", params.AttentionSlicing),
		},
	}
	def.Parameters.Model = params.Model
	def.Diffusers.CUDA = cuda
	def.Diffusers.PipelineType = "StableDiffusionPipeline"
	def.Diffusers.EnableParameters = "num_inference_steps"
	return def
}

func (l *LocalAILoader) Load(ctx context.Context, params LoadParams) (Pipeline, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("localai").With("params", params)
	logger.Info("loading pipeline")

	if l.ModelsDir == "" {
		return nil, ErrNoModelsDir
	}

	def := newModelDefinition(params)
	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, err
	}
	file := filepath.Join(l.ModelsDir, def.Name+".yaml")
	logger.Debug("writing model definition", "file", file)
	if err := os.WriteFile(file, data, 0644); err != nil {
		return nil, err
	}

	page, err := l.Client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	if !lo.ContainsBy(page.Data, func(m openai.Model) bool { return m.ID == def.Name }) {
		return nil, fmt.Errorf("model %q is not served by localai", def.Name)
	}

	return &localAIPipeline{client: l.Client, model: def.Name}, nil
}

type localAIPipeline struct {
	client *openai.Client
	model  string
}

func (p *localAIPipeline) Infer(ctx context.Context, params InferParams) (image.Image, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("localai").With("model", p.model)
	logger.Info("running inference", "steps", params.Steps, "guidance", params.Guidance)

	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         params.Prompt,
		Model:          openai.ImageModel(p.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(fmt.Sprintf("%dx%d", params.Width, params.Height)),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}, option.WithJSONSet("step", params.Steps))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("localai returned no images")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
