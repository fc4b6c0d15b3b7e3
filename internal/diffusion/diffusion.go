package diffusion

import (
	"context"
	"image"
)

type Precision string

const (
	Float16 Precision = "float16"
	Float32 Precision = "float32"
)

// LoadParams describes how a pipeline is instantiated and bound to a device.
type LoadParams struct {
	Model            string    `json:"model"`
	Device           string    `json:"device"`
	Precision        Precision `json:"precision"`
	SafetyChecker    bool      `json:"safety_checker"`
	AttentionSlicing bool      `json:"attention_slicing"`
	// Guidance is fixed per pipeline on backends that only read it from
	// the model configuration.
	Guidance float64 `json:"guidance"`
}

type InferParams struct {
	Prompt   string  `json:"prompt"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// Loader constructs a fresh pipeline. Implementations must not cache
// pipelines between calls.
type Loader interface {
	Load(context.Context, LoadParams) (Pipeline, error)
}

// Pipeline runs a single inference pass and returns the first sample.
type Pipeline interface {
	Infer(context.Context, InferParams) (image.Image, error)
}
