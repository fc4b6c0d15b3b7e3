package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"strings"
	"testing"

	"github.com/fphillips/hal-imagegen/internal/diffusion"
	"github.com/fphillips/hal-imagegen/internal/inject"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls   int
	prompts []string
	err     error
}

func (l *countingLoader) Load(context.Context, diffusion.LoadParams) (diffusion.Pipeline, error) {
	l.calls++
	return l, nil
}

func (l *countingLoader) Infer(_ context.Context, params diffusion.InferParams) (image.Image, error) {
	l.prompts = append(l.prompts, params.Prompt)
	if l.err != nil {
		return nil, l.err
	}
	return image.NewGray(image.Rect(0, 0, params.Width, params.Height)), nil
}

func stubSetup(t *testing.T, loader diffusion.Loader) (SetupFunc, *int) {
	t.Helper()
	t.Setenv("HAL_OUTPUT_DIR", t.TempDir())
	t.Setenv("HAL_DEVICE", "cuda:0")
	t.Setenv("HAL_BUCKET", "")
	t.Setenv("HAL_DISTRIBUTION", "")

	setups := 0
	return func(ctx context.Context) *do.Injector {
		setups++
		i := inject.Setup(ctx)
		do.OverrideValue[diffusion.Loader](i, loader)
		return i
	}, &setups
}

type record struct {
	Success   bool   `json:"success"`
	ImagePath string `json:"image_path"`
	FullPath  string `json:"full_path"`
	Error     string `json:"error"`
}

func decodeRecord(t *testing.T, out *bytes.Buffer) record {
	t.Helper()
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 1)
	var r record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &r))
	return r
}

func TestMissingPrompt(t *testing.T) {
	loader := &countingLoader{}
	setup, setups := stubSetup(t, loader)

	var out bytes.Buffer
	code := Execute(context.Background(), nil, &out, setup)

	assert.Equal(t, 1, code)
	assert.Equal(t, `{"success":false,"error":"No prompt provided"}`+"\n", out.String())
	assert.Zero(t, *setups)
	assert.Zero(t, loader.calls)
}

func TestSuccess(t *testing.T) {
	loader := &countingLoader{}
	setup, _ := stubSetup(t, loader)

	var out bytes.Buffer
	code := Execute(context.Background(), []string{"a castle on a hill", "ignored"}, &out, setup)

	assert.Equal(t, 0, code)
	r := decodeRecord(t, &out)
	assert.True(t, r.Success)
	assert.Regexp(t, `^/generated-images/img_\d{8}_\d{6}\.png$`, r.ImagePath)
	assert.Empty(t, r.Error)
	assert.FileExists(t, r.FullPath)
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, []string{"a castle on a hill"}, loader.prompts)
	assert.NotContains(t, out.String(), `"error"`)
}

func TestPromptLooksLikeFlag(t *testing.T) {
	loader := &countingLoader{}
	setup, _ := stubSetup(t, loader)

	var out bytes.Buffer
	code := Execute(context.Background(), []string{"--help"}, &out, setup)

	assert.Equal(t, 0, code)
	assert.True(t, decodeRecord(t, &out).Success)
	assert.Equal(t, []string{"--help"}, loader.prompts)
}

func TestEmptyPromptIsPresent(t *testing.T) {
	loader := &countingLoader{}
	setup, _ := stubSetup(t, loader)

	var out bytes.Buffer
	code := Execute(context.Background(), []string{""}, &out, setup)

	assert.Equal(t, 0, code)
	assert.True(t, decodeRecord(t, &out).Success)
}

func TestInferenceFailureExitsZero(t *testing.T) {
	loader := &countingLoader{err: errors.New("CUDA out of memory. Tried to allocate 20.00 MiB")}
	setup, _ := stubSetup(t, loader)
	dir := os.Getenv("HAL_OUTPUT_DIR")

	var out bytes.Buffer
	code := Execute(context.Background(), []string{"a cat"}, &out, setup)

	assert.Equal(t, 0, code)
	assert.Equal(t, `{"success":false,"error":"CUDA out of memory. Tried to allocate 20.00 MiB"}`+"\n", out.String())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoaderCalledOncePerRun(t *testing.T) {
	loader := &countingLoader{}
	setup, setups := stubSetup(t, loader)

	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		require.Equal(t, 0, Execute(context.Background(), []string{"same prompt"}, &out, setup))
		assert.True(t, decodeRecord(t, &out).Success)
		assert.Equal(t, i+1, loader.calls)
	}
	assert.Equal(t, 2, *setups)
}

func TestWiringFailureIsReported(t *testing.T) {
	t.Setenv("HAL_OUTPUT_DIR", t.TempDir())
	t.Setenv("HAL_DEVICE", "cuda:0")
	t.Setenv("HAL_BACKEND", "dezgo")
	t.Setenv("HAL_PARAM_SOURCE", "env")
	t.Setenv("HAL_DEZGO_KEY_PARAM", "HAL_TEST_DEZGO_KEY_UNSET")

	var out bytes.Buffer
	code := Execute(context.Background(), []string{"a cat"}, &out, inject.Setup)

	assert.Equal(t, 0, code)
	r := decodeRecord(t, &out)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "HAL_TEST_DEZGO_KEY_UNSET")
}

func TestUnknownBackendIsReported(t *testing.T) {
	t.Setenv("HAL_OUTPUT_DIR", t.TempDir())
	t.Setenv("HAL_DEVICE", "cuda:0")
	t.Setenv("HAL_BACKEND", "comfyui")

	var out bytes.Buffer
	code := Execute(context.Background(), []string{"a cat"}, &out, inject.Setup)

	assert.Equal(t, 0, code)
	r := decodeRecord(t, &out)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "comfyui")
}
