package diffusion

import (
	"context"
	"errors"

	"github.com/fphillips/hal-imagegen/internal/log"
	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/gpu"
	"github.com/samber/lo"
)

var ErrNoDevice = errors.New("no accelerator device available")

type DeviceSelector interface {
	Select(context.Context) (string, error)
}

// StaticDevice always selects the same device. Remote backends use it since
// device binding happens on their side.
type StaticDevice string

func (d StaticDevice) Select(ctx context.Context) (string, error) {
	log.FromContextOrDiscard(ctx).WithGroup("device").Debug("using static device", "device", string(d))
	return string(d), nil
}

const nvidiaVendorID = "10de"

// GPUSelector picks the first NVIDIA card found on the host. Other vendors'
// cards, such as BMC framebuffers or integrated graphics, are not CUDA
// devices.
type GPUSelector struct {
	cards func() ([]*gpu.GraphicsCard, error)
}

func NewGPUSelector() *GPUSelector {
	return &GPUSelector{cards: func() ([]*gpu.GraphicsCard, error) {
		info, err := ghw.GPU()
		if err != nil {
			return nil, err
		}
		return info.GraphicsCards, nil
	}}
}

func (s *GPUSelector) Select(ctx context.Context) (string, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("device")
	logger.Info("enumerating graphics cards")

	all, err := s.cards()
	if err != nil {
		return "", err
	}
	cards := lo.Filter(all, func(c *gpu.GraphicsCard, _ int) bool {
		return c != nil && c.DeviceInfo != nil && c.DeviceInfo.Vendor != nil && c.DeviceInfo.Vendor.ID == nvidiaVendorID
	})
	if len(cards) == 0 {
		logger.Warn("no nvidia graphics card found", "cards", len(all))
		return "", ErrNoDevice
	}

	card := cards[0]
	attrs := []any{"address", card.Address, "count", len(cards), "vendor", card.DeviceInfo.Vendor.Name}
	if card.DeviceInfo.Product != nil {
		attrs = append(attrs, "product", card.DeviceInfo.Product.Name)
	}
	logger.Info("selected device", attrs...)

	// Accelerator runtimes number visible devices from zero.
	return "cuda:0", nil
}
