package vk

import (
	"errors"
	"math"
	"testing"

	"github.com/vulkan-go/vulkan"

	"github.com/mohe2015/blockfield/internal/render"
)

func TestChooseSwapSurfaceFormatPrefersSRGB(t *testing.T) {
	available := []vulkan.SurfaceFormat{
		{Format: vulkan.FormatR8g8b8a8Unorm, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
		{Format: vulkan.FormatB8g8r8a8Srgb, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
	}
	got := chooseSwapSurfaceFormat(available)
	if got.Format != vulkan.FormatB8g8r8a8Srgb {
		t.Fatalf("format = %v, want FormatB8g8r8a8Srgb", got.Format)
	}
}

func TestChooseSwapSurfaceFormatFallsBackToFirst(t *testing.T) {
	available := []vulkan.SurfaceFormat{
		{Format: vulkan.FormatR8g8b8a8Unorm, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
	}
	got := chooseSwapSurfaceFormat(available)
	if got.Format != vulkan.FormatR8g8b8a8Unorm {
		t.Fatalf("format = %v, want the only available format", got.Format)
	}
}

func TestChooseSwapPresentMode(t *testing.T) {
	withMailbox := []vulkan.PresentMode{vulkan.PresentModeFifo, vulkan.PresentModeMailbox}
	if got := chooseSwapPresentMode(withMailbox, false); got != vulkan.PresentModeMailbox {
		t.Fatalf("present mode = %v, want PresentModeMailbox", got)
	}
	withoutMailbox := []vulkan.PresentMode{vulkan.PresentModeImmediate}
	if got := chooseSwapPresentMode(withoutMailbox, false); got != vulkan.PresentModeFifo {
		t.Fatalf("present mode = %v, want PresentModeFifo fallback", got)
	}
	if got := chooseSwapPresentMode(withMailbox, true); got != vulkan.PresentModeFifo {
		t.Fatalf("present mode = %v, want PresentModeFifo under vsync", got)
	}
}

func TestChooseSwapExtentUsesCurrentExtent(t *testing.T) {
	caps := vulkan.SurfaceCapabilities{
		CurrentExtent: vulkan.Extent2D{Width: 640, Height: 480},
	}
	got, err := chooseSwapExtent(caps, render.Extent{Width: 800, Height: 600})
	if err != nil {
		t.Fatalf("chooseSwapExtent: %v", err)
	}
	if got.Width != 640 || got.Height != 480 {
		t.Fatalf("extent = %dx%d, want the surface's current 640x480", got.Width, got.Height)
	}
}

func TestChooseSwapExtentAcceptsInRangeRequest(t *testing.T) {
	caps := vulkan.SurfaceCapabilities{
		CurrentExtent:  vulkan.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vulkan.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vulkan.Extent2D{Width: 4096, Height: 4096},
	}
	got, err := chooseSwapExtent(caps, render.Extent{Width: 800, Height: 600})
	if err != nil {
		t.Fatalf("chooseSwapExtent: %v", err)
	}
	if got.Width != 800 || got.Height != 600 {
		t.Fatalf("extent = %dx%d, want the requested 800x600", got.Width, got.Height)
	}
}

func TestChooseSwapExtentRejectsOutOfRangeRequest(t *testing.T) {
	caps := vulkan.SurfaceCapabilities{
		CurrentExtent:  vulkan.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vulkan.Extent2D{Width: 100, Height: 100},
		MaxImageExtent: vulkan.Extent2D{Width: 1024, Height: 1024},
	}
	for _, want := range []render.Extent{
		{Width: 50, Height: 600},
		{Width: 800, Height: 2000},
	} {
		if _, err := chooseSwapExtent(caps, want); !errors.Is(err, render.ErrExtentUnsupported) {
			t.Fatalf("chooseSwapExtent(%v) err = %v, want ErrExtentUnsupported", want, err)
		}
	}
}
