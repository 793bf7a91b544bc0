package config

import "fmt"

// Resolution names a capture size preset.
type Resolution string

const (
	ResolutionQVGA Resolution = "qvga"
	ResolutionVGA  Resolution = "vga"
	ResolutionHD   Resolution = "hd"
)

// Dimensions is an ideal capture size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

var videoConstraints = map[Resolution]Dimensions{
	ResolutionQVGA: {Width: 320, Height: 240},
	ResolutionVGA:  {Width: 640, Height: 480},
	ResolutionHD:   {Width: 1280, Height: 720},
}

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if _, ok := videoConstraints[r]; !ok {
		return "", fmt.Errorf("unknown resolution %q (want qvga, vga or hd)", s)
	}
	return r, nil
}

// Dimensions returns the pixel size for r, falling back to hd.
func (r Resolution) Dimensions() Dimensions {
	if d, ok := videoConstraints[r]; ok {
		return d
	}
	return videoConstraints[ResolutionHD]
}

func (r Resolution) String() string { return string(r) }
