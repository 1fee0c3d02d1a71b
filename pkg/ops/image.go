package ops

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/taskpilot/taskpilot/pkg/catalog"
)

type imageResize struct{}

// NewImageResize resizes and/or re-encodes an image with a quality setting.
func NewImageResize() catalog.Operation { return imageResize{} }

func (imageResize) Spec() catalog.Spec {
	return catalog.Spec{
		ID:          "image_resize",
		Description: "Resize or compress an image and save the result.",
		Caps:        catalog.CapSet{catalog.CapRead, catalog.CapWrite},
		Params: []catalog.Param{
			{Name: "input", Type: catalog.TypePath, Required: true, Description: "Source image"},
			{Name: "output", Type: catalog.TypePath, Required: true, Description: "Where to save the processed image"},
			{Name: "quality", Type: catalog.TypeInt, Default: 85, Description: "JPEG quality, 1-100"},
			{Name: "size", Type: catalog.TypeIntPair, Description: "Target [width, height]; omit to keep dimensions"},
		},
	}
}

func (imageResize) Execute(ctx context.Context, env catalog.Env, params map[string]any) (*catalog.Result, error) {
	input, err := requireString(params, "input")
	if err != nil {
		return nil, err
	}
	output, err := requireString(params, "output")
	if err != nil {
		return nil, err
	}
	quality := intParam(params, "quality", 85)
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("quality must be 1-100, got %d", quality)
	}

	abs, err := env.PathFor(input)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", input, err)
	}

	if size, ok := pairParam(params, "size"); ok {
		if size[0] <= 0 || size[1] <= 0 {
			return nil, fmt.Errorf("size must be positive, got %v", size)
		}
		img = imaging.Resize(img, size[0], size[1], imaging.Lanczos)
	}

	format, err := formatFor(output)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if err := env.Put(output, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &catalog.Result{
		Value:    map[string]int{"width": bounds.Dx(), "height": bounds.Dy(), "bytes": buf.Len()},
		Artifact: output,
	}, nil
}

func formatFor(name string) (imaging.Format, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".png"):
		return imaging.PNG, nil
	case strings.HasSuffix(strings.ToLower(name), ".jpg"), strings.HasSuffix(strings.ToLower(name), ".jpeg"):
		return imaging.JPEG, nil
	case strings.HasSuffix(strings.ToLower(name), ".gif"):
		return imaging.GIF, nil
	default:
		return 0, fmt.Errorf("unsupported image extension in %q", name)
	}
}
