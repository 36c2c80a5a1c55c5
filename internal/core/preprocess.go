package core

import (
	"fmt"
	"image"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// PreprocessImage decodes the image at path and normalizes it into the tensor
// shape the classifier expects: 128x128 RGB, pixel values scaled to [0, 1],
// NHWC layout with a leading batch dimension of 1.
func PreprocessImage(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("unable to decode image: %w", err)
	}

	resized := resize.Resize(ImgWidth, ImgHeight, img, resize.NearestNeighbor)

	tensor := make([]float32, TensorSize)
	i := 0
	for y := 0; y < ImgHeight; y++ {
		for x := 0; x < ImgWidth; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			// RGBA returns 16-bit channel values.
			tensor[i] = float32(r) / 65535.0
			tensor[i+1] = float32(g) / 65535.0
			tensor[i+2] = float32(b) / 65535.0
			i += 3
		}
	}

	return tensor, nil
}
