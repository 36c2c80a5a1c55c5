package core

import "worm-backend/internal/database"

const (
	ImgHeight   = 128
	ImgWidth    = 128
	ImgChannels = 3

	// TensorSize is the flattened length of one normalized image batch
	// (batch=1, NHWC layout).
	TensorSize = 1 * ImgHeight * ImgWidth * ImgChannels
)

// Scorer maps a normalized image tensor to the probability that the image
// contains a flatworm. Implementations must be safe for concurrent callers.
type Scorer interface {
	// Score expects a tensor of length TensorSize with values in [0, 1].
	Score(tensor []float32) (float32, error)
}

// Decide applies the binary decision rule to a raw flatworm probability.
// The comparison is strict, so a score of exactly 0.5 resolves to earthworm.
// The returned confidence is the probability of the chosen class and is
// therefore always >= 0.5.
func Decide(pred float32) (string, float32) {
	if pred > 0.5 {
		return database.ClassFlatworm, pred
	}
	return database.ClassEarthworm, 1 - pred
}
