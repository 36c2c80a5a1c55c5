package core

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxClassifier wraps a pretrained binary worm classifier exported to ONNX.
// The session and its tensors are allocated once at startup; Run is serialized
// with a mutex because the input/output tensors are preallocated.
type OnnxClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// LoadOnnxClassifier initializes the ONNX runtime and creates a scoring
// session for the model at modelPath. A missing or unloadable model is a
// startup error; callers are expected to treat it as fatal.
func LoadOnnxClassifier(modelPath, onnxLibPath string) (*OnnxClassifier, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", modelPath, err)
	}

	if onnxLibPath != "" {
		ort.SetSharedLibraryPath(onnxLibPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(1, ImgHeight, ImgWidth, ImgChannels)
	outputShape := ort.NewShape(1, 1)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &OnnxClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (c *OnnxClassifier) Score(tensor []float32) (float32, error) {
	if len(tensor) != TensorSize {
		return 0, fmt.Errorf("expected tensor of length %d, got %d", TensorSize, len(tensor))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.inputTensor.GetData(), tensor)

	if err := c.session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	return c.outputTensor.GetData()[0], nil
}

func (c *OnnxClassifier) Close() {
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	ort.DestroyEnvironment()
}
