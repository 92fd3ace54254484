package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initialized bool
	initMu      sync.Mutex
)

// ErrNotInitialized is returned when a session is opened before Initialize.
var ErrNotInitialized = errors.New("ONNX Runtime not initialized, call Initialize() first")

// Initialize sets up ONNX Runtime environment (call once at startup)
func Initialize(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

func isInitialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Runner is a loaded model able to run inference. ORT's
// DynamicAdvancedSession satisfies it.
type Runner interface {
	Run(inputs, outputs []ort.Value) error
	Destroy() error
}

// Session wraps a Runner so that at most one goroutine executes it at a
// time. The lock is created with the session and shared by every caller.
type Session struct {
	modelType ModelType
	provider  Provider

	mu     sync.Mutex
	runner Runner
}

func newSession(modelType ModelType, provider Provider, runner Runner) *Session {
	return &Session{
		modelType: modelType,
		provider:  provider,
		runner:    runner,
	}
}

// ModelType returns the model this session was opened for
func (s *Session) ModelType() ModelType {
	return s.modelType
}

// Provider returns the preferred execution provider the session was built with
func (s *Session) Provider() Provider {
	return s.provider
}

// Run executes inference with the given inputs. Nil entries in outputs are
// allocated by the runtime.
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner.Run(inputs, outputs)
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil {
		err := s.runner.Destroy()
		s.runner = nil
		return err
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates a zeroed tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// DestroyValues releases every non-nil value in vs
func DestroyValues(vs []ort.Value) {
	for _, v := range vs {
		if v != nil {
			v.Destroy()
		}
	}
}
