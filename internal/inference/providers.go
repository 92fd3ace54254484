package inference

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/deepswap/internal/log"
)

// Provider names an ONNX Runtime execution provider
type Provider string

const (
	ProviderCUDA     Provider = "cuda"
	ProviderTensorRT Provider = "tensorrt"
	ProviderDirectML Provider = "directml"
	ProviderCoreML   Provider = "coreml"
	ProviderCPU      Provider = "cpu"
)

// providerOrder is the fixed preference order. CPU is always last.
var providerOrder = []Provider{
	ProviderCUDA,
	ProviderTensorRT,
	ProviderDirectML,
	ProviderCoreML,
	ProviderCPU,
}

// HostInfo describes the capabilities relevant to provider selection
type HostInfo struct {
	OS       string
	NVIDIA   bool
	TensorRT bool
	OtherGPU bool
}

// ProbeHost inspects the running machine
func ProbeHost() HostInfo {
	info := HostInfo{OS: runtime.GOOS}

	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		info.NVIDIA = true
	}
	if _, err := exec.LookPath("trtexec"); err == nil {
		info.TensorRT = info.NVIDIA
	}

	if runtime.GOOS == "linux" {
		if out, err := exec.Command("lspci").Output(); err == nil {
			lower := strings.ToLower(string(out))
			if strings.Contains(lower, "nvidia") {
				info.NVIDIA = true
			}
			if strings.Contains(lower, "amd") || strings.Contains(lower, "radeon") {
				info.OtherGPU = true
			}
		}
	}
	return info
}

// SelectProviders returns the providers usable on host in preference
// order, always ending with CPU.
func SelectProviders(host HostInfo) []Provider {
	var out []Provider
	for _, p := range providerOrder {
		switch p {
		case ProviderCUDA:
			if host.NVIDIA && host.OS != "darwin" {
				out = append(out, p)
			}
		case ProviderTensorRT:
			if host.TensorRT && host.OS != "darwin" {
				out = append(out, p)
			}
		case ProviderDirectML:
			if host.OS == "windows" && (host.NVIDIA || host.OtherGPU) {
				out = append(out, p)
			}
		case ProviderCoreML:
			if host.OS == "darwin" {
				out = append(out, p)
			}
		case ProviderCPU:
			out = append(out, p)
		}
	}
	return out
}

// DetectProviders is SelectProviders applied to the running machine
func DetectProviders() []Provider {
	return SelectProviders(ProbeHost())
}

// ParseProviders parses a comma separated provider list. Unknown names are
// rejected and CPU is appended when missing.
func ParseProviders(s string) ([]Provider, error) {
	var out []Provider
	hasCPU := false
	for _, part := range strings.Split(s, ",") {
		name := Provider(strings.ToLower(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		known := false
		for _, p := range providerOrder {
			if p == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown execution provider %q", part)
		}
		if name == ProviderCPU {
			hasCPU = true
		}
		out = append(out, name)
	}
	if !hasCPU {
		out = append(out, ProviderCPU)
	}
	return out, nil
}

// accelerated reports whether providers asks for anything beyond CPU
func accelerated(providers []Provider) bool {
	for _, p := range providers {
		if p != ProviderCPU {
			return true
		}
	}
	return false
}

func appendProvider(options *ort.SessionOptions, p Provider) error {
	switch p {
	case ProviderCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cudaOptions.Destroy()
		return options.AppendExecutionProviderCUDA(cudaOptions)
	case ProviderTensorRT:
		trtOptions, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return err
		}
		defer trtOptions.Destroy()
		return options.AppendExecutionProviderTensorRT(trtOptions)
	case ProviderDirectML:
		return options.AppendExecutionProviderDirectML(0)
	case ProviderCoreML:
		// Flag 0 = default settings, use Neural Engine + GPU
		return options.AppendExecutionProviderCoreML(0)
	case ProviderCPU:
		return nil
	}
	return fmt.Errorf("unknown execution provider %q", p)
}

// OpenORT creates a DynamicAdvancedSession for spec with providers appended
// to one options object in order. A provider that cannot be appended is
// skipped.
func OpenORT(spec ModelSpec, providers []Provider) (Runner, error) {
	if !isInitialized() {
		return nil, ErrNotInitialized
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	for _, p := range providers {
		if err := appendProvider(options, p); err != nil {
			log.Debug("execution provider unavailable", "provider", p, "model", spec.Path, "error", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(spec.Path, spec.InputNames, spec.OutputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", spec.Path, err)
	}
	return session, nil
}
