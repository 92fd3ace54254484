package inference

import (
	"reflect"
	"testing"
)

func TestSelectProviders(t *testing.T) {
	tests := []struct {
		name string
		host HostInfo
		want []Provider
	}{
		{"cpu only linux", HostInfo{OS: "linux"}, []Provider{ProviderCPU}},
		{"nvidia linux", HostInfo{OS: "linux", NVIDIA: true}, []Provider{ProviderCUDA, ProviderCPU}},
		{"nvidia with tensorrt", HostInfo{OS: "linux", NVIDIA: true, TensorRT: true}, []Provider{ProviderCUDA, ProviderTensorRT, ProviderCPU}},
		{"nvidia windows", HostInfo{OS: "windows", NVIDIA: true}, []Provider{ProviderCUDA, ProviderDirectML, ProviderCPU}},
		{"amd windows", HostInfo{OS: "windows", OtherGPU: true}, []Provider{ProviderDirectML, ProviderCPU}},
		{"mac", HostInfo{OS: "darwin"}, []Provider{ProviderCoreML, ProviderCPU}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectProviders(tt.host)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SelectProviders() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseProviders(t *testing.T) {
	got, err := ParseProviders("CUDA, coreml")
	if err != nil {
		t.Fatal(err)
	}
	want := []Provider{ProviderCUDA, ProviderCoreML, ProviderCPU}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := ParseProviders("rocm"); err == nil {
		t.Error("expected error for unknown provider")
	}

	got, err = ParseProviders("")
	if err != nil || !reflect.DeepEqual(got, []Provider{ProviderCPU}) {
		t.Errorf("empty list = %v, %v", got, err)
	}
}
