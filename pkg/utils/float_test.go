package utils

import "testing"

func TestAverageFloat32(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected float32
	}{
		{"normal case", []float32{1.0, 2.0, 3.0}, 2.0},
		{"single element", []float32{5.0}, 5.0},
		{"empty slice", []float32{}, 0.0},
		{"negative numbers", []float32{-1.0, 1.0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AverageFloat32(tt.input)
			if result != tt.expected {
				t.Errorf("expected %f, got %f", tt.expected, result)
			}
		})
	}
}

func TestClampFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"below", -0.5, 0},
		{"inside", 0.25, 0.25},
		{"above", 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := ClampFloat64(tt.input, 0, 1); result != tt.expected {
				t.Errorf("expected %f, got %f", tt.expected, result)
			}
		})
	}
}
