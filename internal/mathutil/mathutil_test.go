package mathutil

import (
	"math"
	"testing"
)

func TestDotProduct(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	if got := DotProduct(a, b); got != 32 {
		t.Errorf("DotProduct = %v, want 32", got)
	}
}

func TestNorm(t *testing.T) {
	v := []float32{3, 4}
	if got := Norm(v); got != 5 {
		t.Errorf("Norm = %v, want 5", got)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})

	if math.Abs(float64(Norm(v))-1) > 1e-6 {
		t.Errorf("normalized vector has norm %v, want 1", Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize = %v, want [0.6 0.8]", v)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	for _, x := range v {
		if x != 0 {
			t.Errorf("zero vector changed by Normalize: %v", v)
		}
	}
}
