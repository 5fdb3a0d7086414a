// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package distribution

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewGaussian_InvalidStdDev(t *testing.T) {
	for _, sd := range []float64{0, -1, math.NaN()} {
		if _, err := NewGaussian(0, sd); err == nil {
			t.Errorf("NewGaussian(0, %v) should fail", sd)
		}
	}
}

func TestGaussian_SampleMoments(t *testing.T) {
	g, err := NewGaussian(3, 2)
	if err != nil {
		t.Fatalf("NewGaussian: %v", err)
	}
	rng := rand.New(rand.NewSource(42))

	const n = 200000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		x := g.Sample(rng)
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	variance := sumSq/n - mean*mean

	if math.Abs(mean-3) > 0.05 {
		t.Errorf("sample mean = %f, want ~3", mean)
	}
	if math.Abs(variance-4) > 0.1 {
		t.Errorf("sample variance = %f, want ~4", variance)
	}
}

func TestGaussian_LogPDF(t *testing.T) {
	g, _ := NewGaussian(0, 1)
	// Standard normal at 0: -0.5*log(2*pi).
	want := -0.5 * math.Log(2*math.Pi)
	if got := g.LogPDF(0); math.Abs(got-want) > 1e-12 {
		t.Errorf("LogPDF(0) = %f, want %f", got, want)
	}
	if math.IsInf(g.LogPDF(100), -1) {
		t.Error("Gaussian LogPDF should be finite everywhere")
	}
}

func TestUniform_Support(t *testing.T) {
	u, err := NewUniform(-1, 1)
	if err != nil {
		t.Fatalf("NewUniform: %v", err)
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		x := u.Sample(rng)
		if x < -1 || x >= 1 {
			t.Fatalf("sample %f outside [-1, 1)", x)
		}
	}
	if !math.IsInf(u.LogPDF(2), -1) {
		t.Error("LogPDF outside support should be -Inf")
	}
	if got, want := u.LogPDF(0), -math.Log(2.0); math.Abs(got-want) > 1e-12 {
		t.Errorf("LogPDF(0) = %f, want %f", got, want)
	}
}

func TestNewUniform_InvalidRange(t *testing.T) {
	if _, err := NewUniform(1, 1); err == nil {
		t.Error("degenerate range should fail")
	}
	if _, err := NewUniform(2, 1); err == nil {
		t.Error("inverted range should fail")
	}
}

func TestNewDiscrete_Validation(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		weights []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []float64{1, 2}, []float64{1}},
		{"negative weight", []float64{1, 2}, []float64{1, -1}},
		{"zero total", []float64{1, 2}, []float64{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDiscrete(tt.values, tt.weights); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestDiscrete_SampleFrequencies(t *testing.T) {
	d, err := NewDiscrete([]float64{10, 20, 30}, []float64{1, 2, 7})
	if err != nil {
		t.Fatalf("NewDiscrete: %v", err)
	}
	rng := rand.New(rand.NewSource(99))

	counts := map[float64]int{}
	const n = 100000
	for i := 0; i < n; i++ {
		counts[d.Sample(rng)]++
	}

	if f := float64(counts[10]) / n; math.Abs(f-0.1) > 0.01 {
		t.Errorf("freq(10) = %f, want ~0.1", f)
	}
	if f := float64(counts[30]) / n; math.Abs(f-0.7) > 0.01 {
		t.Errorf("freq(30) = %f, want ~0.7", f)
	}
}

func TestDiscrete_LogPDF(t *testing.T) {
	d, _ := NewDiscrete([]float64{1, 2}, []float64{1, 3})
	if got, want := d.LogPDF(2), math.Log(0.75); math.Abs(got-want) > 1e-12 {
		t.Errorf("LogPDF(2) = %f, want %f", got, want)
	}
	if !math.IsInf(d.LogPDF(5), -1) {
		t.Error("LogPDF off support should be -Inf")
	}
}

func TestDiscrete_ZeroWeightValueOffSupport(t *testing.T) {
	d, _ := NewDiscrete([]float64{1, 2}, []float64{0, 1})
	if !math.IsInf(d.LogPDF(1), -1) {
		t.Error("value with zero weight should have -Inf log mass")
	}
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 1000; i++ {
		if d.Sample(rng) == 1 {
			t.Fatal("sampled zero-weight value")
		}
	}
}
