package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentOf(t *testing.T) {
	tests := []struct {
		name        string
		part, total int64
		want        string
	}{
		{"three of five", 3, 5, "60.00"},
		{"one third rounds down", 1, 3, "33.33"},
		{"two thirds rounds up", 2, 3, "66.67"},
		{"half-up at the boundary", 1, 8, "12.50"},
		{"one of 16 is 6.25", 1, 16, "6.25"},
		{"1 of 40000 is 0.0025 -> 0.00", 1, 40000, "0.00"},
		{"1 of 20000 is 0.005 -> 0.01", 1, 20000, "0.01"},
		{"zero total", 5, 0, "0.00"},
		{"all", 7, 7, "100.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentOf(tt.part, tt.total).String())
		})
	}
}

func TestPercentage_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		P Percentage `json:"p"`
	}{P: 6000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":60.00}`, string(out))

	var in struct {
		P Percentage `json:"p"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"p":33.336}`), &in))
	assert.Equal(t, Percentage(3334), in.P)
}

func TestPercentage_Clamp(t *testing.T) {
	assert.Equal(t, PercentZero, Percentage(-5).Clamp())
	assert.Equal(t, PercentHundred, Percentage(10001).Clamp())
	assert.Equal(t, Percentage(4200), Percentage(4200).Clamp())
	assert.Equal(t, "-1.05", Percentage(-105).String())
}
