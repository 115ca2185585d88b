package economy_test

import (
	"testing"

	"github.com/enclavecode/swarm/coordinator/economy"
	"github.com/enclavecode/swarm/shared/testutil/assert"
)

func TestWeightedMedian(t *testing.T) {
	tests := []struct {
		name   string
		inputs []economy.WeightedInput
		want   uint64
		ok     bool
	}{
		{name: "no inputs", inputs: nil, want: 0, ok: false},
		{
			name:   "single value",
			inputs: []economy.WeightedInput{{Value: 1500, Weight: 1}},
			want:   1500, ok: true,
		},
		{
			// Equal weights over two values resolve to the lower one.
			name:   "equal weight tie",
			inputs: []economy.WeightedInput{{Value: 2000, Weight: 1}, {Value: 1000, Weight: 1}},
			want:   1000, ok: true,
		},
		{
			name: "weight dominates",
			inputs: []economy.WeightedInput{
				{Value: 1000, Weight: 1},
				{Value: 2000, Weight: 5},
				{Value: 3000, Weight: 1},
			},
			want: 2000, ok: true,
		},
		{
			name: "heavy outlier wins",
			inputs: []economy.WeightedInput{
				{Value: 1000, Weight: 0.5},
				{Value: 9000, Weight: 10},
			},
			want: 9000, ok: true,
		},
		{
			name:   "zero total weight",
			inputs: []economy.WeightedInput{{Value: 1000, Weight: 0}},
			want:   0, ok: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := economy.WeightedMedian(tt.inputs)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
