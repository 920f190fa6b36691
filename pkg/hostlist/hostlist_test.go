package hostlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "tux1", want: []string{"tux1"}},
		{in: "tux[1-3]", want: []string{"tux1", "tux2", "tux3"}},
		{in: "tux[1-3,5]", want: []string{"tux1", "tux2", "tux3", "tux5"}},
		{in: "n[01-03]", want: []string{"n01", "n02", "n03"}},
		{in: "a,b[1-2],c", want: []string{"a", "b1", "b2", "c"}},
		{in: "42_[1-3,5]", want: []string{"42_1", "42_2", "42_3", "42_5"}},
		{in: "rack[2]x", want: []string{"rack2x"}},
		{in: "tux[3-1]", wantErr: true},
		{in: "tux[1", wantErr: true},
		{in: "tux1]", wantErr: true},
		{in: "tux[1][2]", wantErr: true},
		{in: "tux[a-b]", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Expand(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Unique([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, Unique(nil))
}
