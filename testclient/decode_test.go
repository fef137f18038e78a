package testclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		want   string
		offset int
		bad    bool
	}{
		{name: "ascii", raw: []byte("ACK"), want: "ACK"},
		{name: "empty", raw: []byte{}, want: ""},
		{name: "multibyte", raw: []byte("héllo"), want: "héllo"},
		{name: "invalid lead byte", raw: []byte{0xff, 'A'}, bad: true, offset: 0},
		{name: "invalid after text", raw: []byte{'A', 'C', 0xfe}, bad: true, offset: 2},
		{name: "truncated rune", raw: []byte{'o', 'k', 0xc3}, bad: true, offset: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if !tt.bad {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
			assert.Equal(t, tt.offset, decErr.Offset)
			assert.True(t, errors.Is(err, ErrDecode))
			assert.Empty(t, got)
		})
	}
}
