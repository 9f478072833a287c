package recstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

func Test_LargerPrime_Returns_Next_Ladder_Prime_When_In_Range(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want int
	}{
		{n: 0, want: 53},
		{n: 52, want: 53},
		{n: 53, want: 97},
		{n: 1000, want: 1543},
		{n: 805306457, want: 1610612741},
		{n: 1610612740, want: 1610612741},
	}

	for _, tt := range tests {
		got, err := recstore.LargerPrime(tt.n)
		require.NoError(t, err, "n=%d", tt.n)

		if got != tt.want {
			t.Errorf("LargerPrime(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func Test_LargerPrime_Returns_ErrInvalidInput_When_Beyond_Ladder(t *testing.T) {
	t.Parallel()

	_, err := recstore.LargerPrime(1610612741)
	require.ErrorIs(t, err, recstore.ErrInvalidInput)
}

func Test_Sizing_Derives_Hash_And_Conflict_Capacity_From_Record_Count(t *testing.T) {
	t.Parallel()

	hash, conflict, err := recstore.Sizing(1000)
	require.NoError(t, err)
	assert.Equal(t, 3079, hash)
	assert.Equal(t, 500, conflict)

	hash, conflict, err = recstore.Sizing(1)
	require.NoError(t, err)
	assert.Equal(t, 53, hash)
	assert.Equal(t, 1, conflict, "conflict capacity never drops to zero")

	_, _, err = recstore.Sizing(0)
	require.ErrorIs(t, err, recstore.ErrInvalidInput)

	_, _, err = recstore.Sizing(1 << 30)
	require.ErrorIs(t, err, recstore.ErrInvalidInput)
}
