package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZero(t *testing.T) {
	require.Equal(t, 0, Zero[int]())
	require.Equal(t, "", Zero[string]())
	require.Nil(t, Zero[*int]())
}
