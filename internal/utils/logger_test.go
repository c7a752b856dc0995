package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, dev := range []bool{true, false} {
		l, err := NewLogger(dev)
		require.NoError(t, err)
		l.Sugar().Infow("logger ready", "dev", dev)
	}
}
