package telegram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_EmptyToken(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
