package cmdutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/credkeep/internal/config"
)

func TestResolveAccount(t *testing.T) {
	settings := &config.Settings{ActiveAccount: "active@example.com"}

	got, err := ResolveAccount("explicit@example.com", settings)
	require.NoError(t, err)
	assert.Equal(t, "explicit@example.com", got)

	got, err = ResolveAccount("", settings)
	require.NoError(t, err)
	assert.Equal(t, "active@example.com", got)

	_, err = ResolveAccount("", &config.Settings{})
	var fe *FlagError
	assert.ErrorAs(t, err, &fe)
}
