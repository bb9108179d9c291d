package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemoryKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	orig := open
	open = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { open = orig })
}

func TestSetGetDelete(t *testing.T) {
	useMemoryKeyring(t)
	t.Setenv(PasswordEnv, "")

	key := AccountKey("work")
	assert.Equal(t, "imap:work", key)

	_, err := Get(key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Set(key, "hunter2"))
	got, err := Password("work")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, Delete(key))
	_, err = Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPassword_EnvironmentWins(t *testing.T) {
	useMemoryKeyring(t)
	t.Setenv(PasswordEnv, "from-env")

	got, err := Password("anything")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}
