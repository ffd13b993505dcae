package reporting

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyDSNDisabled(t *testing.T) {
	flush, err := Init("", "test", "dev")
	require.NoError(t, err)
	flush()
}

func TestInit_InvalidDSN(t *testing.T) {
	_, err := Init("not a dsn", "test", "dev")
	assert.Error(t, err)
}

func TestInit_ValidDSN(t *testing.T) {
	flush, err := Init("https://public@example.com/1", "test", "dev")
	require.NoError(t, err)
	t.Cleanup(func() { sentry.CurrentHub().BindClient(nil) })
	assert.NotNil(t, sentry.CurrentHub().Client())
	flush()
}
