package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionInfo(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "1.2.3"
	assert.Equal(t, "1.2.3", GetVersion())
	assert.Contains(t, GetVersionInfo(), "vksnap v1.2.3")
}
