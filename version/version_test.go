package version

import (
	"testing"

	"github.com/carlmjohnson/versioninfo"
	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	Version = "1.4.0"
	assert.Equal(t, "1.4.0", String())

	Version = "dev"
	assert.Equal(t, versioninfo.Short(), String())
}
