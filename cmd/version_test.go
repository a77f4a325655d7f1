package cmd

import (
	"bytes"
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/smarthome-hybrid/version"
)

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, doVersion(&buf, false))
	assert.Equal(t, "smarthome "+version.String()+" ("+runtime.Version()+")\n", buf.String())

	buf.Reset()
	require.NoError(t, doVersion(&buf, true))

	var v versionResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &v))
	assert.Equal(t, version.String(), v.Version)
	assert.Equal(t, runtime.Version(), v.GoVersion)
}
