package serialport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPick(t *testing.T) {
	_, err := pick(nil)
	assert.ErrorIs(t, err, ErrNoPorts)

	port, err := pick([]string{"/dev/ttyACM0"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", port)

	_, err = pick([]string{"/dev/ttyACM0", "/dev/ttyUSB0"})
	assert.ErrorContains(t, err, "several serial ports found")
}

func TestOpenMissingPort(t *testing.T) {
	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "ttyMissing")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open serial port")
}
