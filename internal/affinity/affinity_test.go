//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPinRestrictsThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var saved unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &saved))
	defer func() {
		assert.NoError(t, unix.SchedSetaffinity(0, &saved))
	}()

	allowed, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, allowed)

	target := allowed[len(allowed)-1]
	require.NoError(t, Pin(target))

	got, err := Current()
	require.NoError(t, err)
	assert.Equal(t, []int{target}, got)
}

func TestPinRejectsNegativeCore(t *testing.T) {
	assert.Error(t, Pin(-1))
}
