package guard

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncerRunsSingleCallAfterWindow(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	wrapped := d.Wrap(func() (any, error) { return "result", nil })

	val, err := wrapped()
	require.NoError(t, err)
	require.Equal(t, "result", val)
}

func TestDebouncerSupersedesEarlierCallWithNull(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	var executed int32
	fn := func() (any, error) {
		atomic.AddInt32(&executed, 1)
		return "ran", nil
	}
	wrapped := d.Wrap(fn)

	var wg sync.WaitGroup
	results := make([]any, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = wrapped()
	}()

	time.Sleep(5 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = wrapped()
	}()

	wg.Wait()

	require.Nil(t, results[0], "the superseded call must resolve with the null sentinel")
	require.NoError(t, errs[0])
	require.Equal(t, "ran", results[1])
	require.Equal(t, int32(1), atomic.LoadInt32(&executed), "only the surviving call should execute fn")
}

func TestDebouncerZeroWindowRunsImmediately(t *testing.T) {
	d := NewDebouncer(0)
	wrapped := d.Wrap(func() (any, error) { return "immediate", nil })
	val, err := wrapped()
	require.NoError(t, err)
	require.Equal(t, "immediate", val)
}

func TestDebouncerPropagatesErrorFromSurvivor(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	wrapped := d.Wrap(func() (any, error) { return nil, require.AnError })
	_, err := wrapped()
	require.Equal(t, require.AnError, err)
}
