package jobs

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolValidates(t *testing.T) {
	_, err := NewPool(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewPool(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestRunKeepsTaskOrder(t *testing.T) {
	p, err := NewPool(4, 0)
	require.NoError(t, err)
	defer p.Shutdown()

	boom := errors.New("boom")
	var ran atomic.Int32
	tasks := make([]Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = func() error {
			ran.Add(1)
			if i%3 == 0 {
				return boom
			}
			return nil
		}
	}
	errs := p.Run(tasks)
	require.Len(t, errs, 10)
	assert.Equal(t, int32(10), ran.Load())
	for i, err := range errs {
		if i%3 == 0 {
			assert.ErrorIs(t, err, boom)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestPanickingTask(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	err = <-p.Submit(func() error { panic("bad shader") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad shader")
	assert.NoError(t, <-p.Submit(func() error { return nil }), "the worker survives")
}

func TestSubmitAfterShutdown(t *testing.T) {
	p, err := NewPool(2, 0)
	require.NoError(t, err)
	p.Shutdown()
	p.Shutdown()
	assert.ErrorIs(t, <-p.Submit(func() error { return nil }), ErrPoolClosed)
}
