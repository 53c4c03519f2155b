package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/fjod/pharmacy-cart/pkg/logger"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestNew_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New[int](Options{Name: "test", ConsecutiveFailures: 2, OpenTimeout: time.Minute}, logger.Nop())

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	_, err := cb.Execute(func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestNew_IsSuccessfulIgnoresExpectedErrors(t *testing.T) {
	cb := New[int](Options{
		Name:                "test",
		ConsecutiveFailures: 1,
		IsSuccessful:        func(err error) bool { return err == nil || errors.Is(err, errBoom) },
	}, logger.Nop())

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestNew_ClosesAgainAfterTimeout(t *testing.T) {
	cb := New[int](Options{Name: "test", ConsecutiveFailures: 1, OpenTimeout: 20 * time.Millisecond}, nil)

	_, _ = cb.Execute(func() (int, error) { return 0, errBoom })
	require.Equal(t, gobreaker.StateOpen, cb.State())

	require.Eventually(t, func() bool {
		return cb.State() == gobreaker.StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	v, err := cb.Execute(func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
