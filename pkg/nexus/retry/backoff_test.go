package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackoff_Doubles(t *testing.T) {
	b := DefaultBackoff

	assert.Equal(t, 1*time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(3))
}

func TestBackoff_NegativeRetryTreatedAsFirst(t *testing.T) {
	assert.Equal(t, time.Second, DefaultBackoff.Delay(-3))
}

func TestBackoff_Max(t *testing.T) {
	b := New(WithMax(3 * time.Second))

	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(2))
	assert.Equal(t, 3*time.Second, b.Delay(40))
}

func TestBackoff_ZeroValueFallsBack(t *testing.T) {
	var b Backoff
	// Zero factor is treated as constant delay, zero base as the default base.
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(5))
}

func TestBackoff_HugeRetryDoesNotOverflow(t *testing.T) {
	d := DefaultBackoff.Delay(200)
	assert.Greater(t, d, time.Duration(0))
}

func TestBackoff_Jitter(t *testing.T) {
	b := New(WithBase(100*time.Millisecond), WithJitter(0.5))

	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestNew_Options(t *testing.T) {
	b := New(
		WithBase(10*time.Millisecond),
		WithFactor(3),
		WithMax(time.Second),
		WithJitter(0.1),
	)

	assert.Equal(t, 10*time.Millisecond, b.Base)
	assert.Equal(t, 3.0, b.Factor)
	assert.Equal(t, time.Second, b.Max)
	assert.Equal(t, 0.1, b.Jitter)
}
