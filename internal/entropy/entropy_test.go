package entropy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no device") }

func TestStrongPath(t *testing.T) {
	src := New()
	b, q, err := src.Bytes(32)
	require.NoError(t, err)
	assert.Len(t, b, 32)
	assert.Equal(t, Strong, q)
	assert.Equal(t, Strong, src.LastQuality())
}

func TestFallbackIsReportedWeak(t *testing.T) {
	src := New(WithReader(failingReader{}))
	b, q, err := src.Bytes(16)
	require.NoError(t, err)
	assert.Len(t, b, 16)
	assert.Equal(t, Weak, q)
	assert.Equal(t, "weak", src.LastQuality().String())
}

func TestFallbackOddLength(t *testing.T) {
	src := New(WithReader(failingReader{}))
	b, _, err := src.Bytes(13)
	require.NoError(t, err)
	assert.Len(t, b, 13)
}

func TestFallbackDependsOnClock(t *testing.T) {
	at := func(ns int64) func() time.Time {
		return func() time.Time { return time.Unix(0, ns) }
	}
	a, _, _ := New(WithReader(failingReader{}), WithClock(at(1))).Bytes(16)
	b, _, _ := New(WithReader(failingReader{}), WithClock(at(2))).Bytes(16)
	assert.NotEqual(t, a, b)
}

func TestStrictRefusesFallback(t *testing.T) {
	src := New(WithReader(failingReader{}), Strict())
	_, _, err := src.Bytes(8)
	assert.ErrorIs(t, err, ErrNoStrongSource)
	assert.Zero(t, src.Uint32())
}

func TestTagShape(t *testing.T) {
	tag, q, err := New().Tag()
	require.NoError(t, err)
	assert.Equal(t, Strong, q)
	assert.Len(t, tag, 32)

	other, _, _ := New().Tag()
	assert.NotEqual(t, tag, other)
}
