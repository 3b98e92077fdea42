package common

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- ReadRandom ----------

func TestReadRandom_Length(t *testing.T) {
	const n = 24
	buf, err := ReadRandom(nil, n)
	require.NoError(t, err)
	assert.Len(t, buf, n)
}

func TestReadRandom_ZeroSize(t *testing.T) {
	buf, err := ReadRandom(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, buf)
}

func TestReadRandom_UsesInjectedReader(t *testing.T) {
	src := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6})
	buf, err := ReadRandom(src, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestReadRandom_ShortReadIsError(t *testing.T) {
	_, err := ReadRandom(bytes.NewReader([]byte{1, 2}), 4)
	require.Error(t, err)
}

func TestReadRandom_ReaderError(t *testing.T) {
	boom := errors.New("entropy exhausted")
	_, err := ReadRandom(iotest.ErrReader(boom), 8)
	require.ErrorIs(t, err, boom)
}

func TestReadRandom_EntropyHint(t *testing.T) {
	const n = 32
	a, err := ReadRandom(nil, n)
	require.NoError(t, err)
	b, err := ReadRandom(nil, n)
	require.NoError(t, err)

	if bytes.Equal(a, b) {
		t.Logf("warning: two ReadRandom(%d) results are identical; extremely unlikely", n)
	}
}

// ---------- WipeByteArray ----------

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	WipeByteArray(nil)
}
