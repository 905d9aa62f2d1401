package uart

import (
	"bytes"
	"testing"

	"github.com/rvos-edu/rv64kernel/internal/thread"
	"github.com/stretchr/testify/require"
)

func TestWriteNormalizesNewlineToCRLF(t *testing.T) {
	var out bytes.Buffer
	mgr := thread.NewManager(nil)
	dev := New(mgr, &out)

	n, err := Wrap(dev).Write([]byte("hi\nthere"))
	require.NoError(t, err)
	require.Equal(t, len("hi\nthere"), n)
	require.Equal(t, "hi\r\nthere", out.String())
}

func TestReadBlocksUntilInjected(t *testing.T) {
	var out bytes.Buffer
	mgr := thread.NewManager(nil)
	dev := New(mgr, &out)

	var got string
	reader, err := mgr.Spawn("reader", func(arg any) {
		buf := make([]byte, 5)
		n, rerr := dev.Read(buf)
		require.NoError(t, rerr)
		got = string(buf[:n])
	}, nil)
	require.NoError(t, err)

	mgr.Yield()
	dev.Inject([]byte("abc"))

	_, err = mgr.Join(reader)
	require.NoError(t, err)
	require.Equal(t, "abc", got)
}

func TestLineDisciplineEditsBackspaceAndDeliversWholeLines(t *testing.T) {
	var out bytes.Buffer
	mgr := thread.NewManager(nil)
	dev := New(mgr, &out)
	ld := Wrap(dev)

	dev.Inject([]byte("helpx\b\r"))

	buf := make([]byte, 16)
	n, err := ld.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "help\n", string(buf[:n]))
}

func TestLineDisciplineWriteCRLFThroughUnderlying(t *testing.T) {
	var out bytes.Buffer
	mgr := thread.NewManager(nil)
	dev := New(mgr, &out)
	ld := Wrap(dev)

	n, err := ld.Write([]byte("ok\n"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "ok\r\n", out.String())
}
