package vm

import (
	"testing"

	"github.com/rvos-edu/rv64kernel/internal/constants"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/stretchr/testify/require"
)

func newTestSpace(t *testing.T) (*Space, *FrameAllocator) {
	t.Helper()
	alloc := NewFrameAllocator(256)
	space, err := NewSpace(alloc, nil)
	require.NoError(t, err)
	return space, alloc
}

func TestAllocAndMapRangeThenValidate(t *testing.T) {
	space, _ := newTestSpace(t)
	lo := constants.UserLo
	hi := lo + 3*constants.PageSize

	require.NoError(t, space.AllocAndMapRange(lo, hi, UserRWX))
	require.NoError(t, space.ValidatePtrLen(lo, hi-lo, true))
	require.NoError(t, space.ValidatePtrLen(lo+10, 100, false))
}

func TestAllocAndMapRangeRejectsDoubleMap(t *testing.T) {
	space, _ := newTestSpace(t)
	lo := constants.UserLo
	hi := lo + constants.PageSize
	require.NoError(t, space.AllocAndMapRange(lo, hi, UserRWX))

	err := space.AllocAndMapRange(lo, hi, UserRWX)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.EINVAL))
}

func TestValidatePtrLenRejectsUnmappedRange(t *testing.T) {
	space, _ := newTestSpace(t)
	err := space.ValidatePtrLen(constants.UserLo, 16, false)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.EFAULT))
}

func TestValidatePtrLenRejectsOutsideUserWindow(t *testing.T) {
	space, _ := newTestSpace(t)
	err := space.ValidatePtrLen(constants.KernelLo, 16, false)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.EFAULT))
}

func TestValidatePtrLenRejectsWriteToReadOnlyMapping(t *testing.T) {
	space, _ := newTestSpace(t)
	lo := constants.UserLo
	hi := lo + constants.PageSize
	require.NoError(t, space.AllocAndMapRange(lo, hi, FlagValid|FlagRead|FlagUser))

	require.NoError(t, space.ValidatePtrLen(lo, 10, false))
	err := space.ValidatePtrLen(lo, 10, true)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.EFAULT))
}

func TestHandlePageFaultMapsFreshZeroPage(t *testing.T) {
	space, _ := newTestSpace(t)
	va := constants.UserLo + 5*constants.PageSize + 40

	require.NoError(t, space.HandlePageFault(va))
	require.NoError(t, space.ValidatePtrLen(va, 8, true))

	buf := make([]byte, 8)
	require.NoError(t, space.CopyIn(buf, va))
	require.Equal(t, make([]byte, 8), buf)
}

func TestHandlePageFaultRejectsOutsideUserWindow(t *testing.T) {
	space, _ := newTestSpace(t)
	err := space.HandlePageFault(constants.UserHi + 1)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.EFAULT))
}

func TestHandlePageFaultRejectsAlreadyMappedPage(t *testing.T) {
	space, _ := newTestSpace(t)
	va := constants.UserLo
	require.NoError(t, space.HandlePageFault(va))
	err := space.HandlePageFault(va)
	require.Error(t, err)
}

func TestCopyOutThenCopyInRoundTrips(t *testing.T) {
	space, _ := newTestSpace(t)
	lo := constants.UserLo
	require.NoError(t, space.AllocAndMapRange(lo, lo+constants.PageSize, UserRWX))

	want := []byte("hello kernel")
	require.NoError(t, space.CopyOut(lo+16, want))

	got := make([]byte, len(want))
	require.NoError(t, space.CopyIn(got, lo+16))
	require.Equal(t, want, got)
}

func TestValidateStrReadsNulTerminatedString(t *testing.T) {
	space, _ := newTestSpace(t)
	lo := constants.UserLo
	require.NoError(t, space.AllocAndMapRange(lo, lo+constants.PageSize, UserRWX))
	require.NoError(t, space.CopyOut(lo, []byte("hello\x00garbage")))

	s, err := space.ValidateStr(lo)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestValidateStrRejectsUnmappedPointer(t *testing.T) {
	space, _ := newTestSpace(t)
	_, err := space.ValidateStr(constants.UserLo)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.EFAULT))
}

func TestCloneSpaceCopiesDataIntoFreshFrames(t *testing.T) {
	space, alloc := newTestSpace(t)
	lo := constants.UserLo
	require.NoError(t, space.AllocAndMapRange(lo, lo+constants.PageSize, UserRWX))
	require.NoError(t, space.CopyOut(lo, []byte("parent data")))

	before := alloc.Available()
	clone, err := space.CloneSpace()
	require.NoError(t, err)
	require.Less(t, alloc.Available(), before, "clone should consume fresh frames")

	// Mutating the clone must not affect the parent (eager copy, not COW).
	require.NoError(t, clone.CopyOut(lo, []byte("child writes")))

	parentBuf := make([]byte, len("parent data"))
	require.NoError(t, space.CopyIn(parentBuf, lo))
	require.Equal(t, "parent data", string(parentBuf))

	childBuf := make([]byte, len("child writes"))
	require.NoError(t, clone.CopyIn(childBuf, lo))
	require.Equal(t, "child writes", string(childBuf))
}

func TestReclaimReturnsFramesToAllocator(t *testing.T) {
	space, alloc := newTestSpace(t)
	lo := constants.UserLo
	require.NoError(t, space.AllocAndMapRange(lo, lo+4*constants.PageSize, UserRWX))

	before := alloc.Available()
	space.Reclaim()
	require.Greater(t, alloc.Available(), before)
}

func TestFrameAllocatorExhaustion(t *testing.T) {
	alloc := NewFrameAllocator(1)
	space, err := NewSpace(alloc, nil) // consumes the sole frame for the root table
	require.NoError(t, err)

	err = space.HandlePageFault(constants.UserLo)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.ENOMEM))
}
