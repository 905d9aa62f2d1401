package thread

import (
	"sync"
	"testing"

	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/stretchr/testify/require"
)

func TestSpawnRunsEntryAndJoinReapsIt(t *testing.T) {
	mgr := NewManager(nil)

	var ran bool
	tid, err := mgr.Spawn("worker", func(arg any) {
		ran = true
	}, nil)
	require.NoError(t, err)

	done, err := mgr.Join(tid)
	require.NoError(t, err)
	require.Equal(t, tid, done)
	require.True(t, ran)
	require.Equal(t, StateUninit, mgr.StateOf(tid)) // slot recycled, no thread installed
}

func TestJoinRejectsNonChild(t *testing.T) {
	mgr := NewManager(nil)

	var childTID TID
	aTID, err := mgr.Spawn("A", func(arg any) {
		tid, spawnErr := mgr.Spawn("B", func(arg any) {}, nil)
		require.NoError(t, spawnErr)
		childTID = tid
	}, nil)
	require.NoError(t, err)

	// Drive the scheduler through idle -> A -> back to boot. A spawns B and
	// exits within a single scheduling quantum, so one Yield suffices.
	mgr.Yield()

	_, err = mgr.Join(childTID)
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.ECHILD))

	// Reaping A re-parents B onto boot (spec §9), after which Join succeeds.
	reaped, err := mgr.Join(aTID)
	require.NoError(t, err)
	require.Equal(t, aTID, reaped)

	done, err := mgr.Join(childTID)
	require.NoError(t, err)
	require.Equal(t, childTID, done)
}

func TestJoinAnyReapsOneExitedChild(t *testing.T) {
	mgr := NewManager(nil)

	order := make([]string, 0, 2)
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	aTID, err := mgr.Spawn("A", func(arg any) { record("A") }, nil)
	require.NoError(t, err)
	bTID, err := mgr.Spawn("B", func(arg any) { record("B") }, nil)
	require.NoError(t, err)

	first := mgr.JoinAny()
	require.Contains(t, []TID{aTID, bTID}, first)
	second := mgr.JoinAny()
	require.Contains(t, []TID{aTID, bTID}, second)
	require.NotEqual(t, first, second)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"A", "B"}, order)
}

func TestJoinAnyPanicsWithNoChildren(t *testing.T) {
	mgr := NewManager(nil)
	require.Panics(t, func() {
		mgr.JoinAny()
	})
}

func TestJoinRejectsUnknownTID(t *testing.T) {
	mgr := NewManager(nil)
	_, err := mgr.Join(TID(99))
	require.Error(t, err)
	require.True(t, kerr.IsCode(err, kerr.EINVAL))
}

func TestSpawnFailsWhenThreadTableIsFull(t *testing.T) {
	mgr := NewManager(nil) // boot + idle already occupy two of constants.MaxThreads slots

	var lastErr error
	spawned := 0
	for {
		_, err := mgr.Spawn("filler", func(arg any) {}, nil)
		if err != nil {
			lastErr = err
			break
		}
		spawned++
		if spawned > 64 {
			t.Fatal("thread table never reported full")
		}
	}
	require.ErrorIs(t, lastErr, ErrTooManyThreads)
	require.True(t, kerr.IsCode(lastErr, kerr.EAGAIN))
}

func TestWaitReleasesExternalLockAndBroadcastWakesWaiter(t *testing.T) {
	mgr := NewManager(nil)
	cond := NewCondition()
	var extMu sync.Mutex
	count := 0

	consumer, err := mgr.Spawn("consumer", func(arg any) {
		extMu.Lock()
		for count == 0 {
			mgr.Wait(cond, extMu.Unlock, extMu.Lock)
		}
		count--
		extMu.Unlock()
	}, nil)
	require.NoError(t, err)

	// Drive idle -> consumer so it reaches Wait and parks before we signal.
	mgr.Yield()

	extMu.Lock()
	count = 1
	extMu.Unlock()
	mgr.Broadcast(cond)

	_, err = mgr.Join(consumer)
	require.NoError(t, err)

	extMu.Lock()
	defer extMu.Unlock()
	require.Equal(t, 0, count)
}

func TestIdleThreadYieldsWhileReadyListIsNonEmpty(t *testing.T) {
	mgr := NewManager(nil)
	require.Equal(t, StateReady, mgr.StateOf(mgr.Idle()))
	require.GreaterOrEqual(t, mgr.ReadyLen(), 1)

	// Boot yields to idle; idle finds the worker ready and yields to it.
	ran := false
	_, err := mgr.Spawn("worker", func(arg any) { ran = true }, nil)
	require.NoError(t, err)
	mgr.Yield()
	require.True(t, ran)
}

func TestProcessAssociationRoundTrips(t *testing.T) {
	mgr := NewManager(nil)
	tid, err := mgr.Spawn("worker", func(arg any) {}, nil)
	require.NoError(t, err)

	type fakeProc struct{ id int }
	owner := &fakeProc{id: 7}
	mgr.SetProcess(tid, owner, nil)

	got, ok := mgr.Process(tid).(*fakeProc)
	require.True(t, ok)
	require.Equal(t, 7, got.id)
	require.Equal(t, "worker", mgr.Name(tid))

	_, err = mgr.Join(tid)
	require.NoError(t, err)
}
