package keeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type testTarget struct {
	sync.Mutex
	needed   bool
	checkErr error
	perfErr  error
	performs int
}

func (t *testTarget) CheckUpkeep() (bool, error) {
	t.Lock()
	defer t.Unlock()
	return t.needed, t.checkErr
}

func (t *testTarget) PerformUpkeep() (uint64, error) {
	t.Lock()
	defer t.Unlock()
	if t.perfErr != nil {
		return 0, t.perfErr
	}
	t.performs++
	t.needed = false
	return uint64(t.performs), nil
}

func (t *testTarget) count() int {
	t.Lock()
	defer t.Unlock()
	return t.performs
}

func TestNew(t *testing.T) {
	_, err := New(nil, time.Second)
	require.Error(t, err)
	_, err = New(&testTarget{}, 0)
	require.Error(t, err)
}

func TestKeeper_Tick(t *testing.T) {
	target := &testTarget{}
	k, err := New(target, time.Second)
	require.NoError(t, err)

	ticks := testutil.ToFloat64(ticksCount)
	performs := testutil.ToFloat64(performCount)
	done, err := k.Tick()
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, 0, target.count())

	target.needed = true
	done, err = k.Tick()
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, 1, target.count())
	require.Equal(t, ticks+2, testutil.ToFloat64(ticksCount))
	require.Equal(t, performs+1, testutil.ToFloat64(performCount))
}

func TestKeeper_TickFailures(t *testing.T) {
	target := &testTarget{checkErr: xerrors.New("offline")}
	k, err := New(target, time.Second)
	require.NoError(t, err)

	checks := testutil.ToFloat64(failureCount.WithLabelValues("check"))
	_, err = k.Tick()
	require.Error(t, err)
	require.Equal(t, checks+1, testutil.ToFloat64(failureCount.WithLabelValues("check")))

	target.checkErr = nil
	target.needed = true
	target.perfErr = xerrors.New("upkeep not needed")
	perfs := testutil.ToFloat64(failureCount.WithLabelValues("perform"))
	done, err := k.Tick()
	require.Error(t, err)
	require.False(t, done)
	require.Equal(t, perfs+1, testutil.ToFloat64(failureCount.WithLabelValues("perform")))
}

func TestKeeper_Run(t *testing.T) {
	target := &testTarget{needed: true}
	k, err := New(target, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- k.Run(ctx) }()

	require.Eventually(t, func() bool { return target.count() == 1 },
		time.Second, 5*time.Millisecond)
	target.Lock()
	target.needed = true
	target.Unlock()
	require.Eventually(t, func() bool { return target.count() == 2 },
		time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "keeper did not stop")
	}
}
