package workqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
)

func TestScheduleFiresOnIdle(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	fired := 0
	w := New(rt, 3*time.Second, 3*time.Second, func() { fired++ })

	w.Schedule()
	require.Equal(t, Pending, w.State())

	rt.RunIdle()
	assert.Equal(t, 1, fired)
	assert.Equal(t, CoolingDown, w.State())
}

func TestDeadlineForcesProgressUnderBusyIdle(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	fired := 0
	w := New(rt, 3*time.Second, 3*time.Second, func() { fired++ })

	w.Schedule()
	// idle loop never goes quiet; only the deadline timer forces it.
	rt.Advance(3 * time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, CoolingDown, w.State())
}

func TestBurstDuringCooldownFiresExactlyOnceMore(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	fired := 0
	w := New(rt, 3*time.Second, 3*time.Second, func() { fired++ })

	w.Schedule()
	rt.RunIdle()
	require.Equal(t, 1, fired)
	require.Equal(t, CoolingDown, w.State())

	// a burst of schedule() calls while cooling down collapses to one
	// more fire once the cooldown window elapses: cooldown expiry
	// re-schedules, and the next idle pass fires it.
	for i := 0; i < 5; i++ {
		w.Schedule()
	}
	assert.Equal(t, CoolingDownAndPending, w.State())

	rt.Advance(3 * time.Second)
	rt.RunIdle()
	assert.Equal(t, 2, fired)
	assert.Equal(t, CoolingDown, w.State())

	rt.Advance(3 * time.Second)
	assert.Equal(t, Idle, w.State())
	assert.Equal(t, 2, fired, "no extra fire once the second cooldown drains with nothing pending")
}

func TestCancelDisarmsFromAnyState(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	fired := 0
	w := New(rt, 3*time.Second, 3*time.Second, func() { fired++ })

	w.Schedule()
	w.Cancel()
	assert.Equal(t, Idle, w.State())

	rt.RunIdle()
	rt.Advance(10 * time.Second)
	assert.Equal(t, 0, fired)
}

func TestNeverFiresMoreThanOncePerCooldownWindow(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	var fireTimes []time.Time
	w := New(rt, time.Second, 5*time.Second, func() { fireTimes = append(fireTimes, rt.Now()) })

	for i := 0; i < 20; i++ {
		w.Schedule()
		rt.Advance(500 * time.Millisecond)
	}
	rt.Advance(10 * time.Second)

	for i := 1; i < len(fireTimes); i++ {
		gap := fireTimes[i].Sub(fireTimes[i-1])
		assert.GreaterOrEqual(t, gap, 5*time.Second)
	}
}
