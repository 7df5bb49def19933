package interact

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/songzhibin97/workflow-canvas/geom"
	"github.com/songzhibin97/workflow-canvas/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine(t *testing.T, grid float64) (*Machine[uint64], *geom.Viewport) {
	t.Helper()
	vp, err := geom.NewViewport()
	require.NoError(t, err)
	return NewMachine[uint64](vp, grid), vp
}

func TestPanning(t *testing.T) {
	m, vp := newMachine(t, 0)
	assert.Equal(t, StatePanningCanvas, m.PointerDown(types.Point{X: 10, Y: 10}, nil))
	assert.Equal(t, CursorGrabbing, m.Cursor(false))

	m.PointerMove(types.Point{X: 30, Y: 15})
	m.PointerMove(types.Point{X: 50, Y: 40})
	assert.Equal(t, 40.0, vp.OffsetX)
	assert.Equal(t, 30.0, vp.OffsetY)

	rel := m.PointerUp(types.Point{X: 50, Y: 40}, true)
	assert.Equal(t, StatePanningCanvas, rel.From)
	assert.True(t, rel.Moved)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, CursorGrab, m.Cursor(false))
}

func TestDraggingKeepsGrabOffset(t *testing.T) {
	m, vp := newMachine(t, 0)
	vp.Scale = 2
	vp.OffsetX = 100

	// node anchored at world (50, 50); press at world (60, 55)
	press := vp.ToScreen(types.Point{X: 60, Y: 55})
	m.PointerDown(press, &Grab[uint64]{ID: 7, Anchor: types.Point{X: 50, Y: 50}})
	id, ok := m.Target()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), id)

	motion := m.PointerMove(press.Add(types.Point{X: 20, Y: -10}))
	assert.Equal(t, StateDraggingObject, motion.State)
	assert.Equal(t, uint64(7), motion.Target)
	assert.InDelta(t, 60, motion.Position.X, 1e-9)
	assert.InDelta(t, 45, motion.Position.Y, 1e-9)

	// viewport does not pan while dragging
	assert.Equal(t, 100.0, vp.OffsetX)

	rel := m.PointerUp(press.Add(types.Point{X: 20, Y: -10}), true)
	assert.Equal(t, StateDraggingObject, rel.From)
	assert.Equal(t, uint64(7), rel.Target)
	_, ok = m.Target()
	assert.False(t, ok)
}

func TestPointerDownIgnoredWhileBusy(t *testing.T) {
	m, _ := newMachine(t, 0)
	m.PointerDown(types.Point{}, nil)
	assert.Equal(t, StatePanningCanvas, m.PointerDown(types.Point{}, &Grab[uint64]{ID: 1}))
	assert.Equal(t, StatePanningCanvas, m.ToolbarDown("action1", types.Point{}))
	m.Cancel()
	assert.Equal(t, StateIdle, m.State())
}

func TestToolbarDropSnapsToGrid(t *testing.T) {
	m, vp := newMachine(t, 20)
	vp.Scale = 1.3
	vp.OffsetX = 17
	vp.OffsetY = -41

	for _, drop := range []types.Point{{X: 333, Y: 271}, {X: 12.5, Y: 7.75}, {X: -90, Y: 640}} {
		m.ToolbarDown("action2", types.Point{X: 5, Y: 5})
		item, ok := m.Item()
		assert.True(t, ok)
		assert.Equal(t, "action2", item)

		motion := m.PointerMove(drop)
		assert.Equal(t, drop, motion.Preview)

		rel := m.PointerUp(drop, true)
		require.True(t, rel.Dropped)
		assert.Equal(t, "action2", rel.Item)
		assert.Zero(t, math.Mod(rel.Drop.X, 20))
		assert.Zero(t, math.Mod(rel.Drop.Y, 20))
	}
}

func TestToolbarReleaseOutsideCanvas(t *testing.T) {
	m, _ := newMachine(t, 20)
	m.ToolbarDown("action1", types.Point{})
	rel := m.PointerUp(types.Point{X: 3, Y: 3}, false)
	assert.False(t, rel.Dropped)
	assert.Equal(t, StateIdle, m.State())
}

func TestSnap(t *testing.T) {
	assert.Equal(t, types.Point{X: 40, Y: -20}, Snap(types.Point{X: 31, Y: -12}, 20))
	assert.Equal(t, types.Point{X: 31, Y: -12}, Snap(types.Point{X: 31, Y: -12}, 0))
}

func TestCursorHover(t *testing.T) {
	m, _ := newMachine(t, 0)
	assert.Equal(t, CursorMove, m.Cursor(true))
	m.ToolbarDown("x", types.Point{})
	assert.Equal(t, CursorCopy, m.Cursor(true))
}

func TestDebouncerTrailing(t *testing.T) {
	var calls int32
	d := NewDebouncer(30*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, d.Pending())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, d.Pending())
}

func TestDebouncerCancelAndFlush(t *testing.T) {
	var calls int32
	d := NewDebouncer(time.Hour, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	assert.True(t, d.Cancel())
	assert.False(t, d.Pending())
	assert.False(t, d.Flush())

	d.Trigger()
	assert.True(t, d.Flush())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	d.Restart()
	assert.False(t, d.Pending())
}

func TestTaskCancel(t *testing.T) {
	var ran int32
	task := Schedule(20*time.Millisecond, func() { atomic.StoreInt32(&ran, 1) })
	assert.True(t, task.Cancel())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))

	task = Schedule(time.Millisecond, func() { atomic.StoreInt32(&ran, 1) })
	assert.Eventually(t, task.Done, time.Second, time.Millisecond)
	assert.False(t, task.Cancel())
}

func TestClickDetector(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewClickDetector(200*time.Millisecond, 3)
	c.now = func() time.Time { return now }

	c.Press(types.Point{X: 10, Y: 10})
	now = now.Add(50 * time.Millisecond)
	assert.True(t, c.Release(types.Point{X: 11, Y: 10}))

	c.Press(types.Point{X: 10, Y: 10})
	assert.True(t, c.Move(types.Point{X: 20, Y: 10}))
	assert.False(t, c.Release(types.Point{X: 10, Y: 10}))

	c.Press(types.Point{X: 10, Y: 10})
	now = now.Add(300 * time.Millisecond)
	assert.False(t, c.Release(types.Point{X: 10, Y: 10}))

	assert.False(t, c.Release(types.Point{}))
}
