package thread

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepWakesAtTick(t *testing.T) {
	h := boot(t, Config{}, 8)

	h.sys.Sleep(5)
	assert.Equal(t, int64(5), h.timer.Ticks())
	assert.Equal(t, int64(math.MaxInt64), h.sys.NextWakeup())
	assert.Equal(t, int64(5), h.sys.Stats().IdleTicks)
}

func TestSleepersWakeInTickOrder(t *testing.T) {
	h := boot(t, Config{}, 8)

	var woke []int64
	for _, d := range []int64{30, 10, 20} {
		d := d
		_, err := h.sys.Create("sleeper", PriDefault+1, func(any) {
			h.sys.Sleep(d)
			woke = append(woke, h.timer.Ticks())
		}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), h.sys.NextWakeup())

	h.sys.Sleep(40)
	assert.Equal(t, []int64{10, 20, 30}, woke)
	assert.NoError(t, h.sys.CheckInvariants())
}

func TestSameTickWakesAllDue(t *testing.T) {
	h := boot(t, Config{}, 8)

	n := 0
	for i := 0; i < 3; i++ {
		_, err := h.sys.Create("sleeper", PriDefault+1, func(any) {
			h.sys.Sleep(7)
			n++
		}, nil)
		require.NoError(t, err)
	}
	h.sys.Sleep(8)
	assert.Equal(t, 3, n)
}

func TestTimeSliceRoundRobin(t *testing.T) {
	h := boot(t, Config{}, 8)

	var trace []string
	body := func(aux any) {
		for i := 0; i < 2; i++ {
			h.compute(TimeSlice)
			trace = append(trace, aux.(string))
		}
	}
	h.sys.SetPriority(PriMax)
	for _, name := range []string{"a", "b"} {
		_, err := h.sys.Create(name, PriDefault+1, body, name)
		require.NoError(t, err)
	}
	assert.Empty(t, trace)
	h.sleep(100)
	assert.Equal(t, []string{"a", "b", "a", "b"}, trace)
}

func TestKernelTicksAreCounted(t *testing.T) {
	h := boot(t, Config{}, 8)

	h.compute(3)
	s := h.sys.Stats()
	assert.Equal(t, int64(3), s.KernelTicks)
	assert.Equal(t, int64(0), s.UserTicks)

	h.sys.Current().AddressSpace = struct{}{}
	h.compute(2)
	assert.Equal(t, int64(2), h.sys.Stats().UserTicks)
	h.sys.Current().AddressSpace = nil
}
