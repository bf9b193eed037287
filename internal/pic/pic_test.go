package pic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNothingDeliveredBeforeInit(t *testing.T) {
	p := New()
	p.Raise(0)
	assert.False(t, p.Pending())
	_, ok := p.Acknowledge()
	assert.False(t, ok)
}

func TestMasterIRQ(t *testing.T) {
	p := New()
	p.Init()
	p.Raise(0)
	require.True(t, p.Pending())

	vec, ok := p.Acknowledge()
	require.True(t, ok)
	assert.Equal(t, uint8(0x20), vec)
	assert.True(t, p.InService(0x20))
	assert.False(t, p.Pending())

	p.EndOfInterrupt(vec)
	assert.False(t, p.InService(0x20))
	assert.Equal(t, 1, p.EOIs())
}

func TestSlaveIRQGoesThroughCascade(t *testing.T) {
	p := New()
	p.Init()
	p.Raise(15)

	vec, ok := p.Acknowledge()
	require.True(t, ok)
	assert.Equal(t, uint8(0x2f), vec)
	assert.True(t, p.InService(0x2f))

	p.EndOfInterrupt(vec)
	assert.False(t, p.InService(0x2f))
	assert.False(t, p.Pending())
}

func TestInServiceBlocksLowerPriority(t *testing.T) {
	p := New()
	p.Init()
	p.Raise(0)
	vec, _ := p.Acknowledge()

	p.Raise(1)
	assert.False(t, p.Pending(), "IRQ1 must wait for IRQ0's EOI")

	p.EndOfInterrupt(vec)
	vec, ok := p.Acknowledge()
	require.True(t, ok)
	assert.Equal(t, uint8(0x21), vec)
}

func TestPriorityOrder(t *testing.T) {
	p := New()
	p.Init()
	p.Raise(4)
	p.Raise(1)

	vec, _ := p.Acknowledge()
	assert.Equal(t, uint8(0x21), vec)
	p.EndOfInterrupt(vec)
	vec, _ = p.Acknowledge()
	assert.Equal(t, uint8(0x24), vec)
}

func TestMask(t *testing.T) {
	p := New()
	p.Init()
	p.Mask(0x0001)
	p.Raise(0)
	assert.False(t, p.Pending())
	p.Mask(0)
	assert.True(t, p.Pending())
}

func TestCascadeLineCannotBeRaised(t *testing.T) {
	p := New()
	p.Init()
	assert.Panics(t, func() { p.Raise(2) })

	p.Raise(3)
	vec, ok := p.Acknowledge()
	require.True(t, ok)
	assert.Equal(t, uint8(0x23), vec)
}

func TestMaskedSlaveDoesNotBlockMaster(t *testing.T) {
	p := New()
	p.Init()
	p.Mask(0x8000)
	p.Raise(15)
	assert.False(t, p.Pending())

	p.Raise(5)
	vec, ok := p.Acknowledge()
	require.True(t, ok)
	assert.Equal(t, uint8(0x25), vec)
	p.EndOfInterrupt(vec)

	p.Mask(0)
	vec, ok = p.Acknowledge()
	require.True(t, ok)
	assert.Equal(t, uint8(0x2f), vec)
}

func TestEOIRejectsInternalVector(t *testing.T) {
	p := New()
	p.Init()
	assert.Panics(t, func() { p.EndOfInterrupt(0x0e) })
}
