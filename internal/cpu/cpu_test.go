package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResetStateHasInterruptsOff(t *testing.T) {
	c := New()
	assert.Equal(t, LevelOff, c.Level())
	assert.True(t, c.Flags().IsEnable(ReservedFlag))
}

func TestStiCli(t *testing.T) {
	c := New()
	assert.Equal(t, LevelOff, c.Sti())
	assert.Equal(t, LevelOn, c.Level())
	assert.Equal(t, LevelOn, c.Sti())
	assert.Equal(t, LevelOn, c.Cli())
	assert.Equal(t, LevelOff, c.Level())
}

func TestSetFlagsRestoresLevel(t *testing.T) {
	c := New()
	c.Sti()
	saved := c.Flags()
	c.Cli()
	c.SetFlags(saved)
	assert.Equal(t, LevelOn, c.Level())
	c.SetFlags(0)
	assert.Equal(t, LevelOff, c.Level())
	assert.True(t, c.Flags().IsEnable(ReservedFlag))
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(0x20)
	assert.Equal(t, uint64(0x20), f.VecNo)
	assert.Equal(t, SelKCSeg, f.CS)
	assert.Equal(t, "on", LevelOn.String())
	assert.Equal(t, "off", LevelOff.String())
}
