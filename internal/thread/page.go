package thread

import (
	"encoding/binary"
	"errors"

	"github.com/me/kthreads/internal/kdebug"
)

// PageSize is the size of a thread page: header plus kernel stack.
const PageSize = 4096

// magicOffset is where the header ends and the stack may not go.
const magicOffset = 256

// ErrNoMemory is returned when no page is available for a new thread.
var ErrNoMemory = errors.New("out of thread pages")

// Page is one 4 kB page of kernel memory.
type Page struct {
	mem [PageSize]byte
}

func (p *Page) magic() uint32 {
	return binary.LittleEndian.Uint32(p.mem[magicOffset:])
}

func (p *Page) setMagic() {
	binary.LittleEndian.PutUint32(p.mem[magicOffset:], Magic)
}

// PageAllocator supplies and reclaims thread pages.
type PageAllocator interface {
	AllocPage() (*Page, error)
	FreePage(p *Page)
}

// PagePool is a fixed-size pool of zeroed pages.
type PagePool struct {
	free  []*Page
	made  int
	limit int
	inUse int
}

// NewPagePool returns a pool that hands out at most limit pages at once.
func NewPagePool(limit int) *PagePool {
	return &PagePool{limit: limit}
}

// AllocPage returns a zeroed page or ErrNoMemory.
func (pp *PagePool) AllocPage() (*Page, error) {
	var p *Page
	switch {
	case len(pp.free) > 0:
		p = pp.free[len(pp.free)-1]
		pp.free = pp.free[:len(pp.free)-1]
	case pp.made < pp.limit:
		p = &Page{}
		pp.made++
	default:
		return nil, ErrNoMemory
	}
	pp.inUse++
	return p, nil
}

// FreePage returns p to the pool.
func (pp *PagePool) FreePage(p *Page) {
	kdebug.Assert(p != nil, "page != NULL")
	kdebug.Assert(pp.inUse > 0, "page was allocated from this pool")
	p.mem = [PageSize]byte{}
	pp.free = append(pp.free, p)
	pp.inUse--
}

// InUse returns the number of pages handed out.
func (pp *PagePool) InUse() int { return pp.inUse }

// PushStack grows t's kernel stack by n bytes. Nothing checks the bound
// here; a stack that runs into the header clobbers the magic number and the
// next Current call halts the kernel.
func (t *Thread) PushStack(n int) {
	for i := 0; i < n && t.sp > 0; i++ {
		t.sp--
		t.page.mem[t.sp] = 0xcc
	}
}

// PopStack shrinks t's kernel stack by n bytes.
func (t *Thread) PopStack(n int) {
	kdebug.Assertf(t.sp+n <= PageSize, "pop %d bytes from a %d byte stack", n, PageSize-t.sp)
	t.sp += n
}

// StackUsed returns the depth of t's kernel stack in bytes.
func (t *Thread) StackUsed() int { return PageSize - t.sp }
