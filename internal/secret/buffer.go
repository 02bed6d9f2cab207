package secret

// buffer holds secret bytes, in locked memory when the platform allows it.
// Callers serialize access through the owning Provisioner.
type buffer struct {
	data    []byte
	release func([]byte)
}

// newBuffer copies src into a fresh buffer and zeroes src.
func newBuffer(src []byte) *buffer {
	data, release, err := lockedAlloc(len(src))
	if err != nil {
		data = make([]byte, len(src))
		release = nil
	}

	copy(data, src)
	clear(src)

	return &buffer{data: data, release: release}
}

func (b *buffer) locked() bool {
	return b.release != nil
}

func (b *buffer) String() string {
	return string(b.data)
}

// wipe zeroes the contents and gives locked pages back to the OS.
func (b *buffer) wipe() {
	if b == nil || b.data == nil {
		return
	}

	clear(b.data)

	if b.release != nil {
		b.release(b.data)
	}

	b.data = nil
}
