package device

import "sync"

// Resident is a parameter set that can be moved between devices.
type Resident interface {
	ResidentID() string
	SizeBytes() int64
	Device() Device
	Place(Device)
}

// Lease is a scoped placement of a Resident on a device. Release puts the
// resident back where it was and frees the reservation; it is idempotent and
// meant to be deferred right after a successful Acquire.
type Lease struct {
	dev  Device
	prev Device
	r    Resident
	once sync.Once
}

// Acquire reserves room for r on d and places it there.
func Acquire(d Device, r Resident) (*Lease, error) {
	if d == nil {
		d = DefaultHost()
	}
	if err := d.Reserve(r.ResidentID(), r.SizeBytes()); err != nil {
		return nil, err
	}
	prev := r.Device()
	if prev == nil {
		prev = DefaultHost()
	}
	r.Place(d)
	return &Lease{dev: d, prev: prev, r: r}, nil
}

// Device returns the leased device.
func (l *Lease) Device() Device { return l.dev }

// Release returns the resident to its previous device. Safe to call more
// than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.r.Place(l.prev)
		l.dev.Free(l.r.ResidentID())
	})
}
