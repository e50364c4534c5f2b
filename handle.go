package msock

import (
	"sync"

	"github.com/pkg/errors"
)

// Capability identifies a typed interface a handle may or may not expose.
// Tokens are compared by identity, so two capabilities with the same name
// are still distinct. Resolve a capability on a handle with
// Registry.Resolve.
type Capability struct {
	name string
}

// NewCapability returns a fresh capability token. The name is only used
// in diagnostics.
func NewCapability(name string) *Capability {
	return &Capability{name: name}
}

// String returns the capability's name.
func (c *Capability) String() string {
	return c.name
}

// Capabilities exposed by this package.
var (
	// CapBytestream is exposed by handles carrying a reliable ordered
	// byte stream.
	CapBytestream = NewCapability("bytestream")
	// CapMessage is exposed by handles carrying discrete messages.
	CapMessage = NewCapability("message")
)

// object is the virtual interface behind every handle.
type object interface {
	// query returns the capability reference, or nil when unsupported.
	query(c *Capability) any
	// done dispatches the protocol's close signal, if the object has one.
	done() error
	// close releases the object. Called exactly once, when the last
	// handle referencing it is closed.
	close()
}

// Handle references an object registered in a Registry. A closed handle's
// value may be reused by a later registration.
type Handle int

// InvalidHandle is returned alongside every failed registry operation.
const InvalidHandle Handle = -1

// refObject is an object shared by one or more handles.
type refObject struct {
	obj  object
	refs int
}

// Registry owns the handle table. Handles created from the same Registry
// may be used from multiple goroutines; the objects behind them make
// their own concurrency promises.
type Registry struct {
	mu    sync.Mutex
	slots []*refObject
	free  []Handle
	live  int
	limit int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHandleLimit caps the number of simultaneously open handles.
// Registrations and duplications beyond the limit fail with ErrNoHandles.
// Zero (the default) means no limit.
func WithHandleLimit(n int) RegistryOption {
	return func(r *Registry) {
		r.limit = n
	}
}

// NewRegistry returns an empty handle registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := new(Registry)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// create registers obj and returns its first handle.
func (r *Registry) create(obj object) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insert(&refObject{obj: obj, refs: 1})
}

// insert places ref into a free slot. Caller holds r.mu.
func (r *Registry) insert(ref *refObject) (Handle, error) {
	if r.limit > 0 && r.live >= r.limit {
		return InvalidHandle, errors.Wrapf(ErrNoHandles, "limit %d", r.limit)
	}

	var h Handle
	if n := len(r.free); n > 0 {
		h = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[h] = ref
	} else {
		h = Handle(len(r.slots))
		r.slots = append(r.slots, ref)
	}
	r.live++

	return h, nil
}

// lookup resolves h to its object. Caller holds r.mu.
func (r *Registry) lookup(h Handle) (*refObject, error) {
	if h < 0 || int(h) >= len(r.slots) || r.slots[h] == nil {
		return nil, errors.Wrapf(ErrBadHandle, "handle %d", h)
	}

	return r.slots[h], nil
}

// Dup returns a new handle referencing the same object as h. The object
// stays alive until every handle referencing it is closed.
func (r *Registry) Dup(h Handle) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, err := r.lookup(h)
	if err != nil {
		return InvalidHandle, err
	}

	nh, err := r.insert(ref)
	if err != nil {
		return InvalidHandle, err
	}
	ref.refs++

	return nh, nil
}

// Close releases h. When h is the object's last handle, the object itself
// is closed. Close never performs a protocol handshake; sockets torn down
// this way abandon their transport.
func (r *Registry) Close(h Handle) error {
	r.mu.Lock()
	ref, err := r.lookup(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	r.slots[h] = nil
	r.free = append(r.free, h)
	r.live--
	ref.refs--
	last := ref.refs == 0
	r.mu.Unlock()

	// The object's close may itself close handles, so it runs unlocked.
	if last {
		ref.obj.close()
	}

	return nil
}

// Resolve returns the reference implementing capability c on handle h.
// It fails with ErrNotSupported when the object behind h does not expose c.
func (r *Registry) Resolve(h Handle, c *Capability) (any, error) {
	r.mu.Lock()
	ref, err := r.lookup(h)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	v := ref.obj.query(c)
	if v == nil {
		return nil, errors.Wrapf(ErrNotSupported, "capability %s", c)
	}

	return v, nil
}

// Done dispatches the close signal to the object behind h. Objects without
// a close signal fail with ErrNotSupported.
func (r *Registry) Done(h Handle) error {
	r.mu.Lock()
	ref, err := r.lookup(h)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	return ref.obj.done()
}
