// Package layer is the protocol framework described in the system
// overview: a small generic dispatch/emit primitive shared by every
// protocol layer (Ethernet, ARP, IPv4, ICMP, UDP, DHCP, TCP). A layer
// offers an inbound value to each registered subscriber in registration
// order; the first one to report it consumed stops further dispatch.
// Outbound, a layer emits a logical value to its single registered
// listener, which serializes it into the enclosing layer's frame.
//
// Both ordinary subprotocols (IPv4 over Ethernet) and responder
// subprotocols (a router's ARP or DHCP server, which claim and answer
// frames at their parent's shape without recursing another layer) are
// expressed the same way: a Dispatcher subscriber.
package layer

// Handler inspects a value offered by a layer and reports whether it
// claimed it. A claimed value stops further dispatch at that layer.
type Handler[T any] func(T) (consumed bool, err error)

// Dispatcher offers inbound values to subscribers in registration order
// and stops at the first one that claims the value.
type Dispatcher[T any] struct {
	subs []Handler[T]
}

// Subscribe registers h to be offered every dispatched value, after any
// previously registered subscriber.
func (d *Dispatcher[T]) Subscribe(h Handler[T]) {
	d.subs = append(d.subs, h)
}

// Dispatch offers v to each subscriber in order, stopping at the first
// one that reports consumed. It reports whether any subscriber consumed
// the value, and the first error encountered (dispatch still proceeds to
// later subscribers after a subscriber that both errors and declines —
// errors never implicitly consume).
func (d *Dispatcher[T]) Dispatch(v T) (consumed bool, err error) {
	for _, h := range d.subs {
		ok, hErr := h(v)
		if hErr != nil && err == nil {
			err = hErr
		}
		if ok {
			return true, err
		}
	}
	return false, err
}

// Reset clears all subscribers, invalidating any handler closures that
// captured this dispatcher's identity. Used by adapter teardown (§5).
func (d *Dispatcher[T]) Reset() { d.subs = d.subs[:0] }

// Len reports the number of registered subscribers.
func (d *Dispatcher[T]) Len() int { return len(d.subs) }

// Emitter is the onSendData half of the framework: a layer's single
// outbound listener, almost always the enclosing layer serializing the
// emitted value into its own frame and calling its own sendFrame.
type Emitter[T any] struct {
	listener func(T) error
}

// Listen registers the (sole) outbound listener, replacing any previous
// one. A layer has exactly one parent to hand data to.
func (e *Emitter[T]) Listen(fn func(T) error) { e.listener = fn }

// Emit hands v to the registered listener, if any.
func (e *Emitter[T]) Emit(v T) error {
	if e.listener == nil {
		return nil
	}
	return e.listener(v)
}

// Reset clears the registered listener.
func (e *Emitter[T]) Reset() { e.listener = nil }
