package batch

// Control is the protocol spoken to the wrapped service. It carries either a
// single request belonging to the current batch, or a flush marker telling
// the service that no more items will arrive until further notice.
type Control[Request any] struct {
	req   Request
	flush bool
}

// Item wraps a request into an item control message.
func Item[Request any](req Request) Control[Request] {
	return Control[Request]{req: req}
}

// Flush returns the batch boundary marker. The wrapped service must treat it
// as a synchronization point and commit any work buffered since the last one.
func Flush[Request any]() Control[Request] {
	return Control[Request]{flush: true}
}

// IsFlush reports whether this control is the batch boundary marker.
func (c Control[Request]) IsFlush() bool {
	return c.flush
}

// Request returns the wrapped request. Only valid for item controls.
func (c Control[Request]) Request() Request {
	return c.req
}
