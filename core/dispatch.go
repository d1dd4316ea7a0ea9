package core

// Dispatch posts msg onto the strand of the service registered as to.
// The handler sees from's id as the source. If to does not resolve, the
// message is dropped without error. A nil from has no Context to resolve
// to on, so the message is dropped too. Callers outside any service use
// DispatchFrom.
//
// Two dispatches from the same goroutine to the same destination run at
// the destination in the order they were issued.
func Dispatch(from *Service, to ServiceID, msg Message) {
	if from == nil {
		return
	}
	dispatch(from.ID(), from.ctx.Query(to), msg)
}

// DispatchTo is Dispatch with the destination already resolved. A nil
// from is delivered with source id 0.
func DispatchTo(from, to *Service, msg Message) {
	if to == nil {
		return
	}
	// re-resolve so a removed service stays unreachable
	dispatch(from.ID(), to.ctx.Query(to.ID()), msg)
}

// DispatchFrom delivers msg to the service id on ctx with source id 0,
// for callers that are not services themselves.
func DispatchFrom(ctx *Context, to ServiceID, msg Message) {
	dispatch(0, ctx.Query(to), msg)
}

func dispatch(from ServiceID, to *Service, msg Message) {
	if to == nil || msg == nil {
		return
	}
	to.Post(func() {
		to.call(from, msg)
	})
}
