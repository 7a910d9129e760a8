package render

// Signal represents previously submitted work that is not yet known to be
// complete. Done is a non-blocking poll; once it reports true it keeps
// reporting true.
type Signal interface {
	Done() bool
}

type completedSignal struct{}

func (completedSignal) Done() bool { return true }

// Completed returns a signal that is already complete. The engine starts
// with one and substitutes one whenever a submitted frame is written off.
func Completed() Signal {
	return completedSignal{}
}

type joinedSignal struct {
	a, b Signal
}

func (j joinedSignal) Done() bool {
	return j.a.Done() && j.b.Done()
}

// Join combines two signals into one that completes when both have.
func Join(a, b Signal) Signal {
	if a == nil {
		a = Completed()
	}
	if b == nil {
		b = Completed()
	}
	return joinedSignal{a: a, b: b}
}
