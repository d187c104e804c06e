package events

// Funcs adapts plain functions to Observer and FatalObserver. Nil fields
// are skipped.
type Funcs struct {
	OnStatus   func(component, status string, healthy bool)
	OnIdentity func(id string)
	OnStats    func(messages, characters int64)
	OnFatal    func(cause FatalCause, reason string)
}

func (f *Funcs) StatusChanged(component, status string, healthy bool) {
	if f.OnStatus != nil {
		f.OnStatus(component, status, healthy)
	}
}

func (f *Funcs) IdentityCaptured(id string) {
	if f.OnIdentity != nil {
		f.OnIdentity(id)
	}
}

func (f *Funcs) StatsUpdated(messages, characters int64) {
	if f.OnStats != nil {
		f.OnStats(messages, characters)
	}
}

func (f *Funcs) Fatal(cause FatalCause, reason string) {
	if f.OnFatal != nil {
		f.OnFatal(cause, reason)
	}
}
