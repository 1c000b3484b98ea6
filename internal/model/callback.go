package model

import "time"

// CallbackEvent is one lifecycle notification from the runtime.
type CallbackEvent struct {
	Name string
	// File identifies the emitting component.
	File string
	Data any
	TS   time.Time
}

// Callback receives lifecycle events. Callbacks must not mutate the
// configuration.
type Callback func(CallbackEvent)

// CallbackManager invokes subscribers in registration order.
type CallbackManager struct {
	callbacks []Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{}
}

// Register appends a subscriber.
func (m *CallbackManager) Register(cb Callback) {
	m.callbacks = append(m.callbacks, cb)
}

// Run dispatches an event to every subscriber in order.
func (m *CallbackManager) Run(name, file string, data any) {
	if m == nil {
		return
	}
	ev := CallbackEvent{Name: name, File: file, Data: data, TS: time.Now()}
	for _, cb := range m.callbacks {
		cb(ev)
	}
}
