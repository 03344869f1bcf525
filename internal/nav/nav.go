// Package nav tracks the current view and carries navigation commands from
// flows that cannot render anything themselves, such as the transport.
package nav

import "sync"

// Navigator accepts navigation commands
type Navigator interface {
	Navigate(path string)
}

// Router records the current view and notifies listeners on every change
type Router struct {
	mu        sync.Mutex
	current   string
	listeners []func(path string)
}

func NewRouter(initial string) *Router {
	return &Router{current: initial}
}

// Navigate switches to path. Listeners run synchronously, outside the lock.
func (r *Router) Navigate(path string) {
	r.mu.Lock()
	r.current = path
	listeners := append([]func(string){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(path)
	}
}

// Current returns the view last navigated to
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// OnNavigate registers fn to run after every navigation
func (r *Router) OnNavigate(fn func(path string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}
