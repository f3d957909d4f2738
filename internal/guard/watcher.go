package guard

import (
	"sync"

	"inventoryhub/dashboard/internal/auth"
)

// Source is the observable session. *auth.Manager satisfies it.
type Source interface {
	Session() auth.Session
	Subscribe(fn func(auth.Session)) (unsubscribe func())
}

// Watcher re-evaluates one route on every session change and navigates when
// the outcome turns into a redirect.
type Watcher struct {
	route Route
	nav   auth.Navigator

	mu          sync.Mutex
	outcome     Outcome
	stopped     bool
	unsubscribe func()
}

func Watch(src Source, route Route, nav auth.Navigator) *Watcher {
	if nav == nil {
		nav = auth.NavigatorFunc(func(string) {})
	}
	w := &Watcher{route: route, nav: nav}
	w.mu.Lock()
	w.unsubscribe = src.Subscribe(w.update)
	w.mu.Unlock()
	w.update(src.Session())
	return w
}

func (w *Watcher) Route() Route { return w.route }

func (w *Watcher) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Stop detaches the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	unsub := w.unsubscribe
	w.unsubscribe = nil
	w.stopped = true
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (w *Watcher) update(s auth.Session) {
	next := Evaluate(s, w.route.MinRole)

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	prev := w.outcome
	w.outcome = next
	w.mu.Unlock()

	if next.Decision == DecisionRedirect && next != prev {
		w.nav.Navigate(next.Location)
	}
}
