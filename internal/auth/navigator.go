package auth

import "sync"

const (
	LoginPath   = "/login"
	LandingPath = "/dashboard"
)

type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Location is a Navigator that remembers where the dashboard currently points.
type Location struct {
	mu      sync.RWMutex
	current string
	visits  int
}

func NewLocation(initial string) *Location {
	return &Location{current: initial}
}

func (l *Location) Navigate(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = path
	l.visits++
}

func (l *Location) Current() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Visits counts Navigate calls since construction.
func (l *Location) Visits() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visits
}
