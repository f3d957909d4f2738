// Package guard decides whether a dashboard page renders for the current
// session, and keeps that decision current as the session changes.
package guard

import "inventoryhub/dashboard/internal/auth"

type Decision int

const (
	DecisionLoading Decision = iota
	DecisionRedirect
	DecisionRender
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionRedirect:
		return "redirect"
	default:
		return "render"
	}
}

type Outcome struct {
	Decision Decision
	// Location is set for redirects only.
	Location string
}

// Evaluate is pure. An empty required role admits any signed-in user; a
// user below the required role is sent to the landing page without
// distinguishing which role they hold.
func Evaluate(s auth.Session, required auth.Role) Outcome {
	switch {
	case s.Loading:
		return Outcome{Decision: DecisionLoading}
	case s.User == nil:
		return Outcome{Decision: DecisionRedirect, Location: auth.LoginPath}
	case !s.User.Role.Satisfies(required):
		return Outcome{Decision: DecisionRedirect, Location: auth.LandingPath}
	default:
		return Outcome{Decision: DecisionRender}
	}
}
