package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"inventoryhub/dashboard/internal/auth"
	"inventoryhub/dashboard/internal/guard"
)

const statsResource = "stats"

type pageView struct {
	Route guard.Route                `json:"route"`
	User  *auth.User                 `json:"user"`
	Data  map[string]json.RawMessage `json:"data"`
}

type pageEntry struct {
	guard.Route
	Allowed bool `json:"allowed"`
}

func (h *Handler) registerPageHandlers() {
	h.mux.HandleFunc("/v1/pages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.pagesAvailable(w) {
			return
		}
		s := h.deps.Session.Session()
		items := make([]pageEntry, 0)
		for _, rt := range h.deps.Routes.All() {
			items = append(items, pageEntry{Route: rt, Allowed: guard.Evaluate(s, rt.MinRole).Decision == guard.DecisionRender})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})

	h.mux.HandleFunc("/v1/pages/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.pagesAvailable(w) {
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/v1/pages/")
		route, ok := h.deps.Routes.Lookup(name)
		if name == "" || strings.Contains(name, "/") || !ok {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		h.servePage(w, r, route)
	})
}

func (h *Handler) pagesAvailable(w http.ResponseWriter) bool {
	if !h.sessionAvailable(w) {
		return false
	}
	if h.deps.Routes == nil {
		writeError(w, http.StatusServiceUnavailable, "route table unavailable")
		return false
	}
	return true
}

func (h *Handler) servePage(w http.ResponseWriter, r *http.Request, route guard.Route) {
	s := h.deps.Session.Session()
	out := guard.Evaluate(s, route.MinRole)
	switch out.Decision {
	case guard.DecisionLoading:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "session is loading")
		return
	case guard.DecisionRedirect:
		if h.deps.Location != nil {
			h.deps.Location.Navigate(out.Location)
		}
		w.Header().Set("Location", out.Location)
		writeJSON(w, http.StatusSeeOther, map[string]string{"location": out.Location})
		return
	}

	h.watch(route)
	data, err := h.loadResources(r, route.Resources)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageView{Route: route, User: s.User, Data: data})
}

// watch makes route the page on screen. A later session change that no
// longer admits it navigates away.
func (h *Handler) watch(route guard.Route) {
	h.mu.Lock()
	prev := h.watcher
	h.watcher = nil
	h.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	if h.deps.Location != nil {
		h.deps.Location.Navigate(route.Path)
	}
	w := guard.Watch(h.deps.Session, route, h.deps.Location)

	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()
}

func (h *Handler) loadResources(r *http.Request, resources []string) (map[string]json.RawMessage, error) {
	results := make([]json.RawMessage, len(resources))
	g, ctx := errgroup.WithContext(r.Context())
	for i, res := range resources {
		g.Go(func() error {
			if res == statsResource {
				if h.deps.Inventory == nil {
					return nil
				}
				st, err := h.deps.Inventory.DashboardStats(ctx)
				if err != nil {
					return err
				}
				b, err := json.Marshal(st)
				if err != nil {
					return err
				}
				results[i] = b
				return nil
			}
			if h.deps.API == nil {
				return nil
			}
			var raw json.RawMessage
			if err := h.deps.API.Do(ctx, http.MethodGet, "/"+strings.Trim(res, "/"), nil, &raw); err != nil {
				return err
			}
			results[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	data := make(map[string]json.RawMessage, len(resources))
	for i, res := range resources {
		if results[i] != nil {
			data[res] = results[i]
		}
	}
	return data, nil
}
