package guard

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"inventoryhub/dashboard/internal/auth"
)

//go:embed routes.yaml
var defaultRoutes []byte

type Route struct {
	Name      string    `yaml:"name" json:"name"`
	Path      string    `yaml:"path" json:"path"`
	Title     string    `yaml:"title" json:"title"`
	MinRole   auth.Role `yaml:"min_role" json:"min_role,omitempty"`
	Resources []string  `yaml:"resources" json:"resources"`
}

type Routes struct {
	list   []Route
	byName map[string]int
}

type routeFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadRoutes reads the route table from path, or the built-in table when
// path is empty.
func LoadRoutes(path string) (*Routes, error) {
	data := defaultRoutes
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read route table: %w", err)
		}
		data = b
	}
	return ParseRoutes(data)
}

func ParseRoutes(data []byte) (*Routes, error) {
	var f routeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}
	if len(f.Routes) == 0 {
		return nil, fmt.Errorf("route table is empty")
	}
	rs := &Routes{byName: make(map[string]int, len(f.Routes))}
	for i, r := range f.Routes {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return nil, fmt.Errorf("route %d: name is required", i)
		}
		if _, dup := rs.byName[r.Name]; dup {
			return nil, fmt.Errorf("route %q defined twice", r.Name)
		}
		if r.MinRole != "" {
			role, err := auth.ParseRole(string(r.MinRole))
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", r.Name, err)
			}
			r.MinRole = role
		}
		if r.Path == "" {
			r.Path = "/" + r.Name
		}
		if r.Title == "" {
			r.Title = r.Name
		}
		rs.byName[r.Name] = len(rs.list)
		rs.list = append(rs.list, r)
	}
	return rs, nil
}

func (rs *Routes) Lookup(name string) (Route, bool) {
	i, ok := rs.byName[name]
	if !ok {
		return Route{}, false
	}
	return rs.list[i], true
}

// All returns the routes in table order.
func (rs *Routes) All() []Route {
	return append([]Route(nil), rs.list...)
}
