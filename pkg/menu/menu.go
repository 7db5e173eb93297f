// Package menu loads and serves the restaurant menu.
package menu

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"os"
)

// Pizza is a single menu entry as published at /menu.json.
type Pizza struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Image       string   `json:"image"`
	Badges      []string `json:"badges"`
}

// Menu is the full menu document: a flat pizzas list.
type Menu struct {
	Pizzas []Pizza `json:"pizzas"`
}

// Load reads and validates a menu definition file.
func Load(path string) (*Menu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu: %w", err)
	}

	var m Menu
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse menu: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the menu for structural problems.
func (m *Menu) Validate() error {
	if len(m.Pizzas) == 0 {
		return fmt.Errorf("menu: at least one pizza is required")
	}
	for _, p := range m.Pizzas {
		if p.Name == "" {
			return fmt.Errorf("menu: pizza without a name")
		}
		if p.Price < 0 {
			return fmt.Errorf("menu: negative price for %q", p.Name)
		}
	}
	return nil
}

var pageTemplate = template.Must(template.New("menu").Parse(`<!DOCTYPE html>
<html>
<head><title>Dunijet Pizza Menu</title></head>
<body>
<h1>Dunijet Pizza</h1>
<ul>
{{range .Pizzas}}<li>
<strong>{{.Name}}</strong>{{range .Badges}} <em>{{.}}</em>{{end}}
{{if .Description}}<p>{{.Description}}</p>{{end}}
<span>{{printf "%.2f" .Price}}</span>
</li>
{{end}}</ul>
</body>
</html>
`))

// ServeJSON writes the menu document as JSON.
func (m *Menu) ServeJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// ServeHTML renders the menu as a simple HTML page.
func (m *Menu) ServeHTML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, m); err != nil {
		http.Error(w, "failed to render menu", http.StatusInternalServerError)
	}
}
