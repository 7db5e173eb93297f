package menu

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleMenu = `{
  "pizzas": [
    {
      "name": "Margherita",
      "description": "Tomato, mozzarella, basil",
      "price": 8.5,
      "image": "/images/margherita.jpg",
      "badges": ["vegetarian", "classic"]
    },
    {
      "name": "Diavola",
      "description": "Spicy salami",
      "price": 10.0,
      "image": "/images/diavola.jpg",
      "badges": ["spicy"]
    }
  ]
}`

func writeMenuFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "menu.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write menu: %v", err)
	}
	return path
}

func TestLoadValidMenu(t *testing.T) {
	m, err := Load(writeMenuFile(t, sampleMenu))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Pizzas) != 2 {
		t.Fatalf("pizzas = %d, want 2", len(m.Pizzas))
	}
	first := m.Pizzas[0]
	if first.Name != "Margherita" || first.Image != "/images/margherita.jpg" {
		t.Fatalf("unexpected first pizza: %+v", first)
	}
	if len(first.Badges) != 2 || first.Badges[0] != "vegetarian" {
		t.Fatalf("badges = %v", first.Badges)
	}
}

func TestLoadRejectsInvalidMenus(t *testing.T) {
	cases := map[string]string{
		"no pizzas":      `{"pizzas":[]}`,
		"nameless pizza": `{"pizzas":[{"price":1}]}`,
		"negative price": `{"pizzas":[{"name":"A","price":-1}]}`,
		"not json":       `pizza`,
	}
	for name, content := range cases {
		if _, err := Load(writeMenuFile(t, content)); err == nil {
			t.Errorf("%s: Load succeeded, want error", name)
		}
	}
}

func TestServeJSONKeepsDocumentShape(t *testing.T) {
	m, err := Load(writeMenuFile(t, sampleMenu))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec := httptest.NewRecorder()
	m.ServeJSON(rec, httptest.NewRequest("GET", "/menu.json", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	// Consumers read data.pizzas with name/description/price/image/badges.
	var doc struct {
		Pizzas []map[string]any `json:"pizzas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Pizzas) != 2 {
		t.Fatalf("pizzas = %d, want 2", len(doc.Pizzas))
	}
	for _, key := range []string{"name", "description", "price", "image", "badges"} {
		if _, ok := doc.Pizzas[0][key]; !ok {
			t.Errorf("pizza document missing %q field", key)
		}
	}
}

func TestServeHTMLRendersItems(t *testing.T) {
	m, err := Load(writeMenuFile(t, sampleMenu))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec := httptest.NewRecorder()
	m.ServeHTML(rec, httptest.NewRequest("GET", "/menu", nil))

	page := rec.Body.String()
	for _, want := range []string{"Margherita", "Diavola", "spicy", "8.50"} {
		if !strings.Contains(page, want) {
			t.Errorf("rendered page missing %q", want)
		}
	}
}
