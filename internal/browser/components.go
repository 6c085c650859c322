package browser

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

const maxComponents = 200

// scrollThroughJS walks the page once so lazy-loaded images are requested.
const scrollThroughJS = `(async () => {
  const step = Math.max(window.innerHeight, 400);
  for (let y = 0; y < document.body.scrollHeight && y < 40000; y += step) {
    window.scrollTo(0, y);
    await new Promise(r => setTimeout(r, 60));
  }
  return true;
})()`

// componentsJS returns visible semantic elements in document coordinates.
const componentsJS = `(() => {
  const picks = [
    ["header, [role=banner]", "header"],
    ["nav, [role=navigation]", "navegacion"],
    ["form[role=search], input[type=search], [class*=search] input", "buscador"],
    ["h1", "titulo"],
    ["[class*=carousel], [class*=slider], [class*=swiper]", "carrusel"],
    ["[itemtype*=Product], [class*=product-card], [class*=product-item]", "producto"],
    ["a[href*=cart], a[href*=carrito], [class*=minicart]", "carrito"],
    ["form", "formulario"],
    ["button, [role=button], input[type=submit], a[class*=btn], a[class*=button]", "boton"],
    ["video, iframe[src*=youtube], iframe[src*=vimeo]", "video"],
    ["img", "imagen"],
    ["footer, [role=contentinfo]", "footer"],
  ];
  const out = [];
  const seen = new Set();
  for (const [sel, tipo] of picks) {
    let n = 0;
    for (const el of document.querySelectorAll(sel)) {
      if (n >= 25 || seen.has(el)) continue;
      const r = el.getBoundingClientRect();
      if (r.width < 8 || r.height < 8) continue;
      const st = getComputedStyle(el);
      if (st.visibility === "hidden" || st.display === "none" || st.opacity === "0") continue;
      seen.add(el);
      n++;
      const label = el.getAttribute("aria-label") || el.getAttribute("alt") || el.innerText || el.id || "";
      out.push({
        nombre: label.trim().replace(/\s+/g, " ").slice(0, 60),
        tipo: tipo,
        x1: r.left + window.scrollX, y1: r.top + window.scrollY,
        x2: r.right + window.scrollX, y2: r.bottom + window.scrollY,
      });
    }
  }
  return out;
})()`

type rawComponent struct {
	Name string  `json:"nombre"`
	Type string  `json:"tipo"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
}

// normalizeComponents rounds boxes to whole pixels, drops degenerate ones and
// makes names unique so a report can reference each component unambiguously.
func normalizeComponents(raw []rawComponent) []pipeline.Component {
	out := make([]pipeline.Component, 0, len(raw))
	names := make(map[string]int, len(raw))
	for _, rc := range raw {
		if len(out) == maxComponents {
			break
		}
		x1, y1 := math.Max(0, math.Round(rc.X1)), math.Max(0, math.Round(rc.Y1))
		x2, y2 := math.Round(rc.X2), math.Round(rc.Y2)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		kind := strings.TrimSpace(rc.Type)
		if kind == "" {
			kind = "otro"
		}
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			name = kind
		}
		names[name]++
		if n := names[name]; n > 1 {
			name = fmt.Sprintf("%s %d", name, n)
		}
		out = append(out, pipeline.Component{
			Name:        name,
			Type:        kind,
			Coordinates: [4]float64{x1, y1, x2, y2},
		})
	}
	return out
}

var pathHints = []struct {
	pageType string
	needles  []string
}{
	{"carrito", []string{"/cart", "/carrito", "/basket", "/bag"}},
	{"checkout", []string{"/checkout", "/pago", "/payment"}},
	{"busqueda", []string{"/search", "/buscar", "/busqueda"}},
	{"producto", []string{"/p/", "/product", "/producto", "/item", "/dp/"}},
	{"categoria", []string{"/c/", "/category", "/categoria", "/collections", "/shop", "/tienda"}},
	{"contacto", []string{"/contact", "/contacto"}},
	{"blog", []string{"/blog", "/news", "/noticias"}},
	{"cuenta", []string{"/account", "/login", "/cuenta", "/mi-cuenta"}},
}

// classifyPage guesses the page type from the URL and the detected components.
func classifyPage(rawURL string, components []pipeline.Component) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "otro"
	}
	path := strings.ToLower(u.EscapedPath())
	if path == "" || path == "/" {
		return "home"
	}
	if u.Query().Has("q") || u.Query().Has("s") {
		return "busqueda"
	}
	for _, hint := range pathHints {
		for _, needle := range hint.needles {
			if strings.Contains(path, needle) {
				return hint.pageType
			}
		}
	}
	products := 0
	for _, c := range components {
		if c.Type == "producto" {
			products++
		}
	}
	switch {
	case products > 3:
		return "categoria"
	case products > 0:
		return "producto"
	}
	return "otro"
}
