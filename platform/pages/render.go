package pages

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
)

func renderAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, ` %v="%v"`, html.EscapeString(k), html.EscapeString(attrs[k]))
	}
	return b.String()
}

func renderHeadElement(w io.Writer, el HeadElement) {
	switch el.Tag {
	case "meta", "link", "base":
		fmt.Fprintf(w, "<%v%v>\n", el.Tag, renderAttrs(el.Attrs))
	default:
		fmt.Fprintf(w, "<%v%v>%v</%v>\n", el.Tag, renderAttrs(el.Attrs), el.Content, el.Tag)
	}
}

// Render writes the full html document for the page: title, custom head
// elements in declared order, the embedded props payload, and scripts that
// pass their feature flag gate.
func (p *Page) Render(w io.Writer) error {
	fmt.Fprint(w, "<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(w, "<meta charset=\"utf-8\">\n<title>%v</title>\n", html.EscapeString(p.Title))

	for _, el := range p.Head {
		renderHeadElement(w, el)
	}

	fmt.Fprint(w, "</head>\n<body>\n<div id=\"root\"></div>\n")

	props := p.Props
	if props == nil {
		props = map[string]interface{}{}
	}
	propsJson, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("error serializing props for page '%v': %w", p.Path, err)
	}
	// </script> inside the payload would terminate the element early
	safe := strings.ReplaceAll(string(propsJson), "</", `<\/`)
	fmt.Fprintf(w, "<script id=\"page-props\" type=\"application/json\">%v</script>\n", safe)

	for _, script := range p.Scripts {
		if !p.FlagEnabled(script.Flag) {
			continue
		}
		fmt.Fprintf(w, "<script src=\"%v\"></script>\n", html.EscapeString(script.Src))
	}

	fmt.Fprint(w, "</body>\n</html>\n")
	return nil
}
