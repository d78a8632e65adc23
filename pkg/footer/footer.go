// Package footer renders the page footer with links to the raw API resources.
package footer

import (
	"bytes"
	"html/template"
)

// Link is one footer entry.
type Link struct {
	Label string
	URL   string
}

// Config controls the footer markup.
type Config struct {
	ElementID  string
	BaseClass  string
	BrandText  string
	LinkClass  string
	Links      []Link
	UpdatedAt  string
	LiveStatus string
}

var (
	footerTemplate = template.Must(template.New("footer").Parse(`<footer id="{{.ElementID}}" class="{{.BaseClass}}">
  <div class="container d-flex flex-wrap justify-content-between gap-2 small">
    <span>{{.BrandText}}{{if .UpdatedAt}} &middot; updated {{.UpdatedAt}}{{end}}</span>
    {{if .LiveStatus}}<span data-live-status>{{.LiveStatus}}</span>{{end}}
    <nav>{{range .Links}}<a class="{{$.LinkClass}}" href="{{.URL}}">{{.Label}}</a> {{end}}</nav>
  </div>
</footer>`))
)

// Render returns the footer HTML. Labels and URLs are escaped.
func Render(config Config) (template.HTML, error) {
	var buffer bytes.Buffer
	if err := footerTemplate.Execute(&buffer, config); err != nil {
		return "", err
	}
	return template.HTML(buffer.String()), nil
}
