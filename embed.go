// Package footballpedia bundles the web assets of the FootballPedia chat server.
package footballpedia

import "embed"

// TemplateFS holds the html/template sources under templates/layout, templates/pages and
// templates/partials.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS holds the stylesheet and the browser script served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
