// Package samples holds the documents the workbench starts with.
package samples

import (
	"embed"

	"xslttester/internal/transform"
)

//go:embed sample.xml sample.xsl
var files embed.FS

// XML returns the bundled sample document.
func XML() string { return read("sample.xml") }

// XSLT returns the bundled sample stylesheet.
func XSLT() string { return read("sample.xsl") }

func read(name string) string {
	f, err := files.Open(name)
	if err != nil {
		return ""
	}
	return transform.ReadAllText(f)
}
