// Package markdown renders the short markdown descriptions shown by the watch
// server into sanitized HTML fragments.
package markdown

import (
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.CommonExtensions | blackfriday.AutoHeadingIDs

// policy allows user-generated content plus the class and id attributes the
// page stylesheet relies on. Command lines and paths end up in the markup, so
// everything else is stripped.
var policy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span")
	p.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3")
	return p
}()

// RenderToHTML converts markdown text to sanitized HTML.
func RenderToHTML(markdown string) string {
	unsafeHTML := blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(extensions))
	return string(policy.SanitizeBytes(unsafeHTML))
}
