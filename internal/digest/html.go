package digest

import (
	"html/template"
	"io"
	"time"
)

var emailTmpl = template.Must(template.New("email").Funcs(template.FuncMap{
	"describe": Describe,
	"points":   points,
}).Parse(`<!doctype html>
<html>
<body style="font-family: -apple-system, Helvetica, Arial, sans-serif; color: #1a1a1b; max-width: 640px; margin: 0 auto;">
<h1 style="font-size: 20px;">{{.Subject}}</h1>
{{- if not .Sections}}
<p>No subreddits selected.</p>
{{- end}}
{{- range .Sections}}
<h2 style="font-size: 16px; border-bottom: 1px solid #edeff1; padding-bottom: 4px;">r/{{.Subreddit}}</h2>
{{- if .Reason}}
<p style="color: #7c7c7c;"><em>{{describe .Reason}}</em></p>
{{- else}}
<ol>
{{- range .Posts}}
<li style="margin-bottom: 10px;">
<a href="{{.URL}}" style="color: #0079d3; text-decoration: none;">{{.Title}}</a><br>
<small style="color: #7c7c7c;">{{points .Score}} points · {{.Comments}} comments · u/{{.Author}} · {{$.Age .Created}}</small>
</li>
{{- end}}
</ol>
{{- end}}
{{- end}}
</body>
</html>
`))

// HTMLFormatter formats a digest as an HTML email body.
type HTMLFormatter struct{}

// NewHTML creates an HTML formatter.
func NewHTML() *HTMLFormatter {
	return &HTMLFormatter{}
}

type htmlView struct {
	Digest
	now time.Time
}

func (v htmlView) Age(created string) string {
	return age(created, v.now)
}

// Format writes the digest as HTML to w.
func (f *HTMLFormatter) Format(w io.Writer, d Digest) error {
	return emailTmpl.Execute(w, htmlView{Digest: d, now: d.GeneratedAt})
}
