package view

import (
	"bytes"
	"html/template"
)

// StatusPageData provides the dynamic fields of the page shown when a short link
// cannot be followed.
type StatusPageData struct {
	Title   string
	Heading string
	Message string
	Code    string
	HomeURL string
}

var statusPageTmpl = template.Must(template.New("status_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<title>{{.Title}}</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #7dd3fc;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(480px, 92vw);
			text-align: center;
		}
		h1 { font-size: 1.5rem; margin-bottom: 6px; }
		p { color: var(--muted); margin-top: 0; }
		code { color: var(--accent); word-break: break-all; }
		a { color: var(--accent); }
	</style>
</head>
<body>
	<div class="card">
		<h1>{{.Heading}}</h1>
		<p>{{.Message}}</p>
		{{if .Code}}<p><code>/{{.Code}}</code></p>{{end}}
		{{if .HomeURL}}<p><a href="{{.HomeURL}}">Create a new short link</a></p>{{end}}
	</div>
</body>
</html>
`))

// NotFoundPage is shown for codes that do not resolve to a link.
func NotFoundPage(code, homeURL string) StatusPageData {
	return StatusPageData{
		Title:   "Link not found",
		Heading: "Link not found",
		Message: "This short link does not exist.",
		Code:    code,
		HomeURL: homeURL,
	}
}

// ErrorPage is shown when a link could not be resolved because of a server fault.
func ErrorPage(homeURL string) StatusPageData {
	return StatusPageData{
		Title:   "Server error",
		Heading: "Something went wrong",
		Message: "Please try again in a moment.",
		HomeURL: homeURL,
	}
}

// RenderStatusPage expands the status page template with the provided data.
func RenderStatusPage(data StatusPageData) (string, error) {
	if data.Title == "" {
		data.Title = data.Heading
	}
	var buf bytes.Buffer
	if err := statusPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
