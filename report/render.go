package report

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasttemplate"
)

// Renderer writes a report to w.
type Renderer interface {
	Render(w io.Writer, r *Report) error
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(w io.Writer, r *Report) error

// Render calls f.
func (f RendererFunc) Render(w io.Writer, r *Report) error {
	return f(w, r)
}

// Text renders the classic console output.
type Text struct{}

// Render writes the lines for r.Kind.
func (Text) Render(w io.Writer, r *Report) error {
	const errCtx = "rendering text report"

	var sb strings.Builder

	switch r.Kind {
	case KindCheck:
		for _, res := range r.Results {
			if r.IsDir {
				sb.WriteString("\nChecking: ")
				sb.WriteString(res.Path)
				sb.WriteByte('\n')
			}

			sb.WriteString(StatusLine(res))
			sb.WriteByte('\n')
		}
	case KindInit:
		writeErrors(&sb, r)
		sb.WriteString("Hashes stored successfully.\n")
	case KindUpdate:
		writeErrors(&sb, r)
		sb.WriteString("Hash updated successfully.\n")
	default:
		return fmt.Errorf("%s: unknown kind %q", errCtx, r.Kind)
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// StatusLine returns the console line for one checked
// result.
func StatusLine(res Result) string {
	switch res.Status {
	case Unknown:
		return "Status: Unknown (No stored hash for " + res.Path + ")"
	case Unmodified:
		return "Status: Unmodified"
	case Modified:
		return "Status: Modified (Hash mismatch)"
	case Missing:
		return "Status: Missing (File no longer exists)"
	case Error:
		return "Status: Error (" + res.Reason() + ")"
	case Stored:
		return "Status: Stored"
	default:
		return "Status: " + string(res.Status)
	}
}

func writeErrors(sb *strings.Builder, r *Report) {
	for _, res := range r.Results {
		if res.Status != Error {
			continue
		}

		sb.WriteString("Error: ")
		sb.WriteString(res.Path)
		sb.WriteString(": ")
		sb.WriteString(res.Reason())
		sb.WriteByte('\n')
	}
}

// JSON renders an indented JSON document.
type JSON struct{}

type jsonResult struct {
	Result
	Error string `json:"error,omitempty"`
}

type jsonReport struct {
	Kind    Kind           `json:"kind"`
	Root    string         `json:"root"`
	IsDir   bool           `json:"is_dir"`
	Counts  map[Status]int `json:"counts"`
	Results []jsonResult   `json:"results"`
}

// Render writes r as JSON followed by a newline.
func (JSON) Render(w io.Writer, r *Report) error {
	const errCtx = "rendering json report"

	doc := jsonReport{
		Kind:    r.Kind,
		Root:    r.Root,
		IsDir:   r.IsDir,
		Counts:  r.Counts(),
		Results: make([]jsonResult, 0, len(r.Results)),
	}

	for _, res := range r.Results {
		doc.Results = append(doc.Results, jsonResult{
			Result: res,
			Error:  res.Reason(),
		})
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := w.Write(append(buf, '\n')); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Template renders one line per result. Format holds
// {path}, {status}, {digest}, {stored} and {error} tags;
// unknown tags are kept as-is.
type Template struct {
	Format string
}

// Render writes one expanded Format line per result.
func (tp Template) Render(w io.Writer, r *Report) error {
	const errCtx = "rendering template report"

	for _, res := range r.Results {
		if err := tp.RenderResult(w, res); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return nil
}

// RenderResult writes the expanded Format line for res.
func (tp Template) RenderResult(w io.Writer, res Result) error {
	line := fasttemplate.ExecuteStringStd(
		tp.Format, "{", "}", map[string]interface{}{
			"path":   res.Path,
			"status": string(res.Status),
			"digest": res.Digest,
			"stored": res.Stored,
			"error":  res.Reason(),
		},
	)

	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}

	return nil
}
