package runner

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"benchflow/script"
)

var provenancePage = template.Must(template.New("provenance").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// ExportProvenance writes <output>.html: the script source, the files found
// in each library directory and the executable of every module in sequence
// order. It returns the path written.
func ExportProvenance(s *script.Script, project Project) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", project.Name)
	writeFenced(&md, "yaml", s.Source)

	for _, dir := range s.Runtime.LibPath {
		files, err := filepath.Glob(filepath.Join(dir, "*.*"))
		if err != nil {
			return "", fmt.Errorf("failed to list %s: %w", dir, err)
		}
		sort.Strings(files)
		fmt.Fprintf(&md, "## From `%s`\n\n", dir)
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			fmt.Fprintf(&md, "### %s\n\n", filepath.Base(f))
			writeFenced(&md, strings.TrimPrefix(filepath.Ext(f), "."), string(data))
		}
	}

	for _, name := range s.Runtime.SequenceOrdering {
		mod, ok := s.Modules[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&md, "## %s\n\n", name)
		writeFenced(&md, "bash", mod.Exec)
		if exe := executableFile(mod.Exec, s.Dir); exe != "" {
			if data, err := os.ReadFile(exe); err == nil {
				fmt.Fprintf(&md, "### %s\n\n", filepath.Base(exe))
				writeFenced(&md, strings.TrimPrefix(filepath.Ext(exe), "."), string(data))
			}
		}
	}

	var body bytes.Buffer
	if err := goldmark.New().Convert([]byte(md.String()), &body); err != nil {
		return "", fmt.Errorf("failed to render provenance: %w", err)
	}

	var page bytes.Buffer
	if err := provenancePage.Execute(&page, map[string]any{
		"Title": project.Name,
		"Body":  template.HTML(body.String()),
	}); err != nil {
		return "", fmt.Errorf("failed to render provenance: %w", err)
	}

	path := project.HTMLPath()
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, page.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// writeFenced emits content as a fenced code block whose fence is longer
// than any backtick run inside it.
func writeFenced(b *strings.Builder, lang, content string) {
	fence := "```"
	for strings.Contains(content, fence) {
		fence += "`"
	}
	fmt.Fprintf(b, "%s%s\n%s", fence, lang, content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "%s\n\n", fence)
}

// executableFile returns the file the first word of a command names, if it
// exists relative to dir.
func executableFile(command, dir string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	path := fields[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		return path
	}
	return ""
}
