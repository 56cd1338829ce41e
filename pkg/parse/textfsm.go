// Package parse converts raw command output into structured records using
// TextFSM templates selected through an ntc-templates style index.
package parse

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/sirikothe/gotextfsm"

	"github.com/fleetup/fleetup/pkg/util"
)

// IndexFile is the template index inside a template directory.
const IndexFile = "index"

type indexEntry struct {
	templates []string
	platform  *regexp.Regexp
	command   *regexp.Regexp
}

// TextFSM parses command output with templates from one directory.
type TextFSM struct {
	dir   string
	index []indexEntry

	mu    sync.Mutex
	cache map[string]string
}

// NewTextFSM loads the index of a template directory.
func NewTextFSM(dir string) (*TextFSM, error) {
	f, err := os.Open(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("opening template index: %w", err)
	}
	defer f.Close()

	index, err := readIndex(bufio.NewScanner(f))
	if err != nil {
		return nil, fmt.Errorf("template index %s: %w", dir, err)
	}
	return &TextFSM{dir: dir, index: index, cache: make(map[string]string)}, nil
}

// readIndex parses the CSV-like index: comment lines start with '#', the
// first remaining line is the header, and each entry has the template
// file(s), hostname, platform and command columns.
func readIndex(sc *bufio.Scanner) ([]indexEntry, error) {
	var entries []indexEntry
	cols := map[string]int{}
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(cols) == 0 {
			for i, name := range fields {
				cols[strings.ToLower(name)] = i
			}
			for _, required := range []string{"template", "platform", "command"} {
				if _, ok := cols[required]; !ok {
					return nil, fmt.Errorf("header missing %q column", required)
				}
			}
			continue
		}
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(fields) {
				return fields[i]
			}
			return ""
		}
		platform, err := regexp.Compile("^" + get("platform") + "$")
		if err != nil {
			return nil, fmt.Errorf("line %d: platform: %w", lineNo, err)
		}
		command, err := regexp.Compile("^" + expandCompletion(get("command")))
		if err != nil {
			return nil, fmt.Errorf("line %d: command: %w", lineNo, err)
		}
		entries = append(entries, indexEntry{
			templates: strings.Split(get("template"), ":"),
			platform:  platform,
			command:   command,
		})
	}
	return entries, sc.Err()
}

var completionPattern = regexp.MustCompile(`\[\[([^\]]+)\]\]`)

// expandCompletion turns "sh[[ow]]" into "sh(o(w)?)?", accepting every
// abbreviation of the bracketed suffix.
func expandCompletion(s string) string {
	return completionPattern.ReplaceAllStringFunc(s, func(m string) string {
		word := completionPattern.FindStringSubmatch(m)[1]
		var b strings.Builder
		for _, r := range word {
			b.WriteString("(")
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
		b.WriteString(strings.Repeat(")?", len(word)))
		return b.String()
	})
}

// Template returns the template file for a platform and command.
func (p *TextFSM) Template(platform, command string) (string, bool) {
	command = strings.TrimSpace(command)
	for _, e := range p.index {
		if e.platform.MatchString(platform) && e.command.MatchString(command) {
			return e.templates[0], true
		}
	}
	return "", false
}

// Parse converts output into records keyed by lower-cased value names.
func (p *TextFSM) Parse(platform, command, output string) ([]map[string]interface{}, error) {
	name, ok := p.Template(platform, command)
	if !ok {
		return nil, fmt.Errorf("no template for %s %q: %w", platform, command, util.ErrNotFound)
	}
	tmpl, err := p.load(name)
	if err != nil {
		return nil, err
	}
	return ParseWith(tmpl, output)
}

func (p *TextFSM) load(name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.cache[name]; ok {
		return t, nil
	}
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		return "", fmt.Errorf("reading template %s: %w", name, err)
	}
	p.cache[name] = string(data)
	return p.cache[name], nil
}

// ParseWith runs a single template over output.
func ParseWith(template, output string) ([]map[string]interface{}, error) {
	fsm := gotextfsm.TextFSM{}
	if err := fsm.ParseString(template); err != nil {
		return nil, fmt.Errorf("compiling template: %w", err)
	}
	parser := gotextfsm.ParserOutput{}
	if err := parser.ParseTextString(output, fsm, true); err != nil {
		return nil, fmt.Errorf("parsing output: %w", err)
	}
	records := make([]map[string]interface{}, 0, len(parser.Dict))
	for _, row := range parser.Dict {
		rec := make(map[string]interface{}, len(row))
		for k, v := range row {
			rec[strings.ToLower(k)] = v
		}
		records = append(records, rec)
	}
	return records, nil
}
