// Package template implements the handlebars subset used by aiconfig prompt
// inputs: plain substitutions, dotted lookups, the if/each/with/unless block
// forms, else branches and comments. Substituted values are HTML-escaped the
// same way the handlebars engine escapes them.
package template

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Error is returned for malformed template syntax.
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return "template: " + e.Msg
}

func syntaxErr(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

var paramNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)

// ValidParameterName reports whether a parameter name uses only the
// allowed identifier characters.
func ValidParameterName(name string) bool {
	return name != "" && paramNamePattern.MatchString(name)
}

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeBlock
)

type node struct {
	kind     nodeKind
	text     string // nodeText
	path     string // nodeVar, nodeBlock argument
	block    string // "if", "each", "with", "unless"
	body     []*node
	elseBody []*node
}

// Resolve evaluates template against scope. Unknown references resolve to
// the empty string.
func Resolve(template string, scope map[string]any) (string, error) {
	nodes, err := parse(template)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := render(&out, nodes, scope); err != nil {
		return "", err
	}
	return out.String(), nil
}

// parse builds the node tree, enforcing balanced block tags.
func parse(template string) ([]*node, error) {
	type frame struct {
		block  string
		path   string
		body   []*node
		inElse bool
		elseB  []*node
	}

	root := &frame{}
	stack := []*frame{root}
	top := func() *frame { return stack[len(stack)-1] }
	appendNode := func(n *node) {
		f := top()
		if f.inElse {
			f.elseB = append(f.elseB, n)
		} else {
			f.body = append(f.body, n)
		}
	}

	rest := template
	for len(rest) > 0 {
		open := strings.Index(rest, "{{")
		if open < 0 {
			appendNode(&node{kind: nodeText, text: rest})
			break
		}
		if open > 0 {
			appendNode(&node{kind: nodeText, text: rest[:open]})
		}
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			return nil, syntaxErr("unclosed tag near %q", truncate(rest[open:]))
		}
		tag := strings.TrimSpace(rest[open+2 : open+close])
		rest = rest[open+close+2:]

		switch {
		case tag == "":
			return nil, syntaxErr("empty tag")
		case strings.HasPrefix(tag, "!"):
			// comment
		case tag == "else":
			f := top()
			if f == root || f.inElse {
				return nil, syntaxErr("unexpected {{else}}")
			}
			f.inElse = true
		case strings.HasPrefix(tag, "#"):
			fields := strings.Fields(tag[1:])
			if len(fields) != 2 {
				return nil, syntaxErr("malformed block tag %q", tag)
			}
			block, arg := fields[0], fields[1]
			switch block {
			case "if", "each", "with", "unless":
			default:
				return nil, syntaxErr("unsupported block helper %q", block)
			}
			stack = append(stack, &frame{block: block, path: arg})
		case strings.HasPrefix(tag, "/"):
			name := strings.TrimSpace(tag[1:])
			f := top()
			if f == root {
				return nil, syntaxErr("unexpected closing tag {{/%s}}", name)
			}
			if f.block != name {
				return nil, syntaxErr("mismatched closing tag {{/%s}}, open block is %q", name, f.block)
			}
			stack = stack[:len(stack)-1]
			appendNode(&node{kind: nodeBlock, block: f.block, path: f.path, body: f.body, elseBody: f.elseB})
		default:
			fields := strings.Fields(tag)
			if len(fields) != 1 {
				return nil, syntaxErr("malformed tag %q", tag)
			}
			appendNode(&node{kind: nodeVar, path: fields[0]})
		}
	}

	if len(stack) != 1 {
		return nil, syntaxErr("unclosed block {{#%s}}", top().block)
	}
	return root.body, nil
}

func truncate(s string) string {
	if len(s) > 24 {
		return s[:24] + "..."
	}
	return s
}

func render(out *strings.Builder, nodes []*node, ctx any) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			out.WriteString(n.text)
		case nodeVar:
			out.WriteString(escape(stringify(lookup(ctx, n.path))))
		case nodeBlock:
			val := lookup(ctx, n.path)
			switch n.block {
			case "if":
				body := n.body
				if !truthy(val) {
					body = n.elseBody
				}
				if err := render(out, body, ctx); err != nil {
					return err
				}
			case "unless":
				body := n.body
				if truthy(val) {
					body = n.elseBody
				}
				if err := render(out, body, ctx); err != nil {
					return err
				}
			case "with":
				if truthy(val) {
					if err := render(out, n.body, val); err != nil {
						return err
					}
				} else if err := render(out, n.elseBody, ctx); err != nil {
					return err
				}
			case "each":
				items := iterate(val)
				if len(items) == 0 {
					if err := render(out, n.elseBody, ctx); err != nil {
						return err
					}
					continue
				}
				for _, item := range items {
					if err := render(out, n.body, item); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func iterate(val any) []any {
	switch v := val.(type) {
	case []any:
		return v
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(v))
		for _, k := range keys {
			items = append(items, v[k])
		}
		return items
	default:
		return nil
	}
}

// lookup resolves a dotted path against the current context. Missing
// segments yield nil.
func lookup(ctx any, path string) any {
	if path == "this" || path == "." {
		return ctx
	}
	cur := ctx
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func truthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"`", "&#x60;",
	"=", "&#x3D;",
)

// escape applies handlebars HTML escaping to a substituted value.
func escape(s string) string {
	return escaper.Replace(s)
}
