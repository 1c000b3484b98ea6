package template

import "strings"

// ExtractNames walks the template's tags once and returns the referenced
// identifiers as a two-level structure: a top-level name maps to true, or to
// a map of accessed sub-fields (e.g. {"prompt1": {"input": true}}). Names
// referenced inside a block form nest under the block's argument.
func ExtractNames(template string) (map[string]any, error) {
	tags, err := tagTokens(template)
	if err != nil {
		return nil, err
	}

	root := map[string]any{}
	stack := []map[string]any{root}

	for _, tag := range tags {
		switch {
		case strings.HasPrefix(tag, "!") || tag == "else":
			// no parameter reference
		case strings.HasPrefix(tag, "/"):
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case strings.HasPrefix(tag, "#"):
			fields := strings.Fields(tag[1:])
			if len(fields) != 2 {
				return nil, syntaxErr("malformed block tag %q", tag)
			}
			stack = append(stack, recordBlock(stack[len(stack)-1], fields[1]))
		default:
			recordName(stack[len(stack)-1], strings.Fields(tag)[0])
		}
	}
	return root, nil
}

// recordName records a possibly dotted reference into scope. A dotted path
// promotes the entry to a sub-field map; a plain reference never demotes an
// existing sub-field map back to true.
func recordName(scope map[string]any, path string) {
	head, rest, dotted := strings.Cut(path, ".")
	sub, isMap := scope[head].(map[string]any)
	if dotted {
		if !isMap {
			sub = map[string]any{}
		}
		sub[rest] = true
		scope[head] = sub
		return
	}
	if !isMap {
		scope[head] = true
	}
}

// recordBlock records a block argument and returns the nested scope that
// names referenced inside the block are collected into.
func recordBlock(scope map[string]any, path string) map[string]any {
	head, rest, dotted := strings.Cut(path, ".")
	sub, isMap := scope[head].(map[string]any)
	if !isMap {
		sub = map[string]any{}
		scope[head] = sub
	}
	if dotted {
		sub[rest] = true
	}
	return sub
}

// tagTokens returns the trimmed contents of every {{...}} tag in order.
func tagTokens(template string) ([]string, error) {
	var tags []string
	rest := template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			return tags, nil
		}
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			return nil, syntaxErr("unclosed tag near %q", truncate(rest[open:]))
		}
		tag := strings.TrimSpace(rest[open+2 : open+close])
		if tag == "" {
			return nil, syntaxErr("empty tag")
		}
		tags = append(tags, tag)
		rest = rest[open+close+2:]
	}
}
