package template

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveSimpleSubstitution(t *testing.T) {
	out, err := Resolve("Hello, {{name}}", map[string]any{"name": "User"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "Hello, User" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveUnknownNameIsEmpty(t *testing.T) {
	out, err := Resolve("Hello, {{name}}", map[string]any{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "Hello, " {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveLeavesDisjointTemplateUntouched(t *testing.T) {
	tmpl := "no tags here at all"
	out, err := Resolve(tmpl, map[string]any{"name": "x"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != tmpl {
		t.Fatalf("expected template unchanged, got %q", out)
	}
}

func TestResolveDottedLookup(t *testing.T) {
	scope := map[string]any{
		"prompt1": map[string]any{"input": "the input", "output": "the output"},
	}
	out, err := Resolve("in={{prompt1.input}} out={{prompt1.output}}", scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "in=the input out=the output" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveHTMLEscaping(t *testing.T) {
	scope := map[string]any{"v": `<a href="x">&'` + "`=" + `</a>`}
	out, err := Resolve("{{v}}", scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := "&lt;a href&#x3D;&quot;x&quot;&gt;&amp;&#x27;&#x60;&#x3D;&lt;/a&gt;"
	if out != want {
		t.Fatalf("escaping mismatch:\n got %q\nwant %q", out, want)
	}
}

func TestResolveIfElse(t *testing.T) {
	tmpl := "{{#if flag}}yes{{else}}no{{/if}}"
	out, err := Resolve(tmpl, map[string]any{"flag": true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "yes" {
		t.Fatalf("expected yes, got %q", out)
	}
	out, err = Resolve(tmpl, map[string]any{"flag": false})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "no" {
		t.Fatalf("expected no, got %q", out)
	}
}

func TestResolveUnless(t *testing.T) {
	out, err := Resolve("{{#unless flag}}hidden{{/unless}}", map[string]any{"flag": ""})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "hidden" {
		t.Fatalf("expected hidden, got %q", out)
	}
}

func TestResolveEach(t *testing.T) {
	scope := map[string]any{
		"people": []any{
			map[string]any{"name": "ada"},
			map[string]any{"name": "bob"},
		},
	}
	out, err := Resolve("{{#each people}}[{{name}}]{{/each}}", scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "[ada][bob]" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveEachEmptyUsesElse(t *testing.T) {
	out, err := Resolve("{{#each items}}x{{else}}none{{/each}}", map[string]any{"items": []any{}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "none" {
		t.Fatalf("expected none, got %q", out)
	}
}

func TestResolveWith(t *testing.T) {
	scope := map[string]any{"obj": map[string]any{"field": "v"}}
	out, err := Resolve("{{#with obj}}{{field}}{{/with}}", scope)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "v" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveComment(t *testing.T) {
	out, err := Resolve("a{{! ignore me }}b", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "ab" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveNumberFormatting(t *testing.T) {
	out, err := Resolve("{{n}} {{f}}", map[string]any{"n": float64(3), "f": 2.5})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out != "3 2.5" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestResolveSyntaxErrors(t *testing.T) {
	cases := []string{
		"{{#if x}}unclosed",
		"{{unclosed",
		"{{#if x}}{{/each}}",
		"{{/if}}",
		"{{#bogus x}}{{/bogus}}",
		"{{}}",
	}
	for _, tmpl := range cases {
		if _, err := Resolve(tmpl, nil); err == nil {
			t.Fatalf("expected syntax error for %q", tmpl)
		} else {
			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("expected *Error for %q, got %T", tmpl, err)
			}
		}
	}
}

func TestExtractNames(t *testing.T) {
	got, err := ExtractNames("Hello, {{name}}, see {{prompt1.input}} and {{prompt1.output}}.")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := map[string]any{
		"name":    true,
		"prompt1": map[string]any{"input": true, "output": true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("extract mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestExtractNamesBlockNesting(t *testing.T) {
	got, err := ExtractNames("{{#each people}}{{name}}{{/each}}{{! note }}{{else}}")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := map[string]any{
		"people": map[string]any{"name": true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("extract mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestExtractNamesPlainDoesNotDemote(t *testing.T) {
	got, err := ExtractNames("{{p.input}}{{p}}")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := map[string]any{"p": map[string]any{"input": true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("extract mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestValidParameterName(t *testing.T) {
	for _, ok := range []string{"name", "a_b", "p1.output", "A9"} {
		if !ValidParameterName(ok) {
			t.Fatalf("expected %q valid", ok)
		}
	}
	for _, bad := range []string{"", "a b", "x-y", "{{v}}", "a$"} {
		if ValidParameterName(bad) {
			t.Fatalf("expected %q invalid", bad)
		}
	}
}
