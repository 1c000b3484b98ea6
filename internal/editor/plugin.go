package editor

import (
	"fmt"
	"plugin"

	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

// LoadParserModule loads a Go plugin that exports RegisterModelParsers
// and lets it install parsers into reg. The export may take the target
// registry or install into the process default on its own.
func LoadParserModule(path string, reg *model.Registry) error {
	if path == "" {
		return fmt.Errorf("load_model_parser_module requires a path")
	}
	mod, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("open parser module %s: %w", path, err)
	}
	sym, err := mod.Lookup("RegisterModelParsers")
	if err != nil {
		return fmt.Errorf("parser module %s does not export RegisterModelParsers: %w", path, err)
	}
	switch fn := sym.(type) {
	case func(*model.Registry):
		fn(reg)
	case func(*model.Registry) error:
		if err := fn(reg); err != nil {
			return fmt.Errorf("parser module %s: %w", path, err)
		}
	case func():
		fn()
	default:
		return fmt.Errorf("parser module %s: RegisterModelParsers has unsupported signature %T", path, sym)
	}
	return nil
}
