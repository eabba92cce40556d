package locale

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"AstroBot/internal/lib/jsoncodec"
)

// Bundles maps a language code to its flattened key -> template table.
type Bundles map[string]map[string]string

// Loader produces a complete set of bundles.
type Loader interface {
	Load(ctx context.Context) (Bundles, error)
}

// DirLoader reads one <lang>.json file per language from Dir.
type DirLoader struct {
	Dir string
}

func (l DirLoader) Load(ctx context.Context) (Bundles, error) {
	files, err := filepath.Glob(filepath.Join(l.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing bundles: %w", err)
	}
	sort.Strings(files)

	bundles := make(Bundles, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lang := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading bundle %s: %w", path, err)
		}
		flat, err := ParseBundle(data)
		if err != nil {
			return nil, fmt.Errorf("parsing bundle %s: %w", path, err)
		}
		bundles[lang] = flat
	}
	return bundles, nil
}

// MapLoader serves fixed bundles; used by tests and the CLI.
type MapLoader Bundles

func (l MapLoader) Load(_ context.Context) (Bundles, error) {
	return Bundles(l), nil
}

// ParseBundle flattens a nested JSON object into dotted keys.
// Every leaf must be a string.
func ParseBundle(data []byte) (map[string]string, error) {
	var root map[string]any
	if err := jsoncodec.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	flat := make(map[string]string)
	if err := flatten("", root, flat); err != nil {
		return nil, err
	}
	return flat, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) error {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			if err := flatten(key, val, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("key %q: leaf must be a string, got %T", key, v)
		}
	}
	return nil
}
