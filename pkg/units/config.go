package units

import (
	"context"
	"time"

	"github.com/openfroyo/unitrun/pkg/config"
	"github.com/openfroyo/unitrun/pkg/engine"
)

const watchDebounce = 200 * time.Millisecond

func (s *Set) configLoader() (*config.Loader, error) {
	schema, err := config.NewCUEParser().CompileSchema("variables", varSchema)
	if err != nil {
		return nil, err
	}
	return config.NewLoader(s.logger, config.WithSchema(schema)), nil
}

// configInput is what Starlark variable files see as predeclared names.
func configInput(e *engine.Engine) map[string]interface{} {
	return plainVariables(e.Variables())
}

func (s *Set) parseConfig(e *engine.Engine) error {
	path, err := ConfigVar.Get(e)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}

	loader, err := s.configLoader()
	if err != nil {
		return err
	}
	src, err := loader.Load(ContextVar.MustGet(e), path, configInput(e))
	if err != nil {
		return err
	}
	e.SetAll(src.Values)

	s.logger.Info().
		Str("path", src.Path).
		Str("format", string(src.Format)).
		Int("variables", len(src.Values)).
		Msg("Loaded variables")
	return nil
}

func (s *Set) watchConfig(ctx context.Context, e *engine.Engine) (engine.AsyncTeardown, error) {
	enabled, err := WatchConfigVar.Get(e)
	if err != nil || !enabled {
		return nil, err
	}
	path, _ := ConfigVar.Get(e)
	if path == "" {
		s.logger.Warn().Msg("WATCH_CONFIG is set without CONFIG, not watching")
		return nil, nil
	}

	loader, err := s.configLoader()
	if err != nil {
		return nil, err
	}
	watcher := config.NewWatcher(loader, s.logger, watchDebounce)

	watchCtx, cancel := context.WithCancel(ctx)
	reload := func(src *config.Source) error {
		e.SetAll(src.Values)
		return e.TriggerAsync(watchCtx, engine.SignalReloading, true)
	}
	if err := watcher.Watch(watchCtx, path, func() map[string]interface{} { return configInput(e) }, reload); err != nil {
		cancel()
		return nil, err
	}

	return func(context.Context, *engine.Engine) error {
		cancel()
		err := watcher.Close()
		watcher.Wait()
		return err
	}, nil
}

// plainVariables keeps the values a variable file can express.
func plainVariables(vars map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		if plain, ok := plainValue(v); ok {
			out[k] = plain
		}
	}
	return out
}

func plainValue(v any) (interface{}, bool) {
	switch val := v.(type) {
	case nil, bool, string, int, int64, float64:
		return val, true
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			if plain, ok := plainValue(item); ok {
				out = append(out, plain)
			}
		}
		return out, true
	case map[string]interface{}:
		return plainVariables(val), true
	default:
		return nil, false
	}
}
