package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/praxishq/praxis/pkg/core"
)

// Loader describes one category whose tools are produced by a (possibly
// slow) loading function, e.g. a provider discovery call.
type Loader struct {
	Name               string
	Space              string
	RequiresConnection bool
	Delegated          bool
	CoreTools          []string
	Load               func(ctx context.Context) ([]core.Tool, error)
}

// LoadAll runs every loader concurrently and registers the resulting
// categories. Independent categories load in parallel and join before the
// catalog is considered ready. A failing loader does not prevent the others
// from registering; all failures are joined into the returned error.
func (c *Catalog) LoadAll(ctx context.Context, loaders []Loader) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, l := range loaders {
		wg.Add(1)
		go func(l Loader) {
			defer wg.Done()

			tools, err := l.Load(ctx)
			if err != nil {
				slog.Warn("category load failed",
					slog.String("category", l.Name),
					slog.String("space", l.Space),
					slog.Any("error", err),
				)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}

			opts := make([]CategoryOption, 0, 3)
			if l.RequiresConnection {
				opts = append(opts, RequiresConnection())
			}
			if l.Delegated {
				opts = append(opts, Delegated())
			}
			if len(l.CoreTools) > 0 {
				opts = append(opts, CoreTools(l.CoreTools...))
			}

			mu.Lock()
			defer mu.Unlock()
			if err := c.AddCategory(l.Name, tools, l.Space, opts...); err != nil {
				errs = append(errs, err)
			}
		}(l)
	}

	wg.Wait()
	return errors.Join(errs...)
}
