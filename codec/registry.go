package codec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

var registry = xsync.NewMapOf[string, *Grammar]()

func init() {
	Register(IPS120())
	Register(ITC503())
	Register(ILM211())
}

// Register adds g under its model name, replacing any grammar of that name.
func Register(g *Grammar) {
	registry.Store(strings.ToUpper(g.Model()), g)
}

// Lookup returns the grammar registered for model, ignoring case.
func Lookup(model string) (*Grammar, error) {
	g, ok := registry.Load(strings.ToUpper(strings.TrimSpace(model)))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	return g, nil
}

// Detect returns the grammar whose identity best matches a version reply.
func Detect(identity string) (*Grammar, error) {
	var (
		best    *Grammar
		bestLen int
	)
	registry.Range(func(_ string, g *Grammar) bool {
		n := g.matchLen(identity)
		if n > bestLen || (n == bestLen && n > 0 && g.Model() < best.Model()) {
			best, bestLen = g, n
		}
		return true
	})
	if best == nil {
		return nil, fmt.Errorf("%w: identity %q", ErrUnknownModel, identity)
	}

	return best, nil
}

// Models returns the registered model names in order.
func Models() []string {
	var names []string
	registry.Range(func(_ string, g *Grammar) bool {
		names = append(names, g.Model())
		return true
	})
	slices.Sort(names)

	return names
}
