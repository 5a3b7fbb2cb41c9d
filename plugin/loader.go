package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadErrorKind classifies a plugin set that cannot be started
type LoadErrorKind int

const (
	LoadErrorDuplicateID LoadErrorKind = iota
	LoadErrorMissingEntry
	LoadErrorMissingDependency
	LoadErrorDependencyCycle
	LoadErrorProtocolVersion
)

func (k LoadErrorKind) String() string {
	switch k {
	case LoadErrorDuplicateID:
		return "DuplicateID"
	case LoadErrorMissingEntry:
		return "MissingEntry"
	case LoadErrorMissingDependency:
		return "MissingDependency"
	case LoadErrorDependencyCycle:
		return "DependencyCycle"
	case LoadErrorProtocolVersion:
		return "ProtocolVersion"
	default:
		return "Unknown"
	}
}

// LoadError is a fatal problem found while planning a load. It is always
// reported before any plugin process is spawned.
type LoadError struct {
	Kind     LoadErrorKind
	PluginID string
	Path     string
	Detail   string
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case LoadErrorDuplicateID:
		return fmt.Sprintf("duplicate plugin id %q (%s)", e.PluginID, e.Path)
	case LoadErrorMissingEntry:
		return fmt.Sprintf("plugin %q entry not found: %s", e.PluginID, e.Path)
	case LoadErrorMissingDependency:
		return fmt.Sprintf("plugin %q requires missing plugin %q", e.PluginID, e.Detail)
	case LoadErrorDependencyCycle:
		return fmt.Sprintf("plugin dependency cycle: %s", e.Detail)
	case LoadErrorProtocolVersion:
		return fmt.Sprintf("plugin %q does not support protocol version: %s", e.PluginID, e.Detail)
	default:
		return fmt.Sprintf("plugin %q failed to load: %s", e.PluginID, e.Detail)
	}
}

// Is matches another LoadError of the same kind
func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	return ok && t.Kind == e.Kind && (t.PluginID == "" || t.PluginID == e.PluginID)
}

// Plan validates the discovered plugins as a set and returns them in
// startup order: every plugin comes after the plugins it depends on, and
// otherwise keeps its discovery order. All problems are collected and
// returned together.
func Plan(discovered []Discovered, protocolVersion int) ([]Discovered, error) {
	var errs []error
	byID := make(map[string]int, len(discovered))
	for i, d := range discovered {
		id := d.Info.ID
		if _, dup := byID[id]; dup {
			errs = append(errs, &LoadError{Kind: LoadErrorDuplicateID, PluginID: id, Path: d.Dir})
			continue
		}
		byID[id] = i

		entry := d.EntryPath()
		if st, err := os.Stat(entry); err != nil || st.IsDir() {
			errs = append(errs, &LoadError{Kind: LoadErrorMissingEntry, PluginID: id, Path: entry})
		}
		if !d.Info.SupportsProtocol(protocolVersion) {
			errs = append(errs, &LoadError{
				Kind:     LoadErrorProtocolVersion,
				PluginID: id,
				Detail: fmt.Sprintf("host speaks %d, plugin accepts %d..%d",
					protocolVersion, d.Info.MinProtocolVersion, d.Info.MaxProtocolVersion),
			})
		}
	}

	for _, d := range discovered {
		for _, dep := range d.Info.Dependencies {
			if _, ok := byID[dep.ID]; !ok && dep.Required {
				errs = append(errs, &LoadError{Kind: LoadErrorMissingDependency, PluginID: d.Info.ID, Detail: dep.ID})
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return order(discovered, byID)
}

const (
	unvisited = iota
	visiting
	visited
)

// order is a depth-first topological sort over present dependencies
func order(discovered []Discovered, byID map[string]int) ([]Discovered, error) {
	state := make([]int, len(discovered))
	out := make([]Discovered, 0, len(discovered))
	var stack []string

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visited:
			return nil
		case visiting:
			id := discovered[i].Info.ID
			start := 0
			for j, s := range stack {
				if s == id {
					start = j
				}
			}
			cycle := append(append([]string{}, stack[start:]...), id)
			return &LoadError{Kind: LoadErrorDependencyCycle, PluginID: id, Detail: strings.Join(cycle, " -> ")}
		}
		state[i] = visiting
		stack = append(stack, discovered[i].Info.ID)
		for _, dep := range discovered[i].Info.Dependencies {
			j, ok := byID[dep.ID]
			if !ok {
				continue
			}
			if err := visit(j); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = visited
		out = append(out, discovered[i])
		return nil
	}

	for i := range discovered {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Load plans the discovered plugins and launches them in startup order.
// If any launch fails, the bridges already started are closed.
func Load(ctx context.Context, discovered []Discovered, opts LaunchOptions) (*Set, error) {
	planned, err := Plan(discovered, opts.protocolVersion())
	if err != nil {
		return nil, err
	}

	set := NewSet()
	for _, d := range planned {
		bridge, err := Launch(ctx, d, opts)
		if err != nil {
			closeErr := set.Close()
			return nil, errors.Join(fmt.Errorf("launch plugin %q: %w", d.Info.ID, err), closeErr)
		}
		if err := set.Add(bridge); err != nil {
			return nil, errors.Join(err, bridge.Close(), set.Close())
		}
	}
	return set, nil
}
