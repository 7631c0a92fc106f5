package authz

import (
	"fmt"
	"path/filepath"
	"plugin"
	"strings"

	"sysdispatch/internal/ruledb"
)

// pluginMain is the symbol every authorization plugin must export,
// mirroring the original's `main(argc, argv, out_msg)` contract: it
// receives the parameter's remaining values and returns 1 to allow.
type pluginMain func(args []string) (ok bool, msg string)

// CheckPlugins implements the `%name` plugin check (§4.6): each
// parameter whose name starts with `%` loads a Go plugin (.so) from
// pluginsDir, resolves a `Main` symbol matching pluginMain, and invokes
// it with the parameter's values. The first failing plugin
// short-circuits, naming itself in the returned error.
func CheckPlugins(r *ruledb.Rule, pluginsDir string) error {
	for _, p := range r.Params {
		if !strings.HasPrefix(p.Name, "%") {
			continue
		}
		name := strings.TrimPrefix(p.Name, "%")
		ok, msg, err := runPlugin(pluginsDir, name, p.Values)
		if err != nil {
			return deny("plugins", "plugin %q failed to load: %v", name, err)
		}
		if !ok {
			if msg == "" {
				msg = "rejected by plugin"
			}
			return deny("plugins", "%s: %s", name, msg)
		}
	}
	return nil
}

func runPlugin(dir, name string, args []string) (ok bool, msg string, err error) {
	path := filepath.Join(dir, name+".so")
	p, err := plugin.Open(path)
	if err != nil {
		return false, "", fmt.Errorf("open %s: %w", path, err)
	}
	sym, err := p.Lookup("Main")
	if err != nil {
		return false, "", fmt.Errorf("lookup Main in %s: %w", path, err)
	}
	// Go plugin symbols carry their exact (unnamed) function type, so the
	// assertion must match it structurally rather than via pluginMain.
	fn, ok := sym.(func([]string) (bool, string))
	if !ok {
		return false, "", fmt.Errorf("%s: Main has unexpected signature", path)
	}
	allowed, message := fn(args)
	return allowed, message, nil
}
