// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package modifier

// Modifier is a named packet-rewriter plug-in. Rules with action "modify"
// reference one by name; the ruleset compiler instantiates it with the
// rule's named arguments.
type Modifier interface {
	Name() string
	// New builds an instance from rule arguments. Invalid arguments are a
	// configuration error and abort rule compilation.
	New(args map[string]any) (Instance, error)
}

// Instance is a compiled modifier bound to one rule.
type Instance interface {
	// Process rewrites one packet payload. The returned slice may alias
	// the input. An error leaves the packet unmodified.
	Process(data []byte) ([]byte, error)
}
