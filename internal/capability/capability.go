// Package capability binds configured capabilities to their implementations.
package capability

import (
	"fmt"

	"restorebench/internal/config"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
	"restorebench/internal/services/builtin"
	"restorebench/internal/services/command"
)

// Set holds the capabilities one run needs. Restore is indexed by
// restoration slot (restore_a = 0, restore_b = 1).
type Set struct {
	Degrade services.Degrader
	Restore []services.Restorer
	Score   services.Scorer
}

// Restorer returns the restorer bound to slot.
func (s *Set) Restorer(slot int) (services.Restorer, error) {
	if slot < 0 || slot >= len(s.Restore) || s.Restore[slot] == nil {
		return nil, fmt.Errorf("no restorer bound to slot %d", slot)
	}
	return s.Restore[slot], nil
}

// FromConfig builds the capability set. Command options are passed to every
// command-backed capability.
func FromConfig(cfg *config.Config, opts ...command.Option) (*Set, error) {
	set := &Set{}

	degrade, err := build(cfg.Degrade.Capability, opts)
	if err != nil {
		return nil, bindError("degrade", err)
	}
	d, ok := degrade.(services.Degrader)
	if !ok {
		return nil, bindError("degrade", fmt.Errorf("%s cannot degrade", cfg.Degrade.Capability.Describe()))
	}
	set.Degrade = d

	for _, method := range cfg.Methods {
		impl, err := build(method.Capability, opts)
		if err != nil {
			return nil, bindError("methods."+method.Name, err)
		}
		r, ok := impl.(services.Restorer)
		if !ok {
			return nil, bindError("methods."+method.Name, fmt.Errorf("%s cannot restore", method.Capability.Describe()))
		}
		set.Restore = append(set.Restore, r)
	}

	score, err := build(cfg.Score.Capability, opts)
	if err != nil {
		return nil, bindError("score", err)
	}
	sc, ok := score.(services.Scorer)
	if !ok {
		return nil, bindError("score", fmt.Errorf("%s cannot score", cfg.Score.Capability.Describe()))
	}
	set.Score = sc
	return set, nil
}

// Binaries lists the external programs the configured capabilities invoke,
// without duplicates, in configuration order.
func Binaries(cfg *config.Config) []string {
	seen := map[string]bool{}
	var out []string
	add := func(c config.Capability) {
		if !c.IsCommand() || seen[c.Command[0]] {
			return
		}
		seen[c.Command[0]] = true
		out = append(out, c.Command[0])
	}
	add(cfg.Degrade.Capability)
	for _, method := range cfg.Methods {
		add(method.Capability)
	}
	add(cfg.Score.Capability)
	return out
}

// Descriptors names the implementation bound to each capability slot for
// provenance.
func Descriptors(cfg *config.Config) map[string]string {
	out := map[string]string{
		"degrade": cfg.Degrade.Capability.Describe(),
		"score":   cfg.Score.Capability.Describe(),
	}
	for slot, method := range cfg.Methods {
		if id, ok := pipeline.RestoreStage(slot); ok {
			out[string(id)] = method.Name + "=" + method.Capability.Describe()
		}
	}
	return out
}

func build(c config.Capability, opts []command.Option) (services.Capability, error) {
	if c.IsCommand() {
		return command.New(c.Command, c.TimeoutSeconds, opts...)
	}
	switch c.Builtin {
	case "copy":
		return builtin.Copy{}, nil
	case "byte_match":
		return builtin.ByteMatch{}, nil
	default:
		return nil, fmt.Errorf("unknown builtin %q", c.Builtin)
	}
}

func bindError(field string, err error) error {
	return services.Wrap(services.ErrConfiguration, "capability", "bind "+field, "Capability could not be constructed", err)
}
