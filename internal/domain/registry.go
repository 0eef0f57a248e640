package domain

import (
	"log"
	"sort"
)

// Registry is the effective, ordered activity-type catalog for one
// facility: built-ins, patched by facility overrides, followed by the
// facility's custom types. A Registry is built per request and never
// mutated after construction.
type Registry struct {
	types  []ActivityTypeDefinition
	byCode map[string]ActivityTypeDefinition
}

// FacilityTypeConfig carries the persisted per-facility type records the
// settings surface maintains.
type FacilityTypeConfig struct {
	Overrides []TypeOverride
	Customs   []ActivityTypeDefinition
}

// ResolveRegistry merges the built-in catalog with a facility's
// overrides and custom types. Overrides referencing unknown codes, and
// records that would break the warning-below-max threshold invariant or
// duplicate a code, are logged and skipped rather than failing the
// whole catalog.
func ResolveRegistry(cfg FacilityTypeConfig, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}

	builtins := BuiltinTypes()
	index := make(map[string]int, len(builtins))
	for i, def := range builtins {
		index[def.Code] = i
	}

	for _, ov := range cfg.Overrides {
		i, ok := index[ov.Code]
		if !ok {
			logger.Printf("registry: override for unknown type %q ignored", ov.Code)
			continue
		}
		patched := applyOverride(builtins[i], ov)
		if patched.WarningMinutes >= patched.MaxMinutes {
			logger.Printf("registry: override for %q ignored: warning_minutes %d must be below max_minutes %d",
				ov.Code, patched.WarningMinutes, patched.MaxMinutes)
			continue
		}
		builtins[i] = patched
	}

	// Overrides may change explicit sort order; built-ins otherwise keep
	// their canonical order.
	sort.SliceStable(builtins, func(a, b int) bool {
		return builtins[a].SortOrder < builtins[b].SortOrder
	})

	customs := make([]ActivityTypeDefinition, 0, len(cfg.Customs))
	seen := make(map[string]struct{}, len(builtins))
	for _, def := range builtins {
		seen[def.Code] = struct{}{}
	}
	for _, def := range cfg.Customs {
		if _, dup := seen[def.Code]; dup {
			logger.Printf("registry: custom type %q duplicates an existing code, skipped", def.Code)
			continue
		}
		if def.WarningMinutes >= def.MaxMinutes {
			logger.Printf("registry: custom type %q skipped: warning_minutes %d must be below max_minutes %d",
				def.Code, def.WarningMinutes, def.MaxMinutes)
			continue
		}
		def.IsCustom = true
		seen[def.Code] = struct{}{}
		customs = append(customs, def)
	}

	// Customs order by label unless the facility set an explicit sort
	// order, which always wins.
	sort.SliceStable(customs, func(a, b int) bool {
		ca, cb := customs[a], customs[b]
		switch {
		case ca.SortOrder > 0 && cb.SortOrder > 0:
			return ca.SortOrder < cb.SortOrder
		case ca.SortOrder > 0:
			return true
		case cb.SortOrder > 0:
			return false
		default:
			return ca.Label < cb.Label
		}
	})

	types := append(builtins, customs...)
	byCode := make(map[string]ActivityTypeDefinition, len(types))
	for _, def := range types {
		byCode[def.Code] = def
	}
	return &Registry{types: types, byCode: byCode}
}

func applyOverride(def ActivityTypeDefinition, ov TypeOverride) ActivityTypeDefinition {
	if ov.Label != nil {
		def.Label = *ov.Label
	}
	if ov.Icon != nil {
		def.Icon = *ov.Icon
	}
	if ov.Color != nil {
		def.Color = *ov.Color
	}
	if ov.MaxMinutes != nil {
		def.MaxMinutes = *ov.MaxMinutes
	}
	if ov.WarningMinutes != nil {
		def.WarningMinutes = *ov.WarningMinutes
	}
	if ov.ShowOnBoard != nil {
		def.ShowOnBoard = *ov.ShowOnBoard
	}
	if ov.SortOrder != nil {
		def.SortOrder = *ov.SortOrder
	}
	return def
}

// Types returns the ordered catalog.
func (r *Registry) Types() []ActivityTypeDefinition {
	out := make([]ActivityTypeDefinition, len(r.types))
	copy(out, r.types)
	return out
}

// ByCode looks up a definition in the merged catalog.
func (r *Registry) ByCode(code string) (ActivityTypeDefinition, bool) {
	def, ok := r.byCode[code]
	return def, ok
}
