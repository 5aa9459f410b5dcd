package services

import (
	"github.com/caseflow-io/caseflow-engine/pkg/jsonutil"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// NormalizeOptions coerces a source dropdown/multiselect option list into the
// canonical shape. The input is either a bare list of strings or a list of
// option objects with arbitrary key spellings. Declared order is preserved
// and re-indexed densely; exactly one option ends up marked default, falling
// back to the first when the source marked none.
func NormalizeOptions(v any) []models.DropdownOption {
	items, ok := jsonutil.AsArray(v)
	if !ok {
		return nil
	}

	var out []models.DropdownOption
	for _, item := range items {
		if name, ok := item.(string); ok {
			out = append(out, models.DropdownOption{Name: name, IsEnabled: true})
			continue
		}

		obj, ok := jsonutil.AsObject(item)
		if !ok {
			continue
		}

		opt := models.DropdownOption{IsEnabled: true}
		opt.Name, _ = jsonutil.StringKey(obj, "name", "label", "value", "displayName", "display_name", "title")
		if opt.Name == "" {
			continue
		}
		if id, ok := jsonutil.Int64Key(obj, "iconId", "icon_id", "icon"); ok {
			opt.IconID = &id
		}
		if id, ok := jsonutil.Int64Key(obj, "iconColorId", "icon_color_id", "colorId", "color_id", "color"); ok {
			opt.IconColorID = &id
		}
		if b, ok := jsonutil.BoolKey(obj, "isEnabled", "is_enabled", "enabled"); ok {
			opt.IsEnabled = b
		}
		if b, ok := jsonutil.BoolKey(obj, "isDefault", "is_default", "default"); ok {
			opt.IsDefault = b
		}
		out = append(out, opt)
	}

	return finalizeOptions(out)
}

// finalizeOptions re-indexes densely and enforces the single-default
// invariant: the first marked default wins, and when none is marked the first
// option becomes the default.
func finalizeOptions(opts []models.DropdownOption) []models.DropdownOption {
	if len(opts) == 0 {
		return nil
	}

	defaultSeen := false
	for i := range opts {
		opts[i].Order = i
		if opts[i].IsDefault {
			if defaultSeen {
				opts[i].IsDefault = false
			}
			defaultSeen = true
		}
	}
	if !defaultSeen {
		opts[0].IsDefault = true
	}
	return opts
}
