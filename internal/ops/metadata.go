package ops

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// mergeMetadata implements the shallow merge law: top-level keys in new
// overwrite old, unset keys in new fall through to old, and nested objects
// are replaced wholesale rather than deep-merged.
func mergeMetadata(old, next map[string]any) map[string]any {
	if len(next) == 0 {
		return old
	}
	out := make(map[string]any, len(old)+len(next))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

// resolveMetadata computes the new metadata value for an UPDATE_* command
// from whichever of metadata/merge_metadata/metadata_patch were supplied.
// A nil newRaw (the field was absent from the payload) and a nil patchRaw
// both mean "leave metadata untouched" and are signalled by returning
// (nil, false, nil).
func resolveMetadata(old map[string]any, newRaw json.RawMessage, patchRaw json.RawMessage, merge *bool) (map[string]any, bool, error) {
	if len(patchRaw) > 0 {
		patched, err := applyMetadataPatch(old, patchRaw)
		if err != nil {
			return nil, false, err
		}
		return patched, true, nil
	}

	if len(newRaw) == 0 {
		return nil, false, nil
	}

	// An explicit JSON null is distinct from an absent field: it clears the
	// column outright rather than leaving it untouched or being merged away
	// as a no-op change.
	if string(bytes.TrimSpace(newRaw)) == "null" {
		return map[string]any{}, true, nil
	}

	var next map[string]any
	if err := json.Unmarshal(newRaw, &next); err != nil {
		return nil, false, fmt.Errorf("decode metadata: %w", err)
	}
	if next == nil {
		next = map[string]any{}
	}

	if merge != nil && !*merge {
		return next, true, nil
	}
	return mergeMetadata(old, next), true, nil
}

func applyMetadataPatch(old map[string]any, patchRaw json.RawMessage) (map[string]any, error) {
	oldJSON, err := json.Marshal(old)
	if err != nil {
		return nil, fmt.Errorf("marshal existing metadata: %w", err)
	}

	patch, err := jsonpatch.DecodePatch(patchRaw)
	if err != nil {
		return nil, fmt.Errorf("decode metadata_patch: %w", err)
	}

	newJSON, err := patch.Apply(oldJSON)
	if err != nil {
		return nil, fmt.Errorf("apply metadata_patch: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(newJSON, &out); err != nil {
		return nil, fmt.Errorf("decode patched metadata: %w", err)
	}
	return out, nil
}
