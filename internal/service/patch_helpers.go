package service

import (
	"encoding/json"
	"fmt"
)

type mergePatch map[string]any

type unknownFieldMessage func(field string) string

// parseMergePatch parses the constrained PATCH body format:
//   - only a JSON object is accepted;
//   - the object must be non-empty;
//   - null field values are rejected in validateFields.
func parseMergePatch(patchJSON json.RawMessage) (mergePatch, *ServiceError) {
	var patch map[string]any
	if err := json.Unmarshal(patchJSON, &patch); err != nil {
		return nil, invalidArg("invalid JSON: " + err.Error())
	}
	if len(patch) == 0 {
		return nil, invalidArg("empty patch")
	}
	return mergePatch(patch), nil
}

func (p mergePatch) validateFields(allowed map[string]bool, unknownMsg unknownFieldMessage) *ServiceError {
	for key, val := range p {
		if !allowed[key] {
			return invalidArg(unknownMsg(key))
		}
		if val == nil {
			return invalidArg(fmt.Sprintf("null value not allowed for field: %q", key))
		}
	}
	return nil
}

func (p mergePatch) optionalBool(field string) (*bool, *ServiceError) {
	raw, ok := p[field]
	if !ok {
		return nil, nil
	}
	value, ok := raw.(bool)
	if !ok {
		return nil, invalidArg(fmt.Sprintf("%s: must be a boolean", field))
	}
	return &value, nil
}
