// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"encoding/json"
	"fmt"
)

const (
	maxStringLen = 2048
	maxSeqItems  = 25
)

// truncateString clips s to maxStringLen, appending an ellipsis sentinel.
func truncateString(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	return s[:maxStringLen] + "...(truncated)"
}

// truncateSequence clips a slice attribute value to maxSeqItems, appending a
// "...(+N more)" sentinel describing the dropped count.
func truncateSequence(items []any) []any {
	if len(items) <= maxSeqItems {
		return items
	}
	out := make([]any, maxSeqItems+1)
	copy(out, items[:maxSeqItems])
	out[maxSeqItems] = fmt.Sprintf("...(+%d more)", len(items)-maxSeqItems)
	return out
}

// truncateAttribute normalises a raw attribute value into a span-safe form:
// strings are length-clipped, sequences item-clipped, mappings serialized
// to JSON (falling back to fmt.Sprintf on marshal failure).
func truncateAttribute(v any) any {
	switch val := v.(type) {
	case string:
		return truncateString(val)
	case []any:
		return truncateSequence(val)
	case map[string]any:
		raw, err := json.Marshal(val)
		if err != nil {
			return truncateString(fmt.Sprintf("%v", val))
		}
		return truncateString(string(raw))
	default:
		return v
	}
}
