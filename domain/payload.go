package domain

// Payload is the JSON object handed to the push delivery mechanism.
type Payload map[string]any

// MergeFields returns a new map holding base overlaid with override. Keys
// present in both take the override value. Neither input is modified.
func MergeFields(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// AlertPayload builds {"aps": {"alert": message, ...extra}}. Entries in extra
// replace the alert key when they collide.
func AlertPayload(message string, extra map[string]any) Payload {
	aps := MergeFields(map[string]any{"alert": message}, extra)
	return Payload{"aps": aps}
}
