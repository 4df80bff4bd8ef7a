package domain

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// BootedSimulator is the instance id meaning "whichever simulator is booted".
const BootedSimulator = "booted"

// PushRequest asks the relay to deliver a simulated push notification.
type PushRequest struct {
	SimulatorID string                 `json:"simulatorId"`
	AppBundleID string                 `json:"appBundleId"`
	PushPayload sonic.NoCopyRawMessage `json:"pushPayload"`
}

// UpdateDefaultsRequest asks the relay to write preference values.
type UpdateDefaultsRequest struct {
	SimulatorID string           `json:"simulatorId"`
	AppBundleID string           `json:"appBundleId"`
	Defaults    map[string]Value `json:"defaults"`
}

// DeleteDefaultsRequest asks the relay to remove preference keys.
type DeleteDefaultsRequest struct {
	SimulatorID string   `json:"simulatorId"`
	AppBundleID string   `json:"appBundleId"`
	Keys        []string `json:"keys"`
}

// NewPushRequest encodes payload once and wraps it in a PushRequest.
func NewPushRequest(simulatorID, appBundleID string, payload Payload) (PushRequest, error) {
	raw, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return PushRequest{}, fmt.Errorf("encode push payload: %w", err)
	}
	return PushRequest{SimulatorID: simulatorID, AppBundleID: appBundleID, PushPayload: raw}, nil
}

// NewUpdateDefaultsRequest copies defaults so later caller mutation does not
// leak into the request.
func NewUpdateDefaultsRequest(simulatorID, appBundleID string, defaults map[string]Value) UpdateDefaultsRequest {
	cp := make(map[string]Value, len(defaults))
	for k, v := range defaults {
		cp[k] = v
	}
	return UpdateDefaultsRequest{SimulatorID: simulatorID, AppBundleID: appBundleID, Defaults: cp}
}

func NewDeleteDefaultsRequest(simulatorID, appBundleID string, keys []string) DeleteDefaultsRequest {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return DeleteDefaultsRequest{SimulatorID: simulatorID, AppBundleID: appBundleID, Keys: cp}
}

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// checkArgument rejects values that cannot be passed as a positional
// argument to the external tool.
func checkArgument(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if strings.HasPrefix(value, "-") {
		return &ValidationError{Field: field, Reason: "must not start with '-'"}
	}
	if strings.ContainsRune(value, 0) {
		return &ValidationError{Field: field, Reason: "must not contain NUL"}
	}
	return nil
}

func checkTarget(simulatorID, appBundleID string) error {
	if err := checkArgument("simulatorId", simulatorID); err != nil {
		return err
	}
	return checkArgument("appBundleId", appBundleID)
}

func (r PushRequest) Validate() error {
	if err := checkTarget(r.SimulatorID, r.AppBundleID); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(r.PushPayload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &ValidationError{Field: "pushPayload", Reason: "must be a JSON object"}
	}
	return nil
}

func (r UpdateDefaultsRequest) Validate() error {
	if err := checkTarget(r.SimulatorID, r.AppBundleID); err != nil {
		return err
	}
	if r.Defaults == nil {
		return &ValidationError{Field: "defaults", Reason: "is required"}
	}
	for key, v := range r.Defaults {
		if err := checkArgument("defaults key", key); err != nil {
			return err
		}
		if v.Kind() == 0 {
			return &ValidationError{Field: "defaults." + key, Reason: "has no value"}
		}
	}
	return nil
}

func (r DeleteDefaultsRequest) Validate() error {
	if err := checkTarget(r.SimulatorID, r.AppBundleID); err != nil {
		return err
	}
	if r.Keys == nil {
		return &ValidationError{Field: "keys", Reason: "is required"}
	}
	for _, key := range r.Keys {
		if err := checkArgument("keys", key); err != nil {
			return err
		}
	}
	return nil
}

// DistinctKeys returns the keys with duplicates removed, keeping the first
// occurrence of each.
func (r DeleteDefaultsRequest) DistinctKeys() []string {
	seen := make(map[string]struct{}, len(r.Keys))
	out := make([]string, 0, len(r.Keys))
	for _, k := range r.Keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
