package domain

// CommandResult is the outcome of one external tool invocation, reported per
// preference key (or per push) when a request did not fully succeed.
type CommandResult struct {
	Key       string `json:"key,omitempty"`
	Command   string `json:"command"`
	Succeeded bool   `json:"succeeded"`
	ExitCode  int    `json:"exitCode"`
	TimedOut  bool   `json:"timedOut,omitempty"`
	Output    string `json:"output,omitempty"`
}

// FailureResponse is the JSON body the relay answers with when at least one
// command failed.
type FailureResponse struct {
	Error   string          `json:"error"`
	Results []CommandResult `json:"results"`
}

// Failed returns the results that did not succeed.
func (r FailureResponse) Failed() []CommandResult {
	var out []CommandResult
	for _, res := range r.Results {
		if !res.Succeeded {
			out = append(out, res)
		}
	}
	return out
}
