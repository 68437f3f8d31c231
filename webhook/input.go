package webhook

// Input is the create/update payload for webhook configs. On update, nil
// fields are left unchanged.
type Input struct {
	Name        *string           `json:"name,omitempty"`
	URL         *string           `json:"url,omitempty"`
	Description *string           `json:"description,omitempty"`
	Events      []string          `json:"events,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutMs   *int              `json:"timeout_ms,omitempty"`
	MaxRetries  *int              `json:"max_retries,omitempty"`
	RateLimit   *int              `json:"rate_limit,omitempty"`
}

// Ptr returns a pointer to v. It keeps Input literals short.
func Ptr[T any](v T) *T { return &v }
