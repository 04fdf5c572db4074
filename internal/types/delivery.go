package types

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}

// SendInput is a fully rendered email handed to an EmailProvider.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// PushPayload is a fully rendered push message handed to a PushProvider.
type PushPayload struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	ClickAction string            `json:"click_action,omitempty"`
	Priority    Priority          `json:"priority,omitempty"`
}

// UserPreferences holds per-channel opt-ins from the user service.
type UserPreferences struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
}

// UserProfile is the subset of the user service record the pipeline needs.
type UserProfile struct {
	ID          string          `json:"id,omitempty"`
	Email       string          `json:"email,omitempty"`
	PushToken   string          `json:"push_token"`
	Preferences UserPreferences `json:"preferences"`
}

// Template is a message template fetched from the template service.
type Template struct {
	Code        string   `json:"code,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	ImageURL    string   `json:"image_url,omitempty"`
	ClickAction string   `json:"click_action,omitempty"`
	Variables   []string `json:"variables,omitempty"`
}
