package model

// ParsedMessage is the backend's structured view of a trade message.
type ParsedMessage struct {
	MessageType string            `json:"messageType"`
	Fields      map[string]string `json:"parsedData"`
	FieldCount  int               `json:"fieldCount"`
}

// ValidationResult is the backend's verdict on a trade message.
type ValidationResult struct {
	Valid       bool     `json:"isValid"`
	MessageType string   `json:"messageType"`
	Details     string   `json:"validationDetails,omitempty"`
	Errors      []string `json:"errors"`
}
