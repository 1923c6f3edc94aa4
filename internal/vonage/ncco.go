package vonage

// NCCO is an ordered list of call control actions returned from an answer
// webhook. It is the provider's command vocabulary for a leg that just
// connected.
type NCCO []Action

// Action is a single NCCO instruction. Only the fields of the talk and
// conversation actions used by this application are modeled.
type Action struct {
	Action       string `json:"action"`
	Text         string `json:"text,omitempty"`
	Language     string `json:"language,omitempty"`
	Style        int    `json:"style,omitempty"`
	Name         string `json:"name,omitempty"`
	StartOnEnter *bool  `json:"startOnEnter,omitempty"`
	EndOnExit    *bool  `json:"endOnExit,omitempty"`
}

// Talk builds a talk action with the voice settings used across all flows
func Talk(text string) Action {
	return Action{
		Action:   "talk",
		Text:     text,
		Language: "en-US",
		Style:    11,
	}
}

// Conversation builds a conversation action joining the named conference
func Conversation(name string, startOnEnter, endOnExit bool) Action {
	return Action{
		Action:       "conversation",
		Name:         name,
		StartOnEnter: boolPtr(startOnEnter),
		EndOnExit:    boolPtr(endOnExit),
	}
}

func boolPtr(b bool) *bool { return &b }
