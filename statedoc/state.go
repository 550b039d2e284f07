package statedoc

import (
	"encoding/json"
	"sort"
)

// CallbackState records what GitHub sent to the setup callback URL.
type CallbackState struct {
	CallbackCode    string   `json:"callback_code"`
	InstallationIDs []string `json:"installation_ids"`
}

// AddInstallation records id once, keeping the list sorted.
func (s *CallbackState) AddInstallation(id string) {
	i := sort.SearchStrings(s.InstallationIDs, id)
	if i < len(s.InstallationIDs) && s.InstallationIDs[i] == id {
		return
	}
	s.InstallationIDs = append(s.InstallationIDs, "")
	copy(s.InstallationIDs[i+1:], s.InstallationIDs[i:])
	s.InstallationIDs[i] = id
}

// WebhookState holds the most recent webhook delivery, stored opaquely.
type WebhookState struct {
	Received     int             `json:"received"`
	LastEvent    string          `json:"last_event,omitempty"`
	LastDelivery string          `json:"last_delivery,omitempty"`
	LastPayload  json.RawMessage `json:"last_payload,omitempty"`
}
