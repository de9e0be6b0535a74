// Package types holds the wire forms shared by the engine, the event index and
// the HTTP API.
package types

import "strings"

// Event is the flattened, string-keyed form of an engine event.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute or "" when absent.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Participants names the two accounts an event touches, lowercased. Account
// events pair the subject with the liquidator or, failing that, the payer;
// transfers pair the sender with the receiver.
func (e *Event) Participants() (string, string) {
	if account := e.Attr("account"); account != "" {
		counterparty := e.Attr("liquidator")
		if counterparty == "" {
			counterparty = e.Attr("payer")
		}
		return strings.ToLower(account), strings.ToLower(counterparty)
	}
	return strings.ToLower(e.Attr("from")), strings.ToLower(e.Attr("to"))
}
