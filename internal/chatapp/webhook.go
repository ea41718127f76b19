package chatapp

import (
	"encoding/json"
	"net/url"

	"github.com/medagenda/citas-ai-platform/internal/phone"
)

// Message types the engine understands. Anything else parses to nil and is
// acknowledged without processing.
const (
	TypeText        = "text"
	TypeInteractive = "interactive"
	TypeImage       = "image"
)

// InboundMessage is the flattened view of one webhook message.
type InboundMessage struct {
	MessageID     string
	From          string // canonical phone
	PhoneNumberID string // tenant routing key
	Type          string
	Text          string // text body, or the tapped button's title
	ButtonID      string
	ButtonTitle   string
	ProfileName   string
	ImageID       string
}

// VerifyChallenge answers the webhook subscription handshake. It returns the
// challenge to echo and whether the token matched.
func VerifyChallenge(query url.Values, verifyToken string) (string, bool) {
	if query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if verifyToken == "" || query.Get("hub.verify_token") != verifyToken {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// webhookEnvelope mirrors Meta's nested webhook payload.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID          string `json:"id"`
					From        string `json:"from"`
					Type        string `json:"type"`
					Text        struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						Type        string `json:"type"`
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
					} `json:"interactive"`
					Image struct {
						ID string `json:"id"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook extracts the messages from a webhook POST body. Status-only
// deliveries and unsupported message types yield no entries.
func ParseWebhook(payload []byte) ([]InboundMessage, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}

	var messages []InboundMessage
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			profileName := ""
			if len(value.Contacts) > 0 {
				profileName = value.Contacts[0].Profile.Name
			}
			for _, raw := range value.Messages {
				msg := InboundMessage{
					MessageID:     raw.ID,
					From:          phone.Canonicalize(raw.From),
					PhoneNumberID: value.Metadata.PhoneNumberID,
					Type:          raw.Type,
					ProfileName:   profileName,
				}
				switch raw.Type {
				case TypeText:
					msg.Text = raw.Text.Body
				case TypeInteractive:
					msg.ButtonID = raw.Interactive.ButtonReply.ID
					msg.ButtonTitle = raw.Interactive.ButtonReply.Title
					// The tapped title doubles as text so keyword routing
					// works on button replies too.
					msg.Text = raw.Interactive.ButtonReply.Title
				case TypeImage:
					msg.ImageID = raw.Image.ID
				default:
					continue
				}
				messages = append(messages, msg)
			}
		}
	}
	return messages, nil
}
