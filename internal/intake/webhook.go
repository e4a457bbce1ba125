package intake

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/zulandar/larcrm/internal/conversation"
)

// Location is the sender position some gateways attach to a message.
type Location struct {
	Latitude  *float64
	Longitude *float64
	City      string
	State     string
	Country   string
}

// Label renders city and state as "City, UF", or whichever one is known.
func (l Location) Label() string {
	switch {
	case l.City != "" && l.State != "":
		return l.City + ", " + l.State
	case l.City != "":
		return l.City
	default:
		return l.State
	}
}

// Inbound is a gateway message normalized to one shape.
type Inbound struct {
	From        string
	Body        string
	MessageSID  string
	MediaURL    string
	MediaType   string
	ProfileName string
	Source      string
	Location    Location
}

// FormFields flattens a form body into the map NormalizeWebhook reads.
// Only the first value of each key is kept.
func FormFields(form url.Values) map[string]any {
	out := make(map[string]any, len(form))
	for k, v := range form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// NormalizeWebhook reads a Twilio form payload or an Evolution-style JSON
// payload. Twilio is recognized by its capitalized From or MessageSid keys.
func NormalizeWebhook(fields map[string]any) Inbound {
	if _, ok := fields["From"]; ok {
		return fromTwilio(fields)
	}
	if _, ok := fields["MessageSid"]; ok {
		return fromTwilio(fields)
	}
	return fromEvolution(fields)
}

func fromTwilio(f map[string]any) Inbound {
	in := Inbound{
		From:        str(f["From"]),
		Body:        str(f["Body"]),
		MessageSID:  str(f["MessageSid"]),
		ProfileName: str(f["ProfileName"]),
		Source:      "twilio",
		Location: Location{
			Latitude:  num(f["Latitude"]),
			Longitude: num(f["Longitude"]),
		},
	}
	if in.MessageSID == "" {
		in.MessageSID = str(f["SmsMessageSid"])
	}
	if n, _ := strconv.Atoi(str(f["NumMedia"])); n > 0 {
		in.MediaURL = str(f["MediaUrl0"])
		in.MediaType = str(f["MediaContentType0"])
	}
	return in
}

func fromEvolution(f map[string]any) Inbound {
	in := Inbound{
		From:        str(f["from"]),
		Body:        str(f["message"]),
		MessageSID:  str(f["message_id"]),
		MediaURL:    str(f["media_url"]),
		MediaType:   str(f["media_type"]),
		ProfileName: str(f["profile_name"]),
		Source:      str(f["source"]),
	}
	if in.Source == "" {
		in.Source = "evolution"
	}
	if loc, ok := f["location"].(map[string]any); ok {
		in.Location = Location{
			Latitude:  num(loc["latitude"]),
			Longitude: num(loc["longitude"]),
			City:      str(loc["city"]),
			State:     str(loc["state"]),
			Country:   str(loc["country"]),
		}
	}
	return in
}

// DetectMessageType classifies a message by its media content type.
// Messages without media are text; unknown media is a document.
func DetectMessageType(mediaURL, mediaType string) string {
	if mediaURL == "" {
		return conversation.TypeText
	}
	t := strings.ToLower(mediaType)
	switch {
	case strings.Contains(t, "audio"):
		return conversation.TypeAudio
	case strings.Contains(t, "image"):
		return conversation.TypeImage
	case strings.Contains(t, "video"):
		return conversation.TypeVideo
	default:
		return conversation.TypeDocument
	}
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func num(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &f
		}
	}
	return nil
}
