// Package whatsapp models WhatsApp Cloud API webhook payloads and wraps the
// Graph API calls needed to fetch media and reply to senders.
package whatsapp

// Message types and product names used in webhook payloads.
const (
	ProductWhatsApp  = "whatsapp"
	FieldMessages    = "messages"
	MessageTypeImage = "image"
	MessageTypeText  = "text"
)

// Payload is the body Meta posts to the webhook.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one WhatsApp Business Account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single notification inside an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages of a change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
}

// Metadata identifies the business phone number that received the message.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact describes the sender profile.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is an inbound message. Only the fields this service reads are modeled.
type Message struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Image     *MediaRef `json:"image,omitempty"`
	Text      *TextBody `json:"text,omitempty"`
}

// MediaRef points at an uploaded attachment.
type MediaRef struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// TextBody is the content of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// InboundImage is an image message together with the business number it was sent to.
type InboundImage struct {
	PhoneNumberID string
	Message       Message
}

// MediaID returns the attachment ID or an empty string.
func (m Message) MediaID() string {
	if m.Image == nil {
		return ""
	}
	return m.Image.ID
}

// ImageMessages returns every image message carried by whatsapp changes, in
// payload order. Messages without a media ID are skipped.
func (p Payload) ImageMessages() []InboundImage {
	var images []InboundImage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Value.MessagingProduct != ProductWhatsApp {
				continue
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != MessageTypeImage || msg.MediaID() == "" {
					continue
				}
				images = append(images, InboundImage{
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
					Message:       msg,
				})
			}
		}
	}
	return images
}

// MessageCount returns the number of messages of any type in the payload.
func (p Payload) MessageCount() int {
	count := 0
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			count += len(change.Value.Messages)
		}
	}
	return count
}
