package chat

// Chat is a conversation owned by the authenticated user.
type Chat struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Subject string `json:"chat_subject"`
}

// Message is a single entry in a conversation. IsUser distinguishes the
// user's own messages from assistant replies.
type Message struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	IsUser    bool   `json:"isUser"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ChatPage is one page of the paginated chat listing.
type ChatPage struct {
	Items  []Chat `json:"items"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
}

// MessagePage is one page of a chat's message history.
type MessagePage struct {
	Items  []Message `json:"items"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
	Count  int       `json:"count"`
}

// Attachment describes a file attached to an edited message.
type Attachment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// UploadedFile is the backend's record of an uploaded file.
type UploadedFile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
