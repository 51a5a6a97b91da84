package gmail

import "time"

type MessageID string
type LabelID string

// Gmail system labels. UNREAD doubles as the read-state flag: adding it marks a
// message unread, removing it marks the message read.
const (
	LabelUnread LabelID = "UNREAD"
	LabelInbox  LabelID = "INBOX"
)

// MessageMeta is the metadata-only view of one remote message. Bodies are never
// fetched; Snippet is the short preview Gmail returns alongside the headers.
type MessageMeta struct {
	ID        MessageID
	Sender    string
	Recipient string
	Subject   string
	Snippet   string
	Received  time.Time
	Unread    bool
	Labels    []LabelID
}

// ModifyOps describes a per-message label mutation.
type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// ReadStateOps returns the label mutation that sets a message's read state.
func ReadStateOps(read bool) ModifyOps {
	if read {
		return ModifyOps{RemoveLabels: []LabelID{LabelUnread}}
	}
	return ModifyOps{AddLabels: []LabelID{LabelUnread}}
}

// Query is a Gmail search query string, already formed
// (e.g. `after:1726440000 before:1726526400`).
type Query struct {
	Raw string
}

// ListPage is one page of message identifiers.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}
