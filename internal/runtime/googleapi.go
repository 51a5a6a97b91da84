// internal/runtime/googleapi.go — adapts *gmail.Service to our small interface
package runtime

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/mailfold/internal/gmail"
)

// metadataHeaders are the only headers we ever request; bodies are never pulled.
var metadataHeaders = []string{"From", "To", "Subject"}

type googleClient struct{ svc *gmail.Service }

func NewGoogleAPIClient(svc *gmail.Service) gc.Client { return &googleClient{svc} }

func (g *googleClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List("me").MaxResults(int64(pageSize)).IncludeSpamTrash(false)
	if q.Raw != "" {
		call = call.Q(q.Raw)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, fmt.Errorf("list messages: %w", err)
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.IDs = append(page.IDs, gc.MessageID(m.Id))
	}
	return page, nil
}

func (g *googleClient) GetMetadata(ctx context.Context, id gc.MessageID) (gc.MessageMeta, error) {
	msg, err := g.svc.Users.Messages.Get("me", string(id)).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).Do()
	if err != nil {
		return gc.MessageMeta{}, fmt.Errorf("get message %s: %w", id, err)
	}
	meta := gc.MessageMeta{
		ID:      id,
		Snippet: msg.Snippet,
		Labels:  toLabelIDs(msg.LabelIds),
	}
	if msg.Payload != nil {
		for _, hd := range msg.Payload.Headers {
			switch hd.Name {
			case "From":
				meta.Sender = hd.Value
			case "To":
				meta.Recipient = hd.Value
			case "Subject":
				meta.Subject = hd.Value
			}
		}
	}
	// internalDate is epoch milliseconds.
	if msg.InternalDate > 0 {
		meta.Received = time.Unix(msg.InternalDate/1000, 0).UTC()
	}
	for _, l := range meta.Labels {
		if l == gc.LabelUnread {
			meta.Unread = true
			break
		}
	}
	return meta, nil
}

func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	req := &gmail.ModifyMessageRequest{}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = toStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = toStrings(ops.RemoveLabels)
	}
	if _, err := g.svc.Users.Messages.Modify("me", string(id), req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("modify message %s: %w", id, err)
	}
	return nil
}

func (g *googleClient) ListLabels(ctx context.Context) (map[string]gc.LabelID, map[gc.LabelID]string, error) {
	lr, err := g.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("list labels: %w", err)
	}
	byName := map[string]gc.LabelID{}
	byID := map[gc.LabelID]string{}
	for _, l := range lr.Labels {
		byName[l.Name] = gc.LabelID(l.Id)
		byID[gc.LabelID(l.Id)] = l.Name
	}
	return byName, byID, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string) (gc.LabelID, error) {
	created, err := g.svc.Users.Labels.Create("me", &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	return gc.LabelID(created.Id), nil
}

func toStrings(ids []gc.LabelID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, 0, len(ids))
	for _, id := range ids {
		out = append(out, gc.LabelID(id))
	}
	return out
}
