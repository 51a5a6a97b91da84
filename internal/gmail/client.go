package gmail

import "context"

// Client is the narrow Gmail surface required by mailfold.
type Client interface {
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMetadata(ctx context.Context, id MessageID) (MessageMeta, error)
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
	ListLabels(ctx context.Context) (map[string]LabelID, map[LabelID]string, error)
	CreateLabel(ctx context.Context, name string) (LabelID, error)
}
