package tree

import (
	"encoding/json"
	"time"
)

type itemJSON struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         Type    `json:"type"`
	Children     []*Item `json:"children,omitzero"`
	Content      *string `json:"content,omitempty"`
	IsRemote     bool    `json:"isRemote,omitempty"`
	RemoteURL    string  `json:"remoteUrl,omitempty"`
	SyncInterval int64   `json:"syncInterval,omitempty"`
	LastSync     *int64  `json:"lastSync,omitempty"`
}

// MarshalJSON writes groups with a children array (never null) and schemes
// with a content string.
func (it *Item) MarshalJSON() ([]byte, error) {
	w := itemJSON{
		ID:        it.ID,
		Name:      it.Name,
		Type:      it.Type,
		IsRemote:  it.IsRemote,
		RemoteURL: it.RemoteURL,
	}
	switch it.Type {
	case TypeGroup:
		w.Children = it.Children
		if w.Children == nil {
			w.Children = []*Item{}
		}
	default:
		content := it.Content
		w.Content = &content
	}
	if it.SyncInterval > 0 {
		w.SyncInterval = it.SyncInterval.Milliseconds()
	}
	if it.LastSync != nil {
		ms := it.LastSync.UnixMilli()
		w.LastSync = &ms
	}
	return json.Marshal(w)
}

func (it *Item) UnmarshalJSON(b []byte) error {
	var w itemJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*it = Item{
		ID:        w.ID,
		Name:      w.Name,
		Type:      w.Type,
		Children:  w.Children,
		IsRemote:  w.IsRemote,
		RemoteURL: w.RemoteURL,
	}
	if w.Content != nil {
		it.Content = *w.Content
	}
	if w.Type == TypeGroup && it.Children == nil {
		it.Children = []*Item{}
	}
	if w.SyncInterval > 0 {
		it.SyncInterval = time.Duration(w.SyncInterval) * time.Millisecond
	}
	if w.LastSync != nil {
		t := time.UnixMilli(*w.LastSync).UTC()
		it.LastSync = &t
	}
	return nil
}
