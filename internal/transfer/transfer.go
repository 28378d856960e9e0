// Package transfer converts forests to and from their export formats.
package transfer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mattjoyce/hostsmaster/internal/tree"
)

// Supported export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// PathSeparator joins group and scheme names in a CSV path column.
const PathSeparator = " > "

// ErrInvalidImport rejects import payloads that are not a well-formed forest.
var ErrInvalidImport = errors.New("invalid import data")

// ErrUnknownFormat rejects an export format other than json or csv.
var ErrUnknownFormat = errors.New("unknown export format")

// Filter returns copies of items restricted to ids. A selected item keeps
// its whole subtree; a group that is not selected survives only when some
// descendant is, and then holds only the surviving descendants. An empty
// ids list selects everything.
func Filter(items []*tree.Item, ids []string) []*tree.Item {
	out := make([]*tree.Item, 0, len(items))
	for _, it := range items {
		if len(ids) == 0 || slices.Contains(ids, it.ID) {
			out = append(out, it.Clone())
			continue
		}
		if !it.IsGroup() {
			continue
		}
		kids := Filter(it.Children, ids)
		if len(kids) == 0 {
			continue
		}
		cp := *it
		cp.Children = kids
		out = append(out, &cp)
	}
	return out
}

// Export renders items in format.
func Export(items []*tree.Item, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return ExportJSON(items)
	case FormatCSV:
		return ExportCSV(items)
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

// ExportJSON renders items as an indented JSON array in the persisted layout.
func ExportJSON(items []*tree.Item) ([]byte, error) {
	if items == nil {
		items = []*tree.Item{}
	}
	return json.MarshalIndent(items, "", "  ")
}

// ExportCSV writes one row per scheme with columns path, type and content.
// Groups contribute only their names to the path.
func ExportCSV(items []*tree.Item) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"path", "type", "content"}); err != nil {
		return nil, err
	}

	var rows func(items []*tree.Item, prefix string) error
	rows = func(items []*tree.Item, prefix string) error {
		for _, it := range items {
			path := it.Name
			if prefix != "" {
				path = prefix + PathSeparator + it.Name
			}
			if it.IsScheme() {
				if err := w.Write([]string{path, string(tree.TypeScheme), it.Content}); err != nil {
					return err
				}
				continue
			}
			if err := rows(it.Children, path); err != nil {
				return err
			}
		}
		return nil
	}
	if err := rows(items, ""); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportJSON parses an exported JSON array. Every node must carry an id, a
// name and a known type. Ids are kept; tree.Store.Graft regenerates them.
func ImportJSON(data []byte) ([]*tree.Item, error) {
	var items []*tree.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrInvalidImport)
	}
	for i, it := range items {
		if err := validate(it); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidImport, i, err)
		}
	}
	return items, nil
}

func validate(root *tree.Item) error {
	if root == nil {
		return errors.New("null item")
	}
	return tree.Walk(root, func(item, _ *tree.Item, _ int) error {
		switch {
		case item == nil:
			return errors.New("null item")
		case item.ID == "":
			return errors.New("missing id")
		case item.Name == "":
			return fmt.Errorf("item %q: missing name", item.ID)
		case item.Type != tree.TypeGroup && item.Type != tree.TypeScheme:
			return fmt.Errorf("item %q: unknown type %q", item.ID, item.Type)
		}
		return nil
	})
}
