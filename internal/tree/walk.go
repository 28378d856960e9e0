package tree

import "errors"

// SkipChildren may be returned by a VisitFunc to skip the descendants of the
// item being visited.
var SkipChildren = errors.New("skip children")

// StopWalk may be returned by a VisitFunc to end the walk without error.
var StopWalk = errors.New("stop walk")

// VisitFunc is called for every item in depth-first pre-order. parent is nil
// for the root and index is the item's position in parent.Children.
type VisitFunc func(item, parent *Item, index int) error

// Walk visits root and its descendants depth-first, children in stored order.
func Walk(root *Item, fn VisitFunc) error {
	if root == nil {
		return nil
	}
	err := walk(root, nil, 0, fn)
	if errors.Is(err, StopWalk) {
		return nil
	}
	return err
}

func walk(item, parent *Item, index int, fn VisitFunc) error {
	if err := fn(item, parent, index); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	if !item.IsGroup() {
		return nil
	}
	for i, child := range item.Children {
		if err := walk(child, item, i, fn); err != nil {
			return err
		}
	}
	return nil
}

// location is the result of a lookup: the item, its parent and its index.
type location struct {
	item   *Item
	parent *Item
	index  int
}

func locate(root *Item, id string) (location, bool) {
	var loc location
	found := false
	_ = Walk(root, func(item, parent *Item, index int) error {
		if item.ID == id {
			loc = location{item: item, parent: parent, index: index}
			found = true
			return StopWalk
		}
		return nil
	})
	return loc, found
}

// contains reports whether id is item itself or one of its descendants.
func contains(item *Item, id string) bool {
	_, ok := locate(item, id)
	return ok
}

// collectIDs returns the ids of item and all of its descendants.
func collectIDs(item *Item) map[string]struct{} {
	ids := make(map[string]struct{})
	_ = Walk(item, func(it, _ *Item, _ int) error {
		ids[it.ID] = struct{}{}
		return nil
	})
	return ids
}
