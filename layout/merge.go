package layout

// Merge coalesces source, an independently produced DAO subtree
// (typically from a separate page), into d's tree without duplicating
// equal subtrees, preserving row insertion order.
func (d *DAO) Merge(source *DAO) error {
	// Step 1: d and source are the same entity — recurse into source's
	// children rather than re-appending d itself.
	if sameDAO(d, source) {
		for _, child := range source.Rows {
			if err := d.Merge(child); err != nil {
				return err
			}
		}
		return nil
	}

	// Step 2: header/footer special case. A header-like or footer-like
	// DAO already present among d's direct children absorbs a new
	// same-kind DAO from another page even when their keys differ.
	if isHeaderLike(source.Name) || isFooterLike(source.Name) {
		if existing := d.directChildByNameOnly(source.Name); existing != nil && existing.Key != source.Key {
			for k, v := range source.Fields {
				existing.Fields[k] = v
			}
			for _, child := range source.Rows {
				if err := existing.Merge(child); err != nil {
					return err
				}
			}
			return nil
		}
	}

	// Step 3: compute the target parent.
	var target *DAO
	switch {
	case d.Name == "root" && d.Parent == nil && source.Parent == nil &&
		(source.ParentName == "" || source.ParentName == d.Name):
		target = d
	case source.Parent != nil:
		target = d.findExisting(source.Parent)
	}

	// Step 4: sibling-at-the-same-level fallback.
	if target == nil && d.Parent != nil && source.Parent != nil {
		return d.Parent.Merge(source)
	}

	// Step 5: missing root-level ancestor fallback.
	if target == nil && d.Name == "root" && source.Parent != nil {
		root := findRootAncestor(source)
		return d.Merge(root)
	}

	if target == nil {
		return NewConfigError(ErrorTypeMergeDestinationNotFound,
			"destination parent not found for \""+source.Name+"\"",
			Position{Context: source.Name}, nil).
			WithHint("parent referenced after sibling, or an unknown context named as parent")
	}

	// Step 7: dedupe against an existing equal subtree, else append.
	if existing := target.findExisting(source); existing != nil {
		return existing.Merge(source)
	}
	target.appendRow(source)
	return nil
}

// directChildByNameOnly searches d's immediate children (not the full
// subtree) for a DAO matching name, ignoring key, honoring the
// header/footer substring rule.
func (d *DAO) directChildByNameOnly(name string) *DAO {
	for _, child := range d.Rows {
		if child.Name == name {
			return child
		}
		if (isHeaderLike(name) && isHeaderLike(child.Name)) || (isFooterLike(name) && isFooterLike(child.Name)) {
			return child
		}
	}
	return nil
}
