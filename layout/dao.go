package layout

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// DAO is a hierarchical data node produced by a successful context match.
// It is created exactly once per successful context application and is
// never mutated after a merge completes for that page, except by later
// merges from a subsequent page.
type DAO struct {
	Name       string
	Key        string
	Fields     map[string]string
	ParentName string // survives even when Parent was not produced this page
	Parent     *DAO
	Rows       []*DAO
}

// NewRootDAO returns the document-wide root DAO that every page's
// contexts ultimately merge into.
func NewRootDAO() *DAO {
	return &DAO{Name: "root", Fields: map[string]string{}}
}

// Field returns the named flat field value, if present.
func (d *DAO) Field(name string) (string, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// RowsNamed returns the ordered child DAOs whose Name matches name.
func (d *DAO) RowsNamed(name string) []*DAO {
	var out []*DAO
	for _, r := range d.Rows {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// Walk performs a depth-first, pre-order traversal of d and its
// descendants, stopping early if fn returns false.
func (d *DAO) Walk(fn func(*DAO) bool) {
	if !fn(d) {
		return
	}
	for _, r := range d.Rows {
		r.Walk(fn)
	}
}

// isHeaderLike/isFooterLike implement a substring special case: any name
// containing "header" is treated as the same entity as any other
// "header"-containing name across pages, and likewise for "footer". No
// other substring gets special treatment.
func isHeaderLike(name string) bool { return strings.Contains(name, "header") }
func isFooterLike(name string) bool { return strings.Contains(name, "footer") }

// sameDAO implements structural equality between two DAOs: same effective
// name and key, or both names are header-like, or both names are
// footer-like.
func sameDAO(a, b *DAO) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Name == b.Name && a.Key == b.Key {
		return true
	}
	if isHeaderLike(a.Name) && isHeaderLike(b.Name) {
		return true
	}
	if isFooterLike(a.Name) && isFooterLike(b.Name) {
		return true
	}
	return false
}

// findExisting recursively descends self (including self) looking for a
// DAO that is sameDAO as target.
func (d *DAO) findExisting(target *DAO) *DAO {
	if sameDAO(d, target) {
		return d
	}
	for _, child := range d.Rows {
		if found := child.findExisting(target); found != nil {
			return found
		}
	}
	return nil
}

// findByNameOnly is the same descent as findExisting but ignores keys,
// honoring the header/footer substring rule. Merge step 2 does not use
// it: that step searches only d's direct children (directChildByNameOnly).
func (d *DAO) findByNameOnly(name string) *DAO {
	if d.Name == name {
		return d
	}
	if (isHeaderLike(name) && isHeaderLike(d.Name)) || (isFooterLike(name) && isFooterLike(d.Name)) {
		return d
	}
	for _, child := range d.Rows {
		if found := child.findByNameOnly(name); found != nil {
			return found
		}
	}
	return nil
}

// findRootAncestor walks source's parent chain to its topmost ancestor.
func findRootAncestor(source *DAO) *DAO {
	cur := source
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// appendRow appends child to d's ordered rows, wiring child's Parent
// pointer and preserving row insertion order.
func (d *DAO) appendRow(child *DAO) {
	child.Parent = d
	d.Rows = append(d.Rows, child)
}

// daoYAML is the external, serializable shape of a DAO: name, key, a
// flat field map, and ordered child rows. Parent/ParentName are
// deliberately omitted — they are merge bookkeeping, not document
// content, and would make a YAML dump cyclic.
type daoYAML struct {
	Name   string            `yaml:"name"`
	Key    string            `yaml:"key,omitempty"`
	Fields map[string]string `yaml:"fields,omitempty"`
	Rows   []*daoYAML        `yaml:"rows,omitempty"`
}

func (d *DAO) toYAML() *daoYAML {
	out := &daoYAML{Name: d.Name, Key: d.Key, Fields: d.Fields}
	for _, row := range d.Rows {
		out.Rows = append(out.Rows, row.toYAML())
	}
	return out
}

// MarshalYAML renders d as its `{name, key, fields, rows}` output
// shape without prescribing an on-disk format: the struct itself is
// the contract, this is a convenience for callers who want a
// human-readable dump.
func (d *DAO) MarshalYAML() (interface{}, error) {
	return d.toYAML(), nil
}

// String renders d as YAML text, or a fallback error string if
// marshaling somehow fails (Fields/Rows are always YAML-safe scalars).
func (d *DAO) String() string {
	b, err := yaml.Marshal(d)
	if err != nil {
		return "<DAO " + d.Name + ": marshal error: " + err.Error() + ">"
	}
	return string(b)
}
