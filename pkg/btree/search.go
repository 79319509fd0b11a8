package btree

import (
	"bytes"

	"github.com/daicang/ivorydb/pkg/common"
	"github.com/daicang/ivorydb/pkg/page"
)

// Search returns every row reference stored under key: one when a single
// row holds the key, and several when multiple rows share this key's
// value (secondary-index duplicates, or a repeated primary key, which
// Insert folds into the same overflow chain). A miss returns a nil, non-error result -- not-found is an
// ordinary outcome, never an exception.
func (t *Tree) Search(key []byte) ([]common.RowRef, error) {
	if t.root == nil {
		return nil, nil
	}
	return t.searchNode(t.root, key)
}

func (t *Tree) searchNode(n *hnode, key []byte) ([]common.RowRef, error) {
	if n.page.Type == page.Internal {
		i, err := t.descendIndex(n.page, key)
		if err != nil {
			return nil, err
		}
		child, err := t.child(n, i)
		if err != nil {
			return nil, err
		}
		return t.searchNode(child, key)
	}

	i, err := t.findIndex(n.page, key)
	if err != nil {
		return nil, err
	}
	if i >= len(n.page.Keys) {
		return nil, nil
	}
	kb, err := t.keyBytes(n.page, i)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(kb, key) {
		return nil, nil
	}

	slot := n.page.Children[i]
	if !slot.IsOverflow {
		return []common.RowRef{{Offset: slot.Offset, Length: slot.Length}}, nil
	}

	ovf, err := t.overflowAt(n, i)
	if err != nil {
		return nil, err
	}
	refs := make([]common.RowRef, 0, len(ovf.Items))
	for _, item := range ovf.Items {
		refs = append(refs, common.RowRef{Offset: item.Offset, Length: item.Length})
	}
	return refs, nil
}
