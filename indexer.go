package redispoco

import "fmt"

// IndexOpKind identifies the index mutation an IndexOp performs.
type IndexOpKind int

const (
	OpSetAdd IndexOpKind = iota
	OpSetRemove
	OpSortedSetAdd
	OpSortedSetRemove
)

func (k IndexOpKind) String() string {
	switch k {
	case OpSetAdd:
		return "SADD"
	case OpSetRemove:
		return "SREM"
	case OpSortedSetAdd:
		return "ZADD"
	case OpSortedSetRemove:
		return "ZREM"
	}
	return fmt.Sprintf("IndexOpKind(%d)", int(k))
}

// IndexOp is one mutation of an index structure on behalf of a record.
type IndexOp struct {
	Kind   IndexOpKind
	Key    string
	Member string
	Score  float64 // OpSortedSetAdd only
}

func (op IndexOp) String() string {
	if op.Kind == OpSortedSetAdd {
		return fmt.Sprintf("%s %s %s %s", op.Kind, op.Key, formatNumber(op.Score), op.Member)
	}
	return fmt.Sprintf("%s %s %s", op.Kind, op.Key, op.Member)
}

// Apply queues the operation on tx.
func (op IndexOp) Apply(tx Tx) {
	switch op.Kind {
	case OpSetAdd:
		tx.SetAdd(op.Key, op.Member)
	case OpSetRemove:
		tx.SetRemove(op.Key, op.Member)
	case OpSortedSetAdd:
		tx.SortedSetAdd(op.Key, op.Member, op.Score)
	case OpSortedSetRemove:
		tx.SortedSetRemove(op.Key, op.Member)
	}
}

// DiffIndexes computes the index mutations that move id from the index
// entries of oldRec to those of newRec. oldRec may be nil (first store);
// newRec may be nil (removal).
//
// Every element of oldRec is removed from its exact-match set and from the
// attribute's sorted set; the sorted-set removal is issued regardless of the
// element's type because removing a non-member is a no-op. Every element of
// newRec is then added to its exact-match set, and numeric elements also to
// the sorted set. Exact-match sets hold numeric values too, so exact filters
// work the same on every attribute.
//
// Removals come before additions, so a value present in both records ends
// up indexed. Values of attributes that fail validation are skipped; callers
// validate newRec first.
func DiffIndexes(ks Keyspace, attributes []string, id string, oldRec, newRec Record) []IndexOp {
	var removals, additions []IndexOp

	for _, attr := range attributes {
		if oldRec != nil {
			elems, _ := attributeScalars(oldRec[attr])
			for _, v := range elems {
				removals = append(removals,
					IndexOp{Kind: OpSetRemove, Key: ks.ExactKey(attr, v.String()), Member: id},
					IndexOp{Kind: OpSortedSetRemove, Key: ks.RangeKey(attr), Member: id},
				)
			}
		}

		if newRec != nil {
			elems, _ := attributeScalars(newRec[attr])
			for _, v := range elems {
				additions = append(additions, IndexOp{Kind: OpSetAdd, Key: ks.ExactKey(attr, v.String()), Member: id})
				if v.Numeric() {
					additions = append(additions, IndexOp{Kind: OpSortedSetAdd, Key: ks.RangeKey(attr), Member: id, Score: v.Num})
				}
			}
		}
	}

	return append(removals, additions...)
}

// invalidAttributes returns, in configured order, the attributes of rec
// whose values cannot be indexed.
func invalidAttributes(attributes []string, rec Record) []string {
	var invalid []string
	for _, attr := range attributes {
		if _, ok := attributeScalars(rec[attr]); !ok {
			invalid = append(invalid, attr)
		}
	}
	return invalid
}
