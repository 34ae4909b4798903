package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type sortedNode struct {
	owner common.Address
	nicr  *big.Int
	prev  *sortedNode // toward the head (higher nominal ratio)
	next  *sortedNode // toward the tail (lower nominal ratio)
}

type sortedList struct {
	head  *sortedNode
	tail  *sortedNode
	nodes map[common.Address]*sortedNode
}

// SortedPositions keeps the active positions of each asset ordered by
// descending nominal collateral ratio. Hints bound the insertion walk; a bad
// hint only costs iterations, never correctness.
type SortedPositions struct {
	lists map[string]*sortedList
}

// NewSortedPositions constructs an empty index.
func NewSortedPositions() *SortedPositions {
	return &SortedPositions{lists: make(map[string]*sortedList)}
}

func (s *SortedPositions) list(asset string) *sortedList {
	key := ledgerKey(asset)
	l, ok := s.lists[key]
	if !ok {
		l = &sortedList{nodes: make(map[common.Address]*sortedNode)}
		s.lists[key] = l
	}
	return l
}

// Contains reports whether the owner is present in the asset's index.
func (s *SortedPositions) Contains(asset string, owner common.Address) bool {
	if s == nil {
		return false
	}
	l, ok := s.lists[ledgerKey(asset)]
	if !ok {
		return false
	}
	_, ok = l.nodes[owner]
	return ok
}

// Size reports the number of indexed positions for the asset.
func (s *SortedPositions) Size(asset string) int {
	if s == nil {
		return 0
	}
	l, ok := s.lists[ledgerKey(asset)]
	if !ok {
		return 0
	}
	return len(l.nodes)
}

// First returns the owner with the highest nominal ratio.
func (s *SortedPositions) First(asset string) (common.Address, bool) {
	if s == nil {
		return common.Address{}, false
	}
	l, ok := s.lists[ledgerKey(asset)]
	if !ok || l.head == nil {
		return common.Address{}, false
	}
	return l.head.owner, true
}

// Last returns the owner with the lowest nominal ratio, i.e. the riskiest
// indexed position.
func (s *SortedPositions) Last(asset string) (common.Address, bool) {
	if s == nil {
		return common.Address{}, false
	}
	l, ok := s.lists[ledgerKey(asset)]
	if !ok || l.tail == nil {
		return common.Address{}, false
	}
	return l.tail.owner, true
}

// Prev returns the neighbour with the next higher nominal ratio.
func (s *SortedPositions) Prev(asset string, owner common.Address) (common.Address, bool) {
	if s == nil {
		return common.Address{}, false
	}
	l, ok := s.lists[ledgerKey(asset)]
	if !ok {
		return common.Address{}, false
	}
	node, ok := l.nodes[owner]
	if !ok || node.prev == nil {
		return common.Address{}, false
	}
	return node.prev.owner, true
}

// Next returns the neighbour with the next lower nominal ratio.
func (s *SortedPositions) Next(asset string, owner common.Address) (common.Address, bool) {
	if s == nil {
		return common.Address{}, false
	}
	l, ok := s.lists[ledgerKey(asset)]
	if !ok {
		return common.Address{}, false
	}
	node, ok := l.nodes[owner]
	if !ok || node.next == nil {
		return common.Address{}, false
	}
	return node.next.owner, true
}

// Insert places the owner at its ordered slot, using the supplied hints as a
// starting point for the walk when they are still valid.
func (s *SortedPositions) Insert(asset string, owner common.Address, nicr *big.Int, upperHint, lowerHint common.Address) {
	if s == nil || nicr == nil {
		return
	}
	l := s.list(asset)
	if _, exists := l.nodes[owner]; exists {
		return
	}
	node := &sortedNode{owner: owner, nicr: new(big.Int).Set(nicr)}
	prev, next := l.findSlot(nicr, upperHint, lowerHint)
	node.prev = prev
	node.next = next
	if prev != nil {
		prev.next = node
	} else {
		l.head = node
	}
	if next != nil {
		next.prev = node
	} else {
		l.tail = node
	}
	l.nodes[owner] = node
}

// ReInsert removes and re-adds the owner at its new ratio.
func (s *SortedPositions) ReInsert(asset string, owner common.Address, nicr *big.Int, upperHint, lowerHint common.Address) {
	if s == nil {
		return
	}
	s.Remove(asset, owner)
	s.Insert(asset, owner, nicr, upperHint, lowerHint)
}

// Remove unlinks the owner from the asset's index.
func (s *SortedPositions) Remove(asset string, owner common.Address) {
	if s == nil {
		return
	}
	l, ok := s.lists[ledgerKey(asset)]
	if !ok {
		return
	}
	node, ok := l.nodes[owner]
	if !ok {
		return
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	delete(l.nodes, owner)
}

// findSlot returns the (prev, next) pair straddling the new ratio. Hints that
// no longer straddle the value are discarded and the walk restarts from the
// nearest valid anchor, falling back to the list head.
func (l *sortedList) findSlot(nicr *big.Int, upperHint, lowerHint common.Address) (*sortedNode, *sortedNode) {
	var anchor *sortedNode
	if node, ok := l.nodes[upperHint]; ok && node.nicr.Cmp(nicr) >= 0 {
		anchor = node
	} else if node, ok := l.nodes[lowerHint]; ok {
		// Walk up from the lower hint until an element at or above the new
		// ratio is found.
		cursor := node
		for cursor.prev != nil && cursor.prev.nicr.Cmp(nicr) < 0 {
			cursor = cursor.prev
		}
		if cursor.prev != nil {
			anchor = cursor.prev
		}
	}
	if anchor == nil {
		if l.head == nil || l.head.nicr.Cmp(nicr) < 0 {
			return nil, l.head
		}
		anchor = l.head
	}
	cursor := anchor
	for cursor.next != nil && cursor.next.nicr.Cmp(nicr) >= 0 {
		cursor = cursor.next
	}
	return cursor, cursor.next
}
