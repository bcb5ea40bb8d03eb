package matcher

import (
	"strings"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
)

// ClaimIndex groups claim positions by NDC, member and absolute quantity.
// Positions inside a group keep block row order so first-match selection is
// unchanged by the index.
type ClaimIndex struct {
	groups map[string][]int
	total  int
}

// NewClaimIndex indexes the claim rows at the given positions
func NewClaimIndex(records []*models.ClaimRecord, claimPositions []int) *ClaimIndex {
	idx := &ClaimIndex{
		groups: make(map[string][]int),
		total:  len(claimPositions),
	}
	for _, pos := range claimPositions {
		key := matchKey(records[pos])
		idx.groups[key] = append(idx.groups[key], pos)
	}
	return idx
}

// Candidates returns the claim positions sharing the reversal's match key
func (ci *ClaimIndex) Candidates(reversal *models.ClaimRecord) []int {
	return ci.groups[matchKey(reversal)]
}

// GetIndexStats returns statistics about the index
func (ci *ClaimIndex) GetIndexStats() IndexStats {
	stats := IndexStats{
		IndexedClaims: ci.total,
		UniqueKeys:    len(ci.groups),
	}
	for _, group := range ci.groups {
		if len(group) > stats.LargestGroup {
			stats.LargestGroup = len(group)
		}
	}
	return stats
}

// IndexStats provides statistics about index usage and efficiency
type IndexStats struct {
	IndexedClaims int
	UniqueKeys    int
	LargestGroup  int
}

func matchKey(rec *models.ClaimRecord) string {
	var b strings.Builder
	b.WriteString(rec.NDC)
	b.WriteByte(0x1f)
	b.WriteString(rec.MemberID)
	b.WriteByte(0x1f)
	b.WriteString(rec.Quantity.AbsKey())
	return b.String()
}
