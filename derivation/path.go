package derivation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/doichain/go-sdk/types"
)

// ParsePath turns a path like m/0'/1/5 into child indexes. Hardened markers
// (' or h) are stripped since only public derivation is performed.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	indexes := make([]uint32, 0, len(parts))

	for i, part := range parts {
		if i == 0 && (part == "m" || part == "M" || part == "") {
			continue
		}
		segment := strings.TrimRight(part, "'hH")
		index, err := strconv.ParseUint(segment, 10, 31)
		if err != nil || segment == "" {
			return nil, fmt.Errorf("%w %q in path %s", types.ErrInvalidPathSegment, part, path)
		}
		indexes = append(indexes, uint32(index))
	}
	return indexes, nil
}

// JoinPath appends child indexes to a base path.
func JoinPath(base string, children ...uint32) string {
	var b strings.Builder
	b.WriteString(base)
	for _, child := range children {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(uint64(child), 10))
	}
	return b.String()
}
