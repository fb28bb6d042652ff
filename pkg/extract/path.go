package extract

import (
	"fmt"
	"strconv"
	"strings"
)

type segment struct {
	key   string
	index int
	isIdx bool
}

// parsePath splits "result.items[0].title" or "data['a.b']" into segments.
func parsePath(path string) ([]segment, error) {
	var segs []segment
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated '[' in path %q", path)
			}
			inner := strings.TrimSpace(path[i+1 : i+end])
			i += end + 1
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, segment{key: inner[1 : len(inner)-1]})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q in path %q", inner, path)
			}
			segs = append(segs, segment{index: n, isIdx: true})
		default:
			end := strings.IndexAny(path[i:], ".[")
			if end < 0 {
				end = len(path) - i
			}
			segs = append(segs, segment{key: path[i : i+end]})
			i += end
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	return segs, nil
}

// Lookup navigates a decoded JSON value. Negative indexes count from the end.
func Lookup(v any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}
	cur := v
	for _, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			if seg.isIdx {
				next, ok := node[strconv.Itoa(seg.index)]
				if !ok {
					return nil, false
				}
				cur = next
				continue
			}
			next, ok := node[seg.key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx := seg.index
			if !seg.isIdx {
				n, err := strconv.Atoi(seg.key)
				if err != nil {
					return nil, false
				}
				idx = n
			}
			if idx < 0 {
				idx += len(node)
			}
			if idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
