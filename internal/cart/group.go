package cart

import (
	"net/url"

	"github.com/lotas/unicart/internal/types"
)

// UnknownRetailer is the bucket for items without a usable URL.
const UnknownRetailer = "Unknown"

// Group is one display cluster.
type Group struct {
	Key   string
	Items []types.Item
}

// GroupBy clusters items by folder or by retailer hostname. Groups appear in
// order of the first item carrying each key; items keep their order inside
// a group. The input is not modified.
func GroupBy(mode types.GroupMode, items []types.Item) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, it := range items {
		key := groupKey(mode, it)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

func groupKey(mode types.GroupMode, it types.Item) string {
	if mode == types.GroupByRetailer {
		return Retailer(it.URL)
	}
	if it.Folder == "" {
		return types.Uncategorized
	}
	return it.Folder
}

// Retailer returns the hostname of rawURL or UnknownRetailer.
func Retailer(rawURL string) string {
	if rawURL == "" {
		return UnknownRetailer
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return UnknownRetailer
	}
	return u.Hostname()
}
