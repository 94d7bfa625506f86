package store

import (
	"encoding/json"
	"strings"
)

// Collection names.
const (
	ListsCollection = "lists"
	itemsSegment    = "items"
)

// ListPath returns the path of a list document.
func ListPath(listID string) string {
	return ListsCollection + "/" + listID
}

// ItemsCollection returns the path of a list's item collection.
func ItemsCollection(listID string) string {
	return ListPath(listID) + "/" + itemsSegment
}

// ItemPath returns the path of an item document.
func ItemPath(listID, itemID string) string {
	return ItemsCollection(listID) + "/" + itemID
}

// SplitPath splits a document path into its collection path and document id.
func SplitPath(path string) (collection, id string, ok bool) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 {
		return "", "", false
	}
	collection, id = path[:i], path[i+1:]
	// Collection paths have an odd number of segments, document paths an even one.
	if strings.Count(collection, "/")%2 != 0 {
		return "", "", false
	}
	return collection, id, true
}

// equalValues compares two field values by their JSON encoding, so that
// values that went through a JSON round trip still compare equal.
func equalValues(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}
