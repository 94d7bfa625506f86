package livesync

// Selection is the list currently open, if any.
type Selection struct {
	listID string
}

// ListID returns the selected list id, or "" when nothing is selected.
func (s *Selection) ListID() string {
	return s.listID
}

// Selected reports whether listID is the selected list.
func (s *Selection) Selected(listID string) bool {
	return listID != "" && s.listID == listID
}

// set selects listID and reports whether the selection changed.
func (s *Selection) set(listID string) bool {
	if s.listID == listID {
		return false
	}
	s.listID = listID
	return true
}

// clear drops the selection and reports whether there was one.
func (s *Selection) clear() bool {
	return s.set("")
}
