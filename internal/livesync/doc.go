// Package livesync keeps an in-memory view of one owner's lists, and of the
// items of the selected list, consistent with a live document store.
//
// Every live query delivers its full result set, and each delivery replaces
// the matching local collection wholesale. Mutations go to the store and
// become visible only when the next snapshot arrives. The one local
// shortcut is a cascading list delete, which hides the list and clears the
// selection before the store confirms.
//
// All state of a Session is guarded by one mutex. Identity changes,
// snapshot deliveries and selection changes are the only events that move
// it. Store I/O for mutations runs on the caller's goroutine without the
// lock held.
package livesync
