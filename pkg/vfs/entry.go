package vfs

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EntryType is the type tag of a listing entry.
type EntryType string

const (
	TypeFile EntryType = "file"
	TypeDir  EntryType = "dir"

	// TypeBack is the synthetic "parent directory" entry. It never comes
	// from a backend.
	TypeBack EntryType = "back"
)

// ParseEntryType validates a type tag coming from a caller.
func ParseEntryType(s string) (EntryType, error) {
	switch t := EntryType(s); t {
	case TypeFile, TypeDir:
		return t, nil
	default:
		return "", validationError("parse type", "", "invalid type %q", s)
	}
}

func (t EntryType) order() int {
	switch t {
	case TypeBack:
		return 0
	case TypeDir:
		return 1
	default:
		return 2
	}
}

// Entry is one item of a DirectoryListing.
type Entry struct {
	Type         EntryType `json:"type"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"time"`

	// Permissions is the unix mode (0..0777) or -1 when the backend keeps
	// no permission bits.
	Permissions int `json:"permissions"`
}

// PermissionString renders Permissions as a four digit octal string, or
// an empty string when unsupported.
func (e Entry) PermissionString() string {
	if e.Permissions < 0 {
		return ""
	}
	return fmt.Sprintf("%04o", e.Permissions)
}

// DirectoryListing is the normalized result of GetDirectoryCollection.
type DirectoryListing struct {
	Location string  `json:"location"`
	Entries  []Entry `json:"files"`
}

// add appends an entry keeping insertion order within each type.
func (d *DirectoryListing) add(e Entry) {
	d.Entries = append(d.Entries, e)
}

// sortEntries orders back < dir < file, stable on insertion order.
func (d *DirectoryListing) sortEntries() {
	sort.SliceStable(d.Entries, func(i, j int) bool {
		return d.Entries[i].Type.order() < d.Entries[j].Type.order()
	})
}

// Files returns the non-synthetic file entries.
func (d *DirectoryListing) Files() []Entry {
	return d.filter(TypeFile)
}

// Dirs returns the non-synthetic directory entries.
func (d *DirectoryListing) Dirs() []Entry {
	return d.filter(TypeDir)
}

func (d *DirectoryListing) filter(t EntryType) []Entry {
	var out []Entry
	for _, e := range d.Entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MarshalJSON keeps the wire shape stable even for empty listings.
func (d DirectoryListing) MarshalJSON() ([]byte, error) {
	entries := d.Entries
	if entries == nil {
		entries = []Entry{}
	}
	type alias DirectoryListing
	return json.Marshal(alias{Location: d.Location, Entries: entries})
}
