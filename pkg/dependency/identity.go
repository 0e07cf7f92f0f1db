// SPDX-License-Identifier: MPL-2.0

package dependency

const (
	// KindLocal identifies a dependency read from the local filesystem.
	KindLocal Kind = "local"
	// KindURL identifies a dependency downloaded as a ZIP archive.
	KindURL Kind = "url"
	// KindGit identifies a dependency cloned from a Git repository.
	KindGit Kind = "git"

	// FileTypeDirectory marks a local source that is a directory.
	FileTypeDirectory FileType = "directory"
	// FileTypeFile marks a local source that is a ZIP archive.
	FileTypeFile FileType = "file"
)

type (
	// Kind is the identity discriminator persisted as "type".
	Kind string

	// FileType tells whether a local source is a directory or an archive.
	FileType string

	// Identity is the persisted fingerprint of a source. Only the fields of the
	// variant named by Type are set; the others stay empty and are omitted.
	Identity struct {
		Type Kind `json:"type"`

		PathAbsolute string   `json:"path_absolute,omitempty"`
		PathRelative string   `json:"path_relative,omitempty"`
		FileType     FileType `json:"file_type,omitempty"`
		ArchiveRoot  string   `json:"archive_root,omitempty"`

		URL      string `json:"url,omitempty"`
		Root     string `json:"root,omitempty"`
		SHA256   string `json:"sha256,omitempty"`
		Checkout string `json:"checkout,omitempty"`
	}
)

// Matches reports whether a and b fingerprint the same source. Identities of
// different kinds never match. The relation is symmetric.
//
//   - local: (absolute path OR relative path) AND file type AND archive root
//   - url:   url AND root AND sha256
//   - git:   url AND root AND checkout
//
// Absent optional fields only equal absent fields.
func (a Identity) Matches(b Identity) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case KindLocal:
		samePath := (a.PathAbsolute != "" && a.PathAbsolute == b.PathAbsolute) ||
			(a.PathRelative != "" && a.PathRelative == b.PathRelative)
		return samePath && a.FileType == b.FileType && a.ArchiveRoot == b.ArchiveRoot
	case KindURL:
		return a.URL == b.URL && a.Root == b.Root && a.SHA256 == b.SHA256
	case KindGit:
		return a.URL == b.URL && a.Root == b.Root && a.Checkout == b.Checkout
	default:
		return false
	}
}
