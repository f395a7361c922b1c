package types

import "time"

// RemoteItem is either a *File or a *Folder
type RemoteItem interface {
	Meta() *ItemMeta
	IsFolder() bool
}

// ItemMeta holds the attributes shared by files and folders
type ItemMeta struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	ParentID string    `json:"parent_id,omitempty"`
	Path     string    `json:"path"`
	PathName string    `json:"path_name"`
	Level    int       `json:"level"`
	Version  int64     `json:"version"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// File is a downloadable remote item
type File struct {
	ItemMeta
	Size      int64  `json:"size"`
	Extension string `json:"extension,omitempty"`
	Mime      string `json:"mime,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Blid      string `json:"blid,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// Meta returns the shared attributes
func (f *File) Meta() *ItemMeta { return &f.ItemMeta }

// IsFolder is always false for files
func (f *File) IsFolder() bool { return false }

// Folder is a remote container of items
type Folder struct {
	ItemMeta
	IsRoot   bool                  `json:"is_root"`
	Children map[string]RemoteItem `json:"-"`
}

// Meta returns the shared attributes
func (f *Folder) Meta() *ItemMeta { return &f.ItemMeta }

// IsFolder is always true for folders
func (f *Folder) IsFolder() bool { return true }

// ChildPath returns the remote path of an item directly inside the folder
func (f *Folder) ChildPath(id string) string {
	if f.Path == "" || f.Path == "/" {
		return "/" + id
	}
	return f.Path + "/" + id
}

// ChildPathName returns the human-readable path of an item directly inside the folder
func (f *Folder) ChildPathName(name string) string {
	if f.PathName == "" || f.PathName == "/" {
		return "/" + name
	}
	return f.PathName + "/" + name
}

// ItemRecord is the flattened form of a RemoteItem stored by the result recorder
type ItemRecord struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	PathName  string    `json:"path_name"`
	Level     int       `json:"level"`
	Version   int64     `json:"version"`
	IsFolder  bool      `json:"is_folder"`
	IsRoot    bool      `json:"is_root"`
	Size      int64     `json:"size"`
	Extension string    `json:"extension,omitempty"`
	Mime      string    `json:"mime,omitempty"`
	Nonce     string    `json:"nonce,omitempty"`
	Blid      string    `json:"blid,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
}

// NewItemRecord flattens a remote item
func NewItemRecord(item RemoteItem) ItemRecord {
	m := item.Meta()
	rec := ItemRecord{
		ID:       m.ID,
		ParentID: m.ParentID,
		Name:     m.Name,
		Path:     m.Path,
		PathName: m.PathName,
		Level:    m.Level,
		Version:  m.Version,
		Created:  m.Created,
		Modified: m.Modified,
	}
	switch v := item.(type) {
	case *Folder:
		rec.IsFolder = true
		rec.IsRoot = v.IsRoot
	case *File:
		rec.Size = v.Size
		rec.Extension = v.Extension
		rec.Mime = v.Mime
		rec.Nonce = v.Nonce
		rec.Blid = v.Blid
		rec.Digest = v.Digest
		rec.Payload = v.Payload
	}
	return rec
}

// ListResult is a batch of items produced by one traversal job
type ListResult struct {
	Items []ItemRecord `json:"items"`
}
