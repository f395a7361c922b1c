package remote

import (
	"encoding/json"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

const (
	typeRoot   = "root"
	typeFolder = "folder"
	typeFile   = "file"
)

// folderResponse is the envelope returned by the folder endpoint
type folderResponse struct {
	Result *struct {
		Meta  *itemMeta  `json:"meta"`
		Items []itemMeta `json:"items"`
	} `json:"result"`
	Error json.RawMessage `json:"error"`
}

type itemMeta struct {
	ID                      string          `json:"id"`
	ParentID                string          `json:"parent_id"`
	Name                    string          `json:"name"`
	Type                    string          `json:"type"`
	Version                 int64           `json:"version"`
	Size                    int64           `json:"size"`
	Extension               string          `json:"extension"`
	Mime                    string          `json:"mime"`
	DateCreated             float64         `json:"date_created"`
	DateContentLastModified float64         `json:"date_content_last_modified"`
	ApplicationData         applicationData `json:"application_data"`
}

type applicationData struct {
	RunningPathName string `json:"running_path_name"`
	Server          struct {
		RunningPathName string `json:"running_path_name"`
		Nebula          struct {
			Nonce   string `json:"nonce"`
			Blid    string `json:"blid"`
			Digest  string `json:"digest"`
			Payload string `json:"payload"`
		} `json:"nebula"`
	} `json:"_server"`
}

func (m *itemMeta) pathName() string {
	if m.ApplicationData.RunningPathName != "" {
		return m.ApplicationData.RunningPathName
	}
	return m.ApplicationData.Server.RunningPathName
}

// apiError extracts a message from the error member, which is null on success
func (r *folderResponse) apiError() string {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return ""
	}
	var msg string
	if err := json.Unmarshal(r.Error, &msg); err == nil {
		return msg
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(r.Error)
}

// millis converts the API's epoch timestamps (milliseconds, possibly fractional)
func millis(v float64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(v)).UTC()
}

func (m *itemMeta) base(path string, level int) types.ItemMeta {
	return types.ItemMeta{
		ID:       m.ID,
		Name:     m.Name,
		ParentID: m.ParentID,
		Path:     path,
		PathName: m.pathName(),
		Level:    level,
		Version:  m.Version,
		Created:  millis(m.DateCreated),
		Modified: millis(m.DateContentLastModified),
	}
}

// decodeItem turns one metadata record into a *types.File or *types.Folder.
// ok is false for unknown type discriminators.
func decodeItem(m *itemMeta, path string, level int) (types.RemoteItem, bool) {
	switch m.Type {
	case typeRoot, typeFolder:
		return &types.Folder{
			ItemMeta: m.base(path, level),
			IsRoot:   m.Type == typeRoot,
			Children: make(map[string]types.RemoteItem),
		}, true
	case typeFile:
		nebula := m.ApplicationData.Server.Nebula
		return &types.File{
			ItemMeta:  m.base(path, level),
			Size:      m.Size,
			Extension: m.Extension,
			Mime:      m.Mime,
			Nonce:     nebula.Nonce,
			Blid:      nebula.Blid,
			Digest:    nebula.Digest,
			Payload:   nebula.Payload,
		}, true
	default:
		return nil, false
	}
}

// itemPath returns the remote path of m when it has no known parent
func itemPath(m *itemMeta) string {
	if m.ParentID == "" {
		return "/" + m.ID
	}
	return "/" + m.ParentID + "/" + m.ID
}
