package types

import (
	"io"
	"net/http"
	"time"
)

// WriteMode selects how a local file is opened for a transfer
type WriteMode int

const (
	WriteAppend WriteMode = iota
	WriteOverwrite
)

func (m WriteMode) String() string {
	if m == WriteOverwrite {
		return "overwrite"
	}
	return "append"
}

// TransferState is the mutable progress of one file transfer
type TransferState struct {
	Expected    int64
	Copied      int64
	Seek        int64
	Mode        WriteMode
	ConnRetries int
	SizeRetries int
}

// TransferResult describes the outcome of a file transfer
type TransferResult struct {
	ItemID      string    `json:"id"`
	Name        string    `json:"name"`
	Destination string    `json:"destination"`
	Size        int64     `json:"size"`
	BytesCopied int64     `json:"size_downloaded"`
	Attempts    int       `json:"attempts"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Credentials is the opaque cookie set obtained by authentication
type Credentials struct {
	Cookies []*http.Cookie
}

// Get returns the value of the named cookie
func (c *Credentials) Get(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, ck := range c.Cookies {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// Download is an open remote content stream
type Download struct {
	Body       io.ReadCloser
	StatusCode int
	// ContentLength is the number of bytes the server announced, -1 when unknown
	ContentLength int64
	// Partial is true when the server honoured the requested range
	Partial bool
}

