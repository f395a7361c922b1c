package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

// CookieFileAuthenticator authenticates with a cookie set persisted as a
// JSON object of cookie name to value. Obtaining the cookies (browser login)
// happens elsewhere; Store records them.
type CookieFileAuthenticator struct {
	path string

	mu      sync.Mutex
	cookies map[string]string
}

// NewCookieFileAuthenticator creates an authenticator backed by path
func NewCookieFileAuthenticator(path string) *CookieFileAuthenticator {
	return &CookieFileAuthenticator{path: path}
}

// Authenticate returns the stored cookie set
func (a *CookieFileAuthenticator) Authenticate(ctx context.Context) (*types.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cookies == nil {
		cookies, err := a.load()
		if err != nil {
			return nil, err
		}
		a.cookies = cookies
	}
	if len(a.cookies) == 0 {
		return nil, apperrors.AuthenticationError("no cookies available, no way to connect", nil)
	}
	return credentialsFrom(a.cookies), nil
}

// Store persists a new cookie set and makes it the current one
func (a *CookieFileAuthenticator) Store(cookies map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(a.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return apperrors.AuthenticationError("failed storing cookies to file", err)
		}
	}
	if err := os.WriteFile(a.path, data, 0600); err != nil {
		return apperrors.AuthenticationError("failed storing cookies to file", err)
	}
	a.cookies = cookies
	return nil
}

// Invalidate forgets the cookie set and removes the cookie file
func (a *CookieFileAuthenticator) Invalidate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cookies = nil
	if a.path == "" {
		return nil
	}
	if err := os.Remove(a.path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cookie file: %w", err)
	}
	return nil
}

func (a *CookieFileAuthenticator) load() (map[string]string, error) {
	if a.path == "" {
		return nil, apperrors.AuthenticationError("no cookie file configured", nil)
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, apperrors.AuthenticationError("failed loading cookies from file", err)
	}
	cookies := make(map[string]string)
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, apperrors.AuthenticationError("cookie file is not valid JSON", err)
	}
	return cookies, nil
}

func credentialsFrom(cookies map[string]string) *types.Credentials {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	creds := &types.Credentials{Cookies: make([]*http.Cookie, 0, len(names))}
	for _, name := range names {
		creds.Cookies = append(creds.Cookies, &http.Cookie{Name: name, Value: cookies[name]})
	}
	return creds
}
