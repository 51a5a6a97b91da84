// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/mailfold/internal/gmail"
)

type Scope int

const (
	ScopeReadonly Scope = iota
	ScopeModify
)

// NewGmailClient builds an authenticated client from the localcred auth
// directory. forceFresh discards the cached token first, forcing a new OAuth
// consent flow.
func NewGmailClient(ctx context.Context, cfgDir string, scope Scope, forceFresh bool) (gc.Client, error) {
	if forceFresh {
		token := filepath.Join(cfgDir, "token.json")
		if err := os.Remove(token); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("discard cached token: %w", err)
		}
	}
	var svc *gmail.Service
	var err error
	// localcred chooses scopes based on what the binary requests on first run
	switch scope {
	case ScopeReadonly:
		svc, err = (localcred.Provider{}).Service(ctx, cfgDir)
	case ScopeModify:
		svc, err = (localcred.Provider{}).Service(ctx, cfgDir)
	default:
		panic("unknown scope")
	}
	if err != nil {
		return nil, err
	}
	return NewGoogleAPIClient(svc), nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
