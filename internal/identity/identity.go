// Package identity provides the Google identity token capability: obtaining
// a token (optionally prompting the user) and removing the cached one.
package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/jsonfile"
	"github.com/Rorqualx/proxyauth/internal/security"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// Provider is the host identity capability.
type Provider interface {
	// Token returns an identity token. When interactive is false the provider
	// must not ask the user for anything.
	Token(ctx context.Context, interactive bool) (string, error)
	// RemoveCachedToken forgets the cached token.
	RemoveCachedToken(ctx context.Context) error
}

// Prompter asks the user for a token.
type Prompter interface {
	Prompt(ctx context.Context) (string, error)
}

// cachedToken is the on-disk layout of the identity cache.
type cachedToken struct {
	Token      string    `json:"token"`
	ObtainedAt time.Time `json:"obtainedAt"`
}

// FileProvider caches the identity token in a JSON file. Lookup order is the
// configured token, then the cache, then the prompter (interactive only).
type FileProvider struct {
	path       string
	configured string
	prompter   Prompter

	mu sync.Mutex
}

// NewFileProvider creates a provider caching at path. configured is an
// optional non-interactive token (GOOGLE_TOKEN); prompter may be nil.
func NewFileProvider(path, configured string, prompter Prompter) *FileProvider {
	return &FileProvider{
		path:       path,
		configured: strings.TrimSpace(configured),
		prompter:   prompter,
	}
}

// Token implements Provider.
func (p *FileProvider) Token(ctx context.Context, interactive bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token := p.configured
	if token == "" {
		var cached cachedToken
		ok, err := jsonfile.Read(p.path, &cached)
		if err != nil {
			log.Warn().Err(err).Str("path", p.path).Msg("Ignoring unreadable identity cache")
		}
		if ok && cached.Token != "" {
			return cached.Token, nil
		}
	}

	var err error
	if token == "" && interactive && p.prompter != nil {
		token, err = p.prompter.Prompt(ctx)
		if err != nil {
			return "", types.NewHostError("identity", "get", err)
		}
		token = strings.TrimSpace(token)
	}
	if token == "" {
		return "", types.NewHostError("identity", "get", types.ErrNoIdentityToken)
	}

	if err := jsonfile.Write(p.path, cachedToken{Token: token, ObtainedAt: time.Now().UTC()}); err != nil {
		// The token is still usable for this call.
		log.Warn().Err(err).Str("path", p.path).Msg("Failed to cache identity token")
	} else {
		log.Debug().Str("token", security.MaskToken(token)).Msg("Cached identity token")
	}
	return token, nil
}

// RemoveCachedToken implements Provider.
func (p *FileProvider) RemoveCachedToken(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := jsonfile.Remove(p.path); err != nil {
		return types.NewHostError("identity", "remove", err)
	}
	return nil
}

// ReaderPrompter reads a token line from In after writing a prompt to Out.
type ReaderPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Prompt implements Prompter.
func (r *ReaderPrompter) Prompt(ctx context.Context) (string, error) {
	if r.Out != nil {
		fmt.Fprint(r.Out, "Paste your Google identity token: ")
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r.In).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("failed to read token: %w", res.err)
		}
		if res.line == "" {
			return "", types.ErrNoIdentityToken
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
