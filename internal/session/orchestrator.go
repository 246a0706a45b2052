// Package session implements the session orchestrator: restoring a stored
// session, logging in with an identity token and logging out.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/credstore"
	"github.com/Rorqualx/proxyauth/internal/identity"
	"github.com/Rorqualx/proxyauth/internal/metrics"
	"github.com/Rorqualx/proxyauth/internal/security"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// Authenticator is the remote auth service.
type Authenticator interface {
	Exchange(ctx context.Context, identityToken string) (*types.Session, error)
	Verify(ctx context.Context, token string) (*types.Profile, error)
}

// EventKind is the state an operation left the session in.
type EventKind int

const (
	EventNone EventKind = iota
	EventLoggedOut
	EventLoggedIn
	EventLoginFailed
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventLoggedOut:
		return "LoggedOut"
	case EventLoggedIn:
		return "LoggedIn"
	case EventLoginFailed:
		return "LoginFailed"
	default:
		return "None"
	}
}

// Event is emitted after each orchestrator operation.
type Event struct {
	Kind    EventKind
	Profile *types.Profile // LoggedIn only
	Reason  string         // LoginFailed only
}

// Orchestrator serializes every session operation. HTTP handlers, the popup
// and file watchers may call it concurrently; operations never interleave.
type Orchestrator struct {
	store    credstore.Store
	auth     Authenticator
	identity identity.Provider

	mu sync.Mutex

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New creates an orchestrator.
func New(store credstore.Store, auth Authenticator, ident identity.Provider) *Orchestrator {
	return &Orchestrator{
		store:    store,
		auth:     auth,
		identity: ident,
		subs:     make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every emitted event and returns a function
// that removes it.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.subsMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.subsMu.Unlock()

	return func() {
		o.subsMu.Lock()
		delete(o.subs, id)
		o.subsMu.Unlock()
	}
}

// Current returns the stored session without contacting the backend.
func (o *Orchestrator) Current(ctx context.Context) (*types.Session, error) {
	return o.store.Get(ctx)
}

// RestoreSession verifies the stored token. A verified token gets a fresh
// profile and yields LoggedIn. Any failure clears the store and yields
// LoggedOut together with the cause.
func (o *Orchestrator) RestoreSession(ctx context.Context) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stored, err := o.store.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read stored session")
		return o.loggedOut(ctx, err)
	}
	if stored.Empty() {
		log.Debug().Msg("No stored session")
		metrics.SetSessionActive(false)
		return o.emit(Event{Kind: EventLoggedOut}), nil
	}

	profile, err := o.auth.Verify(ctx, stored.Token)
	recordAuth("verify", err)
	if err != nil {
		log.Warn().
			Err(err).
			Str("token", security.MaskToken(stored.Token)).
			Bool("invalid_session", types.IsInvalidSession(err)).
			Msg("Stored session could not be verified, clearing it")
		return o.loggedOut(ctx, err)
	}

	refreshed := &types.Session{Token: stored.Token, Profile: profile}
	if err := o.store.Set(ctx, refreshed); err != nil {
		log.Error().Err(err).Msg("Failed to store refreshed profile")
		return o.loggedOut(ctx, err)
	}

	log.Info().Str("email", profile.Email).Int("ips", len(profile.IPs)).Msg("Session restored")
	metrics.SetSessionActive(true)
	return o.emit(Event{Kind: EventLoggedIn, Profile: profile}), nil
}

// Login exchanges identityToken for a session and stores token and profile
// in one write. On failure the store is untouched.
func (o *Orchestrator) Login(ctx context.Context, identityToken string) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.login(ctx, identityToken)
}

// SignIn obtains an identity token interactively and logs in with it.
func (o *Orchestrator) SignIn(ctx context.Context) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	token, err := o.identity.Token(ctx, true)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to obtain identity token")
		return o.emit(Event{Kind: EventLoginFailed, Reason: err.Error()}), err
	}
	return o.login(ctx, token)
}

func (o *Orchestrator) login(ctx context.Context, identityToken string) (Event, error) {
	sess, err := o.auth.Exchange(ctx, identityToken)
	recordAuth("login", err)
	if err != nil {
		log.Warn().Err(err).Msg("Login failed")
		return o.emit(Event{Kind: EventLoginFailed, Reason: err.Error()}), err
	}

	if err := o.store.Set(ctx, sess); err != nil {
		log.Error().Err(err).Msg("Failed to store session")
		return o.emit(Event{Kind: EventLoginFailed, Reason: err.Error()}), err
	}

	log.Info().
		Str("email", sess.Profile.Email).
		Str("token", security.MaskToken(sess.Token)).
		Msg("Logged in")
	metrics.SetSessionActive(true)
	return o.emit(Event{Kind: EventLoggedIn, Profile: sess.Profile}), nil
}

// Logout removes the cached identity token (best effort) and clears the
// store. If the store cannot be cleared the session is still in place and
// no event is emitted.
func (o *Orchestrator) Logout(ctx context.Context) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.identity.RemoveCachedToken(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to remove cached identity token")
	}

	if err := o.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear stored session")
		return Event{}, err
	}

	log.Info().Msg("Logged out")
	metrics.SetSessionActive(false)
	return o.emit(Event{Kind: EventLoggedOut}), nil
}

// VerifyToken checks token against the backend, defaulting to the stored
// token when token is empty. Only an explicit rejection of the stored token
// clears the session; a network failure leaves it in place.
func (o *Orchestrator) VerifyToken(ctx context.Context, token string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stored, err := o.store.Get(ctx)
	if err != nil {
		return false, err
	}
	if token == "" {
		if stored.Empty() {
			return false, types.ErrNoSession
		}
		token = stored.Token
	}
	isStored := !stored.Empty() && token == stored.Token

	profile, err := o.auth.Verify(ctx, token)
	recordAuth("verify", err)
	if err != nil {
		if isStored && types.IsInvalidSession(err) {
			log.Info().Str("token", security.MaskToken(token)).Msg("Stored session rejected, clearing it")
			if clearErr := o.store.Clear(ctx); clearErr != nil {
				return false, errors.Join(err, clearErr)
			}
			metrics.SetSessionActive(false)
			o.emit(Event{Kind: EventLoggedOut})
		}
		return false, err
	}

	if isStored {
		if err := o.store.Set(ctx, &types.Session{Token: token, Profile: profile}); err != nil {
			log.Warn().Err(err).Msg("Failed to store refreshed profile")
		}
	}
	return true, nil
}

// loggedOut clears the store after a failed restore. A failed clear is
// joined to cause.
func (o *Orchestrator) loggedOut(ctx context.Context, cause error) (Event, error) {
	if err := o.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear stored session")
		cause = errors.Join(cause, err)
	}
	metrics.SetSessionActive(false)
	return o.emit(Event{Kind: EventLoggedOut}), cause
}

func (o *Orchestrator) emit(ev Event) Event {
	o.subsMu.Lock()
	subs := make([]func(Event), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.subsMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
	return ev
}

func recordAuth(op string, err error) {
	switch {
	case err == nil:
		metrics.RecordAuth(op, "ok")
	case errors.Is(err, types.ErrAuthRejected):
		metrics.RecordAuth(op, "rejected")
	default:
		metrics.RecordAuth(op, "network")
	}
}
