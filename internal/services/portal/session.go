package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
)

// Session implements interfaces.PortalSession over one Chrome tab
type Session struct {
	config  Config
	browser *browserInstance
	logger  arbor.ILogger

	mu     sync.Mutex
	state  interfaces.SessionState
	closed bool

	// Race branches still running after their race was decided
	inflight sync.WaitGroup
}

// Compile-time interface assertion
var _ interfaces.PortalSession = (*Session)(nil)

func newSession(config Config, instance *browserInstance, logger arbor.ILogger) *Session {
	return &Session{
		config:  config,
		browser: instance,
		logger:  logger,
		state:   interfaces.SessionUnauthenticated,
	}
}

// State returns the current lifecycle state
func (s *Session) State() interfaces.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state interfaces.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != interfaces.SessionDead {
		s.state = state
	}
}

// require rejects operations on a dead session, and on an unauthenticated
// one when authenticated is set.
func (s *Session) require(op string, authenticated bool) error {
	switch s.State() {
	case interfaces.SessionDead:
		return fmt.Errorf("%s: %w", op, models.ErrSessionDead)
	case interfaces.SessionUnauthenticated:
		if authenticated {
			return models.NewWorkflowError(models.KindAuthentication, op, errors.New("session is not authenticated"))
		}
	}
	return nil
}

// run executes actions on the tab, bounded by timeout and by ctx
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browser.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.browser.ctx.Err() != nil {
		// Chrome went away underneath us
		s.setState(interfaces.SessionDead)
		return fmt.Errorf("%w: %v", models.ErrSessionDead, err)
	}
	return err
}

// fail wraps err with kind unless it is a cancellation or a dead session,
// which the caller must see unwrapped.
func fail(kind models.ErrorKind, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrSessionDead) {
		return err
	}
	return models.NewWorkflowError(kind, op, err)
}

// pause applies the configured slow-motion delay between UI actions
func (s *Session) pause() chromedp.Action {
	if s.config.SlowMotion <= 0 {
		return chromedp.ActionFunc(func(context.Context) error { return nil })
	}
	return chromedp.Sleep(s.config.SlowMotion)
}

// clickVisible waits for sel to be visible and clicks it with the mouse
func (s *Session) clickVisible(sel string) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.WaitVisible(sel, chromedp.BySearch),
		chromedp.Click(sel, chromedp.BySearch),
		s.pause(),
	}
}

// clickScript waits for sel to exist and clicks it from script. The portal's
// radio inputs are styled invisible and cannot take a mouse click.
func (s *Session) clickScript(sel string) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.QueryAfter(sel, func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no node matches %s", sel)
			}
			obj, err := dom.ResolveNode().WithNodeID(nodes[0].NodeID).Do(ctx)
			if err != nil {
				return err
			}
			_, exception, err := runtime.CallFunctionOn(`function() { this.click(); }`).
				WithObjectID(obj.ObjectID).
				Do(ctx)
			if err != nil {
				return err
			}
			if exception != nil {
				return fmt.Errorf("click on %s threw: %s", sel, exception.Text)
			}
			return nil
		}, chromedp.BySearch),
		s.pause(),
	}
}

// typeInto waits for sel, types text and presses Enter
func (s *Session) typeInto(sel, text string) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.WaitVisible(sel, chromedp.BySearch),
		chromedp.SendKeys(sel, text, chromedp.BySearch),
		chromedp.SendKeys(sel, kb.Enter, chromedp.BySearch),
		s.pause(),
	}
}

// Login opens the entry page and authenticates
func (s *Session) Login(ctx context.Context, creds common.Credentials) error {
	if err := s.require("login", false); err != nil {
		return err
	}
	if !creds.IsComplete() {
		return models.NewWorkflowError(models.KindAuthentication, "login", errors.New("username or password is empty"))
	}

	sel := s.config.Selectors
	t := s.config.Timeouts

	s.logger.Info().Str("url", s.config.EntryURL).Msg("Opening portal")
	if err := s.run(ctx, t.Navigation, chromedp.Navigate(s.config.EntryURL)); err != nil {
		return fail(models.KindNavigation, "open entry page", err)
	}

	s.dismissInterstitial(ctx)

	if err := s.run(ctx, t.Navigation, s.clickVisible(sel.EntryButton)); err != nil {
		return fail(models.KindNavigation, "open login form", err)
	}

	if err := s.run(ctx, t.Navigation,
		chromedp.WaitVisible(sel.Username, chromedp.BySearch),
		chromedp.SendKeys(sel.Username, creds.Username, chromedp.BySearch),
		s.pause(),
	); err != nil {
		return fail(models.KindAuthentication, "enter username", err)
	}

	if err := s.run(ctx, t.Navigation,
		chromedp.WaitVisible(sel.Password, chromedp.BySearch),
		chromedp.SendKeys(sel.Password, creds.Password, chromedp.BySearch),
		s.pause(),
	); err != nil {
		return fail(models.KindAuthentication, "enter password", err)
	}

	if err := s.run(ctx, t.Navigation, s.clickVisible(sel.LoginSubmit)); err != nil {
		return fail(models.KindAuthentication, "submit credentials", err)
	}

	// The query menu only renders for an authenticated user
	if err := s.run(ctx, t.Navigation, chromedp.WaitVisible(sel.QueryMenu, chromedp.BySearch)); err != nil {
		return fail(models.KindAuthentication, "confirm login", err)
	}

	s.setState(interfaces.SessionAuthenticated)
	s.logger.Info().Str("user", creds.Username).Msg("Logged in to portal")
	return nil
}

// dismissInterstitial waits briefly for the optional popup after the entry
// page. Its absence is normal. Escape is pressed either way.
func (s *Session) dismissInterstitial(ctx context.Context) {
	err := s.run(ctx, s.config.Timeouts.Interstitial,
		chromedp.WaitVisible(s.config.Selectors.InterstitialClose, chromedp.BySearch))
	if err == nil {
		s.logger.Debug().Msg("Interstitial shown")
	} else {
		s.logger.Debug().Err(err).Msg("No interstitial")
	}

	if err := s.run(ctx, s.config.Timeouts.Interstitial, chromedp.KeyEvent(kb.Escape), s.pause()); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send Escape")
	}
}

// OpenQueryForm navigates to the record query entry point
func (s *Session) OpenQueryForm(ctx context.Context) error {
	if err := s.require("open query form", true); err != nil {
		return err
	}

	menu := s.config.Selectors.QueryMenu
	err := s.run(ctx, s.config.Timeouts.Navigation,
		chromedp.WaitVisible(menu, chromedp.BySearch),
		s.clickScript(menu),
	)
	if err != nil {
		return fail(models.KindNavigation, "open query form", err)
	}

	s.logger.Debug().Msg("Query form opened")
	return nil
}

// ReturnToQuery clicks the return button shown after a retrieval
func (s *Session) ReturnToQuery(ctx context.Context) error {
	if err := s.require("return to query", true); err != nil {
		return err
	}

	if err := s.run(ctx, s.config.Timeouts.Return, s.clickVisible(s.config.Selectors.ReturnButton)); err != nil {
		return fail(models.KindUIState, "return to query", err)
	}
	return nil
}

// Close terminates the browser. Safe to call more than once; the session
// is Dead afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = interfaces.SessionDead
	instance := s.browser
	s.mu.Unlock()

	if instance == nil {
		return nil
	}

	orphans := descendants(instance.pid)
	instance.close()
	reap(orphans, s.logger)

	s.logger.Debug().Int("pid", instance.pid).Msg("Portal session closed")
	return nil
}
