package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/ternarybob/certflow/internal/models"
)

// SubmitQuery fills the query form for record, submits it, and races the
// not-found modal against the request button. On NotFound the page is
// reloaded and the query form reopened before returning.
func (s *Session) SubmitQuery(ctx context.Context, record models.Record) (models.QueryOutcome, error) {
	if err := s.require("submit query", true); err != nil {
		return models.OutcomeUnknown, err
	}

	s.settleBranches()

	sel := s.config.Selectors
	steps := []struct {
		name    string
		actions chromedp.Tasks
	}{
		{"office filter", s.typeInto(sel.OfficeInput, record.RegistryOffice)},
		{"service", s.clickVisible(sel.Service)},
		{"sub-service", s.clickVisible(sel.SubService)},
		{"record type", s.clickScript(sel.RecordType)},
		{"document number", s.typeInto(sel.DocumentNumber, record.DocumentNumber)},
		{"submit", s.clickScript(sel.QuerySubmit)},
	}
	for _, step := range steps {
		if err := s.run(ctx, s.config.Timeouts.Step, step.actions); err != nil {
			return models.OutcomeUnknown, fail(models.KindUIState, "query form: "+step.name, err)
		}
	}

	s.logger.Debug().
		Int("row", record.Row).
		Str("document", record.DocumentNumber).
		Msg("Query submitted")

	// Probes run on the browser context so the loser outlives this call
	browserCtx := s.browser.ctx
	notFound := func(branchCtx context.Context) (bool, error) {
		if err := chromedp.Run(branchCtx, chromedp.WaitVisible(sel.NotFoundModal, chromedp.BySearch)); err != nil {
			return false, err
		}
		return true, nil
	}
	accepted := func(branchCtx context.Context) (bool, error) {
		err := chromedp.Run(branchCtx,
			chromedp.WaitVisible(sel.RequestButton, chromedp.BySearch),
			chromedp.Click(sel.RequestButton, chromedp.BySearch),
		)
		if err != nil {
			return false, err
		}
		return true, nil
	}

	outcome, err := race(ctx, browserCtx, s.config.Timeouts.Branch, s.tracked(notFound), s.tracked(accepted))
	if err != nil {
		return models.OutcomeUnknown, err
	}

	s.logger.Info().
		Int("row", record.Row).
		Str("document", record.DocumentNumber).
		Str("outcome", outcome.String()).
		Msg("Query resolved")

	if outcome == models.OutcomeNotFound {
		if text := s.modalText(ctx); text != "" {
			s.logger.Info().Str("message", text).Msg("Portal reported record not found")
		}
		if err := s.run(ctx, s.config.Timeouts.Navigation, chromedp.Reload()); err != nil {
			return models.OutcomeUnknown, fail(models.KindNavigation, "reload after not found", err)
		}
		if err := s.OpenQueryForm(ctx); err != nil {
			return models.OutcomeUnknown, err
		}
	}

	return outcome, nil
}

// tracked counts p as in flight until it returns
func (s *Session) tracked(p probe) probe {
	s.inflight.Add(1)
	return func(ctx context.Context) (bool, error) {
		defer s.inflight.Done()
		return p(ctx)
	}
}

// settleBranches waits for the losing branch of the previous race. A late
// request-button probe must not click the button of the next query. The
// wait is bounded by the branch timeout.
func (s *Session) settleBranches() {
	start := time.Now()
	s.inflight.Wait()
	if waited := time.Since(start); waited > 10*time.Millisecond {
		s.logger.Debug().Dur("waited", waited).Msg("Previous race branch settled")
	}
}

// modalText returns the visible text of the not-found modal, best effort
func (s *Session) modalText(ctx context.Context) string {
	var html string
	err := s.run(ctx, s.config.Timeouts.Interstitial,
		chromedp.OuterHTML(s.config.Selectors.NotFoundModal, &html, chromedp.BySearch))
	if err != nil {
		return ""
	}
	return textOf(html)
}

// textOf collapses the text content of an HTML fragment to single spaces
func textOf(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// CompleteRetrieval drives the purchase sequence that ends with the browser
// downloading the certificate. The available-balance option only exists when
// the request button was actually clicked.
func (s *Session) CompleteRetrieval(ctx context.Context, outcome models.QueryOutcome) error {
	if err := s.require("complete retrieval", true); err != nil {
		return err
	}
	if !outcome.IsSuccessPath() {
		return models.NewWorkflowError(models.KindUIState, "complete retrieval",
			fmt.Errorf("outcome %s has no retrieval", outcome))
	}

	sel := s.config.Selectors
	type step struct {
		name    string
		actions chromedp.Tasks
	}
	steps := []step{
		{"view entries", s.clickVisible(sel.ViewEntries)},
		{"all pages", s.clickScript(sel.AllPages)},
		{"compute amount", s.clickVisible(sel.ComputeAmount)},
	}
	if outcome == models.OutcomeDownloadAccepted {
		steps = append(steps, step{"available balance", s.clickScript(sel.AvailableBalance)})
	}
	steps = append(steps,
		step{"continue", s.clickVisible(sel.Continue)},
		step{"download", s.clickVisible(sel.DownloadButton)},
	)

	for _, st := range steps {
		if err := s.run(ctx, s.config.Timeouts.Step, st.actions); err != nil {
			return fail(models.KindUIState, "retrieval: "+st.name, err)
		}
		s.logger.Debug().Str("step", st.name).Msg("Retrieval step done")
	}

	s.logger.Info().Str("outcome", outcome.String()).Msg("Download triggered")
	return nil
}
