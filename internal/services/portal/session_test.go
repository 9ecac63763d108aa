package portal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
)

func TestConfigFromCommon(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Portal.Timeouts.Branch = "7s"
	cfg.Portal.SlowMotion = ""

	pc := ConfigFromCommon(cfg.Portal)

	assert.Equal(t, 7*time.Second, pc.Timeouts.Branch)
	assert.Equal(t, 5*time.Minute, pc.Timeouts.Navigation)
	assert.Equal(t, 20*time.Second, pc.Timeouts.Interstitial)
	assert.Equal(t, 18*time.Second, pc.Timeouts.Return)
	assert.Equal(t, time.Duration(0), pc.SlowMotion)
	assert.True(t, pc.Headless)
	assert.Equal(t, cfg.Portal.Selectors.RequestButton, pc.Selectors.RequestButton)
}

func TestAllocatorOptions_ChromePath(t *testing.T) {
	base := len(allocatorOptions(Config{}))
	withPath := len(allocatorOptions(Config{ChromePath: "/opt/chrome/chrome", UserAgent: "ua"}))
	assert.Equal(t, base+2, withPath)
}

func TestTextOf(t *testing.T) {
	html := `<span class="ant-modal-confirm-title"><span>  La partida   no
		existe </span></span>`
	assert.Equal(t, "La partida no existe", textOf(html))
	assert.Equal(t, "", textOf(""))
}

func TestSession_DeadRejectsEverything(t *testing.T) {
	s := newSession(Config{}, nil, arbor.NewLogger())
	require.NoError(t, s.Close())
	assert.Equal(t, interfaces.SessionDead, s.State())

	ctx := context.Background()
	assert.ErrorIs(t, s.Login(ctx, common.Credentials{Username: "u", Password: "p"}), models.ErrSessionDead)
	assert.ErrorIs(t, s.OpenQueryForm(ctx), models.ErrSessionDead)
	_, err := s.SubmitQuery(ctx, models.Record{Row: 2})
	assert.ErrorIs(t, err, models.ErrSessionDead)
	assert.ErrorIs(t, s.CompleteRetrieval(ctx, models.OutcomeDownloadAccepted), models.ErrSessionDead)
	assert.ErrorIs(t, s.ReturnToQuery(ctx), models.ErrSessionDead)

	// Close is idempotent
	assert.NoError(t, s.Close())
}

func TestSession_UnauthenticatedGuards(t *testing.T) {
	s := newSession(Config{}, nil, arbor.NewLogger())
	ctx := context.Background()

	assert.ErrorIs(t, s.OpenQueryForm(ctx), models.ErrAuthentication)
	_, err := s.SubmitQuery(ctx, models.Record{Row: 2})
	assert.ErrorIs(t, err, models.ErrAuthentication)
}

func TestSession_LoginRejectsIncompleteCredentials(t *testing.T) {
	s := newSession(Config{}, nil, arbor.NewLogger())

	err := s.Login(context.Background(), common.Credentials{Username: "user"})
	assert.ErrorIs(t, err, models.ErrAuthentication)
	assert.Equal(t, interfaces.SessionUnauthenticated, s.State())
}

func TestSession_CompleteRetrievalRejectsNotFound(t *testing.T) {
	s := newSession(Config{}, nil, arbor.NewLogger())
	s.setState(interfaces.SessionAuthenticated)

	err := s.CompleteRetrieval(context.Background(), models.OutcomeNotFound)
	assert.ErrorIs(t, err, models.ErrUIState)
}
