package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/models"
	"github.com/ternarybob/certflow/internal/services/download"
)

// fakePortal mimics the portal's screens on one page. Document number
// "404" produces the not-found modal; anything else shows the request button.
const fakePortal = `<!DOCTYPE html>
<html><body>
<div id="popup"><button id="popup-close">x</button></div>
<section id="entry"><button id="entry-btn">Ingresar</button></section>
<section id="login" hidden>
  <input name="username"><input name="password" type="password">
  <button id="login-btn">Iniciar</button>
</section>
<nav id="menu" hidden><span id="menu-query">partida</span></nav>
<section id="form" hidden>
  <input id="office">
  <div id="service">PREDIOS</div><div id="subservice" hidden>PJ</div>
  <input id="rtype" type="radio" style="opacity:0">
  <input id="numero"><button id="submit">Buscar</button>
</section>
<div id="notfound" hidden><span>La partida no existe</span></div>
<button id="request" hidden>Solicitar</button>
<section id="retrieval" hidden>
  <button id="entries">Ver Asientos</button>
  <input id="allpages" type="radio" style="opacity:0">
  <button id="amount">Calcular</button>
  <input id="balance" type="radio" style="opacity:0">
  <button id="continue">Continuar</button>
  <button id="download">Descargar</button>
  <button id="return">Regresar</button>
</section>
<script>
const $ = id => document.getElementById(id);
const show = (id, on) => { $(id).hidden = !on; };
if (localStorage.getItem("auth")) { show("entry", false); show("menu", true); }
$("popup-close").onclick = () => show("popup", false);
$("entry-btn").onclick = () => { show("entry", false); show("login", true); };
$("login-btn").onclick = () => {
  localStorage.setItem("auth", "1"); show("login", false); show("menu", true);
};
$("menu-query").onclick = () => show("form", true);
$("service").onclick = () => show("subservice", true);
$("submit").onclick = () => {
  if ($("numero").value === "404") { setTimeout(() => show("notfound", true), 100); return; }
  setTimeout(() => show("request", true), 100);
};
$("request").onclick = () => { show("request", false); show("form", false); show("retrieval", true); };
$("download").onclick = () => { window.location.href = "/certificado.pdf"; };
$("return").onclick = () => { show("retrieval", false); show("form", true); };
</script>
</body></html>`

func fakeSelectors() common.PortalSelectors {
	return common.PortalSelectors{
		InterstitialClose: "#popup-close",
		EntryButton:       "#entry-btn",
		Username:          `input[name="username"]`,
		Password:          `input[name="password"]`,
		LoginSubmit:       "#login-btn",
		QueryMenu:         "#menu-query",
		OfficeInput:       "#office",
		Service:           "#service",
		SubService:        "#subservice",
		RecordType:        "#rtype",
		DocumentNumber:    "#numero",
		QuerySubmit:       "#submit",
		NotFoundModal:     "#notfound",
		RequestButton:     "#request",
		ViewEntries:       "#entries",
		AllPages:          "#allpages",
		ComputeAmount:     "#amount",
		AvailableBalance:  "#balance",
		Continue:          "#continue",
		DownloadButton:    "#download",
		ReturnButton:      "#return",
	}
}

func findChrome(t *testing.T) string {
	if path := os.Getenv("CERTFLOW_CHROME_PATH"); path != "" {
		return path
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

func TestSession_AgainstFakePortal(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	chrome := findChrome(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(fakePortal))
	})
	mux.HandleFunc("/certificado.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="certificado.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.4\n%%EOF\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	logger := arbor.NewLogger()
	config := Config{
		EntryURL:   server.URL,
		Headless:   true,
		ChromePath: chrome,
		Timeouts: Timeouts{
			Navigation:   10 * time.Second,
			Interstitial: time.Second,
			Branch:       2 * time.Second,
			Step:         5 * time.Second,
			Return:       5 * time.Second,
		},
		Selectors: fakeSelectors(),
	}

	downloadDir := t.TempDir()
	ctx := context.Background()

	session, err := NewFactory(config, logger).NewSession(ctx, downloadDir)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Login(ctx, common.Credentials{Username: "USER", Password: "secret"}))
	require.NoError(t, session.OpenQueryForm(ctx))

	// Not found: the session ends up back on the query form
	outcome, err := session.SubmitQuery(ctx, models.Record{Row: 2, Identifier: "1", RegistryOffice: "LIMA", DocumentNumber: "404"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNotFound, outcome)

	// Found: retrieval triggers a real download
	record := models.Record{Row: 3, Identifier: "20100047218", RegistryOffice: "LIMA", DocumentNumber: "11002345"}
	outcome, err = session.SubmitQuery(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDownloadAccepted, outcome)

	require.NoError(t, session.CompleteRetrieval(ctx, outcome))

	watcher := download.NewWatcher(download.Config{PollInterval: 100 * time.Millisecond, Timeout: 10 * time.Second}, logger)
	dest, err := watcher.Await(ctx, models.NewDownloadTask(downloadDir, downloadDir, record))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(downloadDir, "2_20100047218_11002345", "11002345.pdf"), dest)

	require.NoError(t, session.ReturnToQuery(ctx))
	require.NoError(t, session.Close())
}
