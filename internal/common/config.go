package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Dataset     DatasetConfig    `toml:"dataset"`
	Output      OutputConfig     `toml:"output"`
	Portal      PortalConfig     `toml:"portal"`
	Download    DownloadConfig   `toml:"download"`
	Supervisor  SupervisorConfig `toml:"supervisor"`
	Pacing      PacingConfig     `toml:"pacing"`
	Storage     StorageConfig    `toml:"storage"`
	Server      ServerConfig     `toml:"server"`
	Schedule    ScheduleConfig   `toml:"schedule"`
	Logging     LoggingConfig    `toml:"logging"`
}

// DatasetConfig locates the xlsx file that is both queue and ledger
type DatasetConfig struct {
	Path  string `toml:"path" validate:"required"`
	Sheet string `toml:"sheet"` // Empty = first worksheet
}

// OutputConfig controls where the per-run result folder is created
type OutputConfig struct {
	BaseDir string `toml:"base_dir"` // Empty = working directory
	Prefix  string `toml:"prefix" validate:"required"`
}

type PortalConfig struct {
	EntryURL       string          `toml:"entry_url" validate:"required,url"`
	CredentialsDir string          `toml:"credentials_dir" validate:"required"`
	Headless       bool            `toml:"headless"`
	ChromePath     string          `toml:"chrome_path"` // Empty = chromedp discovery
	UserAgent      string          `toml:"user_agent"`
	SlowMotion     string          `toml:"slow_motion" validate:"omitempty,duration"` // Pause between UI actions
	Timeouts       PortalTimeouts  `toml:"timeouts"`
	Selectors      PortalSelectors `toml:"selectors"`
}

// PortalTimeouts bounds every wait against the portal
type PortalTimeouts struct {
	Navigation   string `toml:"navigation" validate:"required,duration"`   // Page loads and menu renders (portal is slow)
	Interstitial string `toml:"interstitial" validate:"required,duration"` // Optional popup after the entry page
	Branch       string `toml:"branch" validate:"required,duration"`       // Each side of the not-found/accepted race
	Step         string `toml:"step" validate:"required,duration"`         // Each retrieval step control
	Return       string `toml:"return" validate:"required,duration"`       // Return button after a download
}

// PortalSelectors is the DOM contract with the portal. Values are CSS
// selectors or XPath expressions (anything chromedp.BySearch accepts).
type PortalSelectors struct {
	InterstitialClose string `toml:"interstitial_close" validate:"required"`
	EntryButton       string `toml:"entry_button" validate:"required"`
	Username          string `toml:"username" validate:"required"`
	Password          string `toml:"password" validate:"required"`
	LoginSubmit       string `toml:"login_submit" validate:"required"`
	QueryMenu         string `toml:"query_menu" validate:"required"`
	OfficeInput       string `toml:"office_input" validate:"required"`
	Service           string `toml:"service" validate:"required"`
	SubService        string `toml:"sub_service" validate:"required"`
	RecordType        string `toml:"record_type" validate:"required"`
	DocumentNumber    string `toml:"document_number" validate:"required"`
	QuerySubmit       string `toml:"query_submit" validate:"required"`
	NotFoundModal     string `toml:"not_found_modal" validate:"required"`
	RequestButton     string `toml:"request_button" validate:"required"`
	ViewEntries       string `toml:"view_entries" validate:"required"`
	AllPages          string `toml:"all_pages" validate:"required"`
	ComputeAmount     string `toml:"compute_amount" validate:"required"`
	AvailableBalance  string `toml:"available_balance" validate:"required"`
	Continue          string `toml:"continue" validate:"required"`
	DownloadButton    string `toml:"download_button" validate:"required"`
	ReturnButton      string `toml:"return_button" validate:"required"`
}

type DownloadConfig struct {
	Dir          string `toml:"dir"` // Empty = result folder
	Extension    string `toml:"extension" validate:"required"`
	PollInterval string `toml:"poll_interval" validate:"required,duration"`
	Timeout      string `toml:"timeout" validate:"required,duration"`
}

type SupervisorConfig struct {
	Backoff     string `toml:"backoff" validate:"required,duration"`
	MaxRestarts int    `toml:"max_restarts" validate:"gte=0"` // 0 = restart forever
}

type PacingConfig struct {
	MinQueryInterval string `toml:"min_query_interval" validate:"omitempty,duration"` // Empty or "0s" = no pacing
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type ServerConfig struct {
	Port       int    `toml:"port" validate:"gte=0,lte=65535"`
	Host       string `toml:"host"`
	UploadsDir string `toml:"uploads_dir" validate:"required"`
	OrdersFile string `toml:"orders_file" validate:"required"`
}

// ScheduleConfig drives periodic runs in serve mode
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // Standard 5-field cron expression
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Dataset: DatasetConfig{
			Path: "./Data/DATA_PERSONAS_JURIDICAS.xlsx",
		},
		Output: OutputConfig{
			Prefix: "RESULT",
		},
		Portal: PortalConfig{
			EntryURL:       "https://sprl.sunarp.gob.pe/sprl/ingreso",
			CredentialsDir: "./Credenciales",
			Headless:       true,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			SlowMotion:     "100ms",
			Timeouts: PortalTimeouts{
				Navigation:   "5m",
				Interstitial: "20s",
				Branch:       "15s",
				Step:         "5m",
				Return:       "18s",
			},
			Selectors: DefaultPortalSelectors(),
		},
		Download: DownloadConfig{
			Extension:    ".pdf",
			PollInterval: "5s",
			Timeout:      "180s",
		},
		Supervisor: SupervisorConfig{
			Backoff:     "15s",
			MaxRestarts: 0,
		},
		Pacing: PacingConfig{
			MinQueryInterval: "0s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/journal",
			},
		},
		Server: ServerConfig{
			Port:       3000,
			Host:       "localhost",
			UploadsDir: "./uploads",
			OrdersFile: "./pedidos.json",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 7 * * 1-5",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// DefaultPortalSelectors returns the selector set of the registry portal
func DefaultPortalSelectors() PortalSelectors {
	const menuEntry = `//app-main/nz-layout/nz-layout/nz-sider/div/app-sidenav-menu2/ul/li[1]/div[2]/ul/li/span[contains(text(),"partida")]`
	return PortalSelectors{
		InterstitialClose: `svg[data-icon="close"]`,
		EntryButton:       `nz-form-control > div > div > div > button`,
		Username:          `input[name="username"]`,
		Password:          `input[name="password"]`,
		LoginSubmit:       `button[class="btn"]`,
		QueryMenu:         menuEntry,
		OfficeInput:       `//nz-form-item/nz-form-control/div/div/nz-select/nz-select-top-control/nz-select-search/input`,
		Service:           `nz-select-item[title='FIR.DIGITAL-CERT. LITERAL - PREDIOS']`,
		SubService:        `nz-option-item[title='FIR.DIGITAL-CERT. LITERAL - PJ']`,
		RecordType:        `input[type='radio']`,
		DocumentNumber:    `input[name="numero"]`,
		QuerySubmit:       `button[type="submit"]`,
		NotFoundModal:     `//nz-modal-confirm-container/div/div/div/div/div[1]/span/span`,
		RequestButton:     `nz-content > div:nth-child(6) > button.ant-btn.ant-btn-primary`,
		ViewEntries:       `button[title='Ver Asientos']`,
		AllPages:          `nz-radio-group > label:nth-child(1) > span.ant-radio > input`,
		ComputeAmount:     `app-consulta-partidas > nz-content > nz-spin > div > app-ver-asientos > div.montos > div:nth-child(3) > button`,
		AvailableBalance:  `app-ver-asientos > app-radio-buttom-custom > div > nz-form-item > nz-form-control > div > div > div > nz-radio-group > label:nth-child(2) > span.ant-radio > input`,
		Continue:          `app-ver-asientos > app-button-triple2 > div > div:nth-child(2) > app-button > div > div > button`,
		DownloadButton:    `button[class='ant-btn ant-btn-primary']`,
		ReturnButton:      `button[class='not-print ant-btn ant-btn-primary']`,
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CERTFLOW_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("CERTFLOW_DATASET_PATH"); path != "" {
		config.Dataset.Path = path
	}
	if dir := os.Getenv("CERTFLOW_OUTPUT_DIR"); dir != "" {
		config.Output.BaseDir = dir
	}

	if url := os.Getenv("CERTFLOW_PORTAL_URL"); url != "" {
		config.Portal.EntryURL = url
	}
	if dir := os.Getenv("CERTFLOW_CREDENTIALS_DIR"); dir != "" {
		config.Portal.CredentialsDir = dir
	}
	if chrome := os.Getenv("CERTFLOW_CHROME_PATH"); chrome != "" {
		config.Portal.ChromePath = chrome
	}
	if headless := os.Getenv("CERTFLOW_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Portal.Headless = h
		}
	}

	if maxRestarts := os.Getenv("CERTFLOW_MAX_RESTARTS"); maxRestarts != "" {
		if mr, err := strconv.Atoi(maxRestarts); err == nil {
			config.Supervisor.MaxRestarts = mr
		}
	}

	if badgerPath := os.Getenv("CERTFLOW_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if port := os.Getenv("CERTFLOW_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CERTFLOW_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if level := os.Getenv("CERTFLOW_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CERTFLOW_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// FlagOverrides carries command-line values that take precedence over everything else
type FlagOverrides struct {
	Dataset string
	Headed  bool
	Port    int
	Host    string
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	if flags.Dataset != "" {
		config.Dataset.Path = flags.Dataset
	}
	if flags.Headed {
		config.Portal.Headless = false
	}
	if flags.Port > 0 {
		config.Server.Port = flags.Port
	}
	if flags.Host != "" {
		config.Server.Host = flags.Host
	}
}

// Validate checks struct constraints and the cron expression
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validation: %w", err)
	}

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Schedule.Enabled {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}

	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseDuration parses a duration string, returning fallback when empty or invalid.
// Values reaching this point have passed Validate, so fallback only covers zero values.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
