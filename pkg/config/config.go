package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DB         DBConfig         `mapstructure:"db"`
	Data       DataConfig       `mapstructure:"data"`
	Parse      ParseConfig      `mapstructure:"parse"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Annotation AnnotationConfig `mapstructure:"annotation"`
	Sample     SampleConfig     `mapstructure:"sample"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Report     ReportConfig     `mapstructure:"report"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Log        LogConfig        `mapstructure:"log"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type DataConfig struct {
	RawDir        string `mapstructure:"raw_dir"`
	Pattern       string `mapstructure:"pattern"`
	ExtractedText string `mapstructure:"extracted_text"`
}

type ParseConfig struct {
	DefaultYear int `mapstructure:"default_year"`
}

type ExtractConfig struct {
	Workers   int    `mapstructure:"workers"`
	PDFToText string `mapstructure:"pdftotext"`
}

type SnapshotConfig struct {
	Path         string `mapstructure:"path"`
	ProgramWeeks int    `mapstructure:"program_weeks"`
	Keywords     int    `mapstructure:"keywords"`
}

type AnnotationConfig struct {
	Path       string `mapstructure:"path"`
	JudgedGlob string `mapstructure:"judged_glob"`
}

type SampleConfig struct {
	Size             int   `mapstructure:"size"`
	Seed             int64 `mapstructure:"seed"`
	MinContentLength int   `mapstructure:"min_content_length"`
	EarlyWeeks       int   `mapstructure:"early_weeks"`
}

type SyncConfig struct {
	Student          string `mapstructure:"student"`
	DefaultStartDate string `mapstructure:"default_start_date"`
}

type ReportConfig struct {
	CSV  string `mapstructure:"csv"`
	XLSX string `mapstructure:"xlsx"`
}

type LLMConfig struct {
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance with defaults and environment binding set up.
// Variables from a .env file in the working directory are loaded first;
// a missing .env is not an error.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KIZUKI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
// An empty path searches for kizuki.yaml in the working directory.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kizuki")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("config: db.path must be set")
	}
	if c.Sample.Size < 1 {
		return fmt.Errorf("config: sample.size must be positive, got %d", c.Sample.Size)
	}
	if c.Sample.EarlyWeeks < 1 {
		return fmt.Errorf("config: sample.early_weeks must be positive, got %d", c.Sample.EarlyWeeks)
	}
	if _, err := time.Parse("2006-01-02", c.Sync.DefaultStartDate); err != nil {
		return fmt.Errorf("config: sync.default_start_date: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "kizuki_log.db")

	v.SetDefault("data.raw_dir", "raw_data")
	v.SetDefault("data.pattern", "日誌_*.pdf")
	v.SetDefault("data.extracted_text", "raw_data/extracted_text_all.txt")

	v.SetDefault("parse.default_year", 2025)

	v.SetDefault("extract.workers", 4)
	v.SetDefault("extract.pdftotext", "pdftotext")

	v.SetDefault("snapshot.path", "dashboard_data.json")
	v.SetDefault("snapshot.program_weeks", 11)
	v.SetDefault("snapshot.keywords", 5)

	v.SetDefault("annotation.path", "step0_data.json")
	v.SetDefault("annotation.judged_glob", "step0_judged_*.json")

	v.SetDefault("sample.size", 20)
	v.SetDefault("sample.seed", 42)
	v.SetDefault("sample.min_content_length", 50)
	v.SetDefault("sample.early_weeks", 5)

	v.SetDefault("sync.student", "")
	v.SetDefault("sync.default_start_date", "2026-02-16")

	v.SetDefault("report.csv", "step0_analysis_result.csv")
	v.SetDefault("report.xlsx", "step0_analysis_result.xlsx")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("schedule.cron", "0 19 * * *")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
