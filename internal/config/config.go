package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string `yaml:"env" env:"ENV" env-default:"local"`
	Listen struct {
		BindIP string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port   string `yaml:"port" env-default:"9100"`
		ApiKey string `yaml:"key" env:"API_KEY" env-default:""`
	} `yaml:"listen"`
	WhatsApp struct {
		Enabled       bool   `yaml:"enabled" env-default:"false"`
		AccessToken   string `yaml:"access_token" env:"WHATSAPP_ACCESS_TOKEN" env-default:""`
		VerifyToken   string `yaml:"verify_token" env:"WHATSAPP_VERIFY_TOKEN" env-default:""`
		AppSecret     string `yaml:"app_secret" env:"WHATSAPP_APP_SECRET" env-default:""`
		PhoneNumberID string `yaml:"phone_number_id" env-default:""`
	} `yaml:"whatsapp"`
	Telegram struct {
		Enabled    bool   `yaml:"enabled" env-default:"false"`
		ApiKey     string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
		BotName    string `yaml:"bot_name" env-default:"AstroBot"`
		AdminId    int64  `yaml:"admin_id" env-default:"0"`
		AlertLevel string `yaml:"alert_level" env-default:"error"`
	} `yaml:"telegram"`
	Session struct {
		Backend           string        `yaml:"backend" env:"SESSION_BACKEND" env-default:"memory"`
		InactivityTimeout time.Duration `yaml:"inactivity_timeout" env-default:"30m"`
		DedupWindow       time.Duration `yaml:"dedup_window" env-default:"10m"`
		DedupSize         int           `yaml:"dedup_size" env-default:"20"`
		SweepInterval     time.Duration `yaml:"sweep_interval" env-default:"1m"`
	} `yaml:"session"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env-default:"astrobot"`
	} `yaml:"mongo"`
	AWS struct {
		Region string `yaml:"region" env:"AWS_REGION" env-default:"eu-central-1"`
	} `yaml:"aws"`
	DynamoDB struct {
		Table string `yaml:"table" env:"SESSION_TABLE" env-default:"astrobot-sessions"`
	} `yaml:"dynamodb"`
	SQLite struct {
		Path string `yaml:"path" env-default:"data/sessions.db"`
	} `yaml:"sqlite"`
	Resources struct {
		Dir             string        `yaml:"dir" env-default:"resources/locales"`
		DefaultLanguage string        `yaml:"default_language" env-default:"en"`
		RefreshInterval time.Duration `yaml:"refresh_interval" env-default:"0s"`
		Strict          bool          `yaml:"strict" env-default:"true"`
	} `yaml:"resources"`
	Flows struct {
		Dir         string `yaml:"dir" env-default:"resources/flows"`
		DefaultFlow string `yaml:"default_flow" env-default:"main"`
	} `yaml:"flows"`
	Dispatch struct {
		Workers        int           `yaml:"workers" env-default:"64"`
		Timeout        time.Duration `yaml:"timeout" env-default:"5s"`
		Keywords       []string      `yaml:"keywords" env-default:"menu,/start,0"`
		DropSuperseded bool          `yaml:"drop_superseded" env-default:"false"`
	} `yaml:"dispatch"`
	Bus struct {
		SendTimeout time.Duration `yaml:"send_timeout" env-default:"15s"`
	} `yaml:"bus"`
	Registry struct {
		Timeout      time.Duration `yaml:"timeout" env-default:"3s"`
		ProbeTimeout time.Duration `yaml:"probe_timeout" env-default:"500ms"`
	} `yaml:"registry"`
	Health struct {
		Interval time.Duration `yaml:"interval" env-default:"30s"`
	} `yaml:"health"`
	Credentials struct {
		Source          string        `yaml:"source" env-default:"static"`
		SSMPrefix       string        `yaml:"ssm_prefix" env:"PARAM_PREFIX" env-default:"/astrobot"`
		RefreshInterval time.Duration `yaml:"refresh_interval" env-default:"15m"`
	} `yaml:"credentials"`
	OpenAI struct {
		ApiKey string `yaml:"api_key" env:"OPENAI_API_KEY" env-default:""`
		Model  string `yaml:"model" env-default:"gpt-4o-mini"`
	} `yaml:"openai"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("%s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}

// Load reads a fresh config without touching the process-wide instance.
func Load(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return conf, nil
}
