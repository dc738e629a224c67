package util

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type DbConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Replicas        []string      `yaml:"replicas"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminEmails   []string      `yaml:"admin_emails"`
}

type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	PublishableKey string `yaml:"publishable_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
}

type SQSConfig struct {
	Region          string `yaml:"region"`
	QueueURL        string `yaml:"queue_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	WaitTimeSeconds int32  `yaml:"wait_time_seconds"`
}

type QueueConfig struct {
	Driver     string    `yaml:"driver"`
	BufferSize int       `yaml:"buffer_size"`
	SQS        SQSConfig `yaml:"sqs"`
}

type PreorderConfig struct {
	DefaultLeadDays int `yaml:"default_lead_days"`
}

type OrdersConfig struct {
	PendingTTL    time.Duration `yaml:"pending_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type ServerConfig struct {
	HttpPort int            `yaml:"http_port"`
	LogLevel string         `yaml:"log_level"`
	Database DbConfig       `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Queue    QueueConfig    `yaml:"queue"`
	Preorder PreorderConfig `yaml:"preorder"`
	Orders   OrdersConfig   `yaml:"orders"`
}

func (c *ServerConfig) GetConf(fileName string) *ServerConfig {
	yamlFile, err := os.ReadFile(fileName)
	if err != nil {
		log.Printf("Read yaml file %s failed: %s ", fileName, err.Error())
	}
	err = yaml.Unmarshal(yamlFile, c)
	if err != nil {
		log.Fatalf("Unmarshal: %v", err)
	}
	c.applyEnv()
	c.applyDefaults()
	return c
}

// applyEnv lets deployment secrets override the file.
func (c *ServerConfig) applyEnv() {
	overrides := map[string]*string{
		"DATABASE_URL":           &c.Database.DSN,
		"NEXTAUTH_SECRET":        &c.Auth.SessionSecret,
		"STRIPE_SECRET_KEY":      &c.Stripe.SecretKey,
		"STRIPE_PUBLISHABLE_KEY": &c.Stripe.PublishableKey,
		"STRIPE_WEBHOOK_SECRET":  &c.Stripe.WebhookSecret,
		"SQS_QUEUE_URL":          &c.Queue.SQS.QueueURL,
		"LOG_LEVEL":              &c.LogLevel,
	}
	for name, target := range overrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*target = v
		}
	}
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.HttpPort = port
		}
	}
}

func (c *ServerConfig) applyDefaults() {
	if c.HttpPort == 0 {
		c.HttpPort = 3000
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 30 * 24 * time.Hour
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.BufferSize == 0 {
		c.Queue.BufferSize = 10000
	}
	if c.Queue.SQS.WaitTimeSeconds == 0 {
		c.Queue.SQS.WaitTimeSeconds = 20
	}
	if c.Preorder.DefaultLeadDays == 0 {
		c.Preorder.DefaultLeadDays = 30
	}
	if c.Orders.SweepInterval == 0 {
		c.Orders.SweepInterval = 10 * time.Minute
	}
}

// Validate reports every missing required setting at once.
func (c *ServerConfig) Validate() error {
	missing := make([]string, 0)
	if c.Database.DSN == "" {
		missing = append(missing, "database.dsn")
	}
	if c.Auth.SessionSecret == "" {
		missing = append(missing, "auth.session_secret")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "stripe.secret_key")
	}
	if c.Queue.Driver == "sqs" && c.Queue.SQS.QueueURL == "" {
		missing = append(missing, "queue.sqs.queue_url")
	}
	if len(missing) > 0 {
		return errors.New("missing required config: " + strings.Join(missing, ", "))
	}
	return nil
}

// IsAdminEmail reports whether accounts created with email get the admin role.
func (c *AuthConfig) IsAdminEmail(email string) bool {
	for _, admin := range c.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(admin), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}
