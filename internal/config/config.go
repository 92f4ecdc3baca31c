package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Bind string `yaml:"bind"` // host rooms listen on, ports are ephemeral
}

type Storage struct {
	DataDir  string `yaml:"dataDir"`  // room log files
	SaltFile string `yaml:"saltFile"` // process-wide salt
	Database string `yaml:"database"` // sqlite room metadata
}

type Logging struct {
	Env   string `yaml:"env"` // dev|prod
	Debug bool   `yaml:"debug"`
}

// Room holds the parameters of the room this process hosts at boot.
// Recovered rooms carry their own persisted parameters instead.
type Room struct {
	Name            string `yaml:"name"`
	CanvasWidth     int    `yaml:"canvasWidth"`
	CanvasHeight    int    `yaml:"canvasHeight"`
	Password        string `yaml:"password"` // empty = public
	MaxLoad         int    `yaml:"maxLoad"`
	WelcomeMsg      string `yaml:"welcomeMsg"`
	EmptyClose      bool   `yaml:"emptyClose"`
	Permanent       bool   `yaml:"permanent"`
	ExpirationHours int    `yaml:"expirationHours"` // 0 = unlimited
}

type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
	Room    Room    `yaml:"room"`
}

// Load reads the yaml config. CONFIG_PATH overrides the default location.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Bind == "" {
		c.Server.Bind = "::"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data/room"
	}
	if c.Storage.SaltFile == "" {
		c.Storage.SaltFile = "./config/salt.key"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "./data/rooms.db"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Room.Name != "" {
		if c.Room.CanvasWidth <= 0 {
			c.Room.CanvasWidth = 720
		}
		if c.Room.CanvasHeight <= 0 {
			c.Room.CanvasHeight = 480
		}
		if c.Room.MaxLoad <= 0 {
			c.Room.MaxLoad = 5
		}
		if c.Room.ExpirationHours < 0 {
			return errors.New("room.expirationHours must be >= 0")
		}
	}
	return nil
}
