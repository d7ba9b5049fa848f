// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gdamore/botvisor"
)

const (
	configName = "botvisor"
	configType = "yaml"
	envPrefix  = "BOTVISOR"
)

// Config keys.  Flags carry the same names with dashes.
const (
	keyName           = "name"
	keyListen         = "listen"
	keyStorageDir     = "storage_dir"
	keyPublicDir      = "public_dir"
	keyStopTimeout    = "stop_timeout"
	keyPortMin        = "port_min"
	keyPortMax        = "port_max"
	keyLogLevel       = "log_level"
	keyLogFile        = "log_file"
	keyBotLogMaxSize  = "bot_log_max_size_mb"
	keyBotLogBackups  = "bot_log_max_backups"
	keyMaxConnections = "max_connections"
	keyDefaultCommand = "default_command"
)

type config struct {
	Name           string
	Listen         string
	StorageDir     string
	PublicDir      string
	StopTimeout    time.Duration
	PortMin        int
	PortMax        int
	LogLevel       string
	LogFile        string
	BotLogMaxSize  int
	BotLogBackups  int
	MaxConnections int
	DefaultCommand string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyName, "botvisord")
	v.SetDefault(keyListen, ":3000")
	v.SetDefault(keyStorageDir, "bots")
	v.SetDefault(keyPublicDir, "public")
	v.SetDefault(keyStopTimeout, botvisor.DefaultStopTime)
	v.SetDefault(keyPortMin, botvisor.DefaultPortMin)
	v.SetDefault(keyPortMax, botvisor.DefaultPortMax)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyBotLogMaxSize, 0)
	v.SetDefault(keyBotLogBackups, 3)
	v.SetDefault(keyMaxConnections, 256)
	v.SetDefault(keyDefaultCommand, botvisor.DefaultCommand)
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// addFlags registers a flag for every key.  Defaults live in viper, so the
// flags only matter when set.
func addFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default botvisor.yaml in . or /etc/botvisor)")
	fs.String(flagName(keyName), "", "instance name used in logs")
	fs.StringP(flagName(keyListen), "a", "", "listen address")
	fs.StringP(flagName(keyStorageDir), "d", "", "bot storage directory")
	fs.String(flagName(keyPublicDir), "", "static dashboard directory")
	fs.Duration(flagName(keyStopTimeout), 0, "grace period before SIGKILL (0 sends SIGTERM without waiting)")
	fs.Int(flagName(keyPortMin), 0, "lowest advisory bot port")
	fs.Int(flagName(keyPortMax), 0, "advisory bot ports stay below this")
	fs.String(flagName(keyLogLevel), "", "log level (debug, info, warn, error)")
	fs.String(flagName(keyLogFile), "", "also log to this file, rotated")
	fs.Int(flagName(keyBotLogMaxSize), 0, "rotate bot logs at this many MB (0 never)")
	fs.Int(flagName(keyBotLogBackups), 0, "rotated bot logs to keep")
	fs.Int(flagName(keyMaxConnections), 0, "concurrent connection limit (0 unlimited)")
	fs.String(flagName(keyDefaultCommand), "", "command used when a deploy names none")
}

// loadConfig layers flags over the environment over the config file over
// the defaults.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet) (*config, error) {
	setDefaults(v)

	keys := []string{
		keyName, keyListen, keyStorageDir, keyPublicDir, keyStopTimeout,
		keyPortMin, keyPortMax, keyLogLevel, keyLogFile, keyBotLogMaxSize,
		keyBotLogBackups, keyMaxConnections, keyDefaultCommand,
	}
	for _, k := range keys {
		if f := fs.Lookup(flagName(k)); f != nil {
			if err := v.BindPFlag(k, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", f.Name)
			}
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/botvisor")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	c := &config{
		Name:           v.GetString(keyName),
		Listen:         v.GetString(keyListen),
		StorageDir:     v.GetString(keyStorageDir),
		PublicDir:      v.GetString(keyPublicDir),
		StopTimeout:    v.GetDuration(keyStopTimeout),
		PortMin:        v.GetInt(keyPortMin),
		PortMax:        v.GetInt(keyPortMax),
		LogLevel:       v.GetString(keyLogLevel),
		LogFile:        v.GetString(keyLogFile),
		BotLogMaxSize:  v.GetInt(keyBotLogMaxSize),
		BotLogBackups:  v.GetInt(keyBotLogBackups),
		MaxConnections: v.GetInt(keyMaxConnections),
		DefaultCommand: v.GetString(keyDefaultCommand),
	}
	if c.StorageDir == "" {
		return nil, errors.New("storage_dir must not be empty")
	}
	if c.PortMin <= 0 || c.PortMax <= c.PortMin {
		return nil, errors.Errorf("bad port range [%d, %d)", c.PortMin, c.PortMax)
	}
	return c, nil
}

func (c *config) managerConfig() botvisor.Config {
	// An explicit zero means do not wait.  The manager reads zero as
	// unset, and the default is already applied here.
	stop := c.StopTimeout
	if stop == 0 {
		stop = -1
	}
	return botvisor.Config{
		Name:           c.Name,
		StorageDir:     c.StorageDir,
		DefaultCommand: c.DefaultCommand,
		StopTime:       stop,
		PortMin:        c.PortMin,
		PortMax:        c.PortMax,
		LogMaxSizeMB:   c.BotLogMaxSize,
		LogMaxBackups:  c.BotLogBackups,
	}
}
