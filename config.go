// Copyright (C) 2025 Thinline Dynamic Solutions
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

const (
	DbTypePostgresql string = "postgresql"
)

type Config struct {
	BaseDir           string
	ConfigFile        string
	DbType            string
	DbHost            string
	DbPort            uint
	DbName            string
	DbUsername        string
	DbPassword        string
	Listen            string
	SslAutoCert       string
	SslCertFile       string
	SslKeyFile        string
	SslListen         string
	GoogleCredentials string
	UploadsDir        string
	IngestDir         string
	IngestDeleteAfter bool
	FrontendUrl       string
	JwtSecret         string
	EnableDebugLog    bool
	daemon            *Daemon
}

func NewConfig() *Config {
	const (
		defaultConfigFile       = "speech-server.ini"
		defaultDbType           = DbTypePostgresql
		defaultDbHost           = "localhost"
		defaultDbPortPostgreSql = uint(5432)
		defaultListen           = ":5000"
		defaultUploadsDir       = "uploads"
		defaultFrontendUrl      = "http://localhost:5173"
	)

	var (
		config        = &Config{}
		configSave    = flag.Bool("config_save", false, fmt.Sprintf("save configuration to %s", defaultConfigFile))
		runSetup      = flag.Bool("setup", false, "run the interactive setup wizard")
		serviceAction = flag.String("service", "", "service command, one of start, stop, restart, install, uninstall")
		version       = flag.Bool("version", false, "show application version")
	)

	if exe, err := os.Executable(); err == nil {
		if !regexp.MustCompile(`go-build[0-9]+`).Match([]byte(exe)) {
			config.BaseDir = filepath.Dir(exe)
			if !config.isBaseDirWritable() {
				if h, err := os.UserHomeDir(); err == nil {
					config.BaseDir = filepath.Join(h, "Speech Server")
					if _, err := os.Stat(config.BaseDir); os.IsNotExist(err) {
						os.MkdirAll(config.BaseDir, 0770)
					}
				}
			}
		}
	}

	flag.StringVar(&config.BaseDir, "base_dir", config.BaseDir, "base directory where all data will be written")
	flag.StringVar(&config.DbHost, "db_host", defaultDbHost, "database host ip or hostname")
	flag.StringVar(&config.DbName, "db_name", "", "database name")
	flag.StringVar(&config.DbPassword, "db_pass", "", "database password")
	flag.UintVar(&config.DbPort, "db_port", defaultDbPortPostgreSql, "database host port")
	flag.StringVar(&config.DbType, "db_type", defaultDbType, "database type (postgresql)")
	flag.StringVar(&config.DbUsername, "db_user", "", "database user name")
	flag.StringVar(&config.ConfigFile, "config", defaultConfigFile, "server config file")
	flag.StringVar(&config.Listen, "listen", defaultListen, "listening address")
	flag.StringVar(&config.GoogleCredentials, "google_credentials", "", "Google Cloud service account credentials file")
	flag.StringVar(&config.SslAutoCert, "ssl_auto_cert", "", "domain name for Let's Encrypt automatic certificate")
	flag.StringVar(&config.SslCertFile, "ssl_cert_file", "", "ssl PEM formated certificate")
	flag.StringVar(&config.SslKeyFile, "ssl_key_file", "", "ssl PEM formated key")
	flag.StringVar(&config.SslListen, "ssl_listen", "", "listening address for ssl")
	flag.Parse()

	config.UploadsDir = defaultUploadsDir
	config.FrontendUrl = defaultFrontendUrl

	if !config.isBaseDirWritable() {
		log.Fatalf("no write permissions in %s", config.BaseDir)
	}

	switch {
	case *configSave:
		if err := config.saveConfig(); err == nil {
			fmt.Printf("%s file created\n", config.ConfigFile)
			os.Exit(0)
		} else {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(-1)
		}

	case *version:
		fmt.Println(Version)
		os.Exit(0)

	case *runSetup:
		if err := runInteractiveSetup(config); err != nil {
			fmt.Printf("setup failed: %s\n", err.Error())
			os.Exit(-1)
		}
		os.Exit(0)

	default:
		if cfg, err := ini.Load(config.GetConfigFilePath()); err == nil {
			if v := cfg.Section("").Key("db_host").String(); len(v) > 0 {
				config.DbHost = v
			}

			if v := cfg.Section("").Key("db_name").String(); len(v) > 0 {
				config.DbName = v
			}

			if v := cfg.Section("").Key("db_pass").String(); len(v) > 0 {
				config.DbPassword = v
			}

			if v := cfg.Section("").Key("db_type").String(); len(v) > 0 {
				config.DbType = v
			}

			if config.DbPort, err = cfg.Section("").Key("db_port").Uint(); err != nil {
				config.DbPort = defaultDbPortPostgreSql
			}

			if v := cfg.Section("").Key("db_user").String(); len(v) > 0 {
				config.DbUsername = v
			}

			if v := cfg.Section("").Key("listen").String(); len(v) > 0 {
				config.Listen = v
			}

			if v := cfg.Section("").Key("google_credentials").String(); len(v) > 0 {
				config.GoogleCredentials = v
			}

			if v := cfg.Section("").Key("uploads_dir").String(); len(v) > 0 {
				config.UploadsDir = v
			}

			if v := cfg.Section("").Key("ingest_dir").String(); len(v) > 0 {
				config.IngestDir = v
			}

			if v, err := cfg.Section("").Key("ingest_delete_after").Bool(); err == nil {
				config.IngestDeleteAfter = v
			}

			if v := cfg.Section("").Key("frontend_url").String(); len(v) > 0 {
				config.FrontendUrl = v
			}

			if v := cfg.Section("").Key("jwt_secret").String(); len(v) > 0 {
				config.JwtSecret = v
			}

			if v := cfg.Section("").Key("ssl_auto_cert").String(); len(v) > 0 {
				config.SslAutoCert = v
			}

			if v := cfg.Section("").Key("ssl_cert_file").String(); len(v) > 0 {
				config.SslCertFile = v
			}

			if v := cfg.Section("").Key("ssl_key_file").String(); len(v) > 0 {
				config.SslKeyFile = v
			}

			if v := cfg.Section("").Key("ssl_listen").String(); len(v) > 0 {
				config.SslListen = v
			}

			if v, err := cfg.Section("").Key("enable_debug_log").Bool(); err == nil {
				config.EnableDebugLog = v
			}
		}

		config.loadEnv()

		if config.DbType != DbTypePostgresql {
			fmt.Printf("unknown database type %s (only postgresql is supported)\n", config.DbType)
			os.Exit(-1)
		}
	}

	if *serviceAction != "" {
		daemon, err := NewDaemon()
		if err != nil {
			log.Printf("ERROR: Failed to initialize daemon service: %v", err)
			os.Exit(1)
		}
		config.daemon = daemon.Control(*serviceAction)
	}

	return config
}

// loadEnv overlays environment variables for the keys that deployments
// historically configured through dotenv. The ini file wins when both
// are set.
func (config *Config) loadEnv() {
	if v := os.Getenv("PORT"); v != "" && config.Listen == ":5000" {
		config.Listen = ":" + v
	}

	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && config.GoogleCredentials == "" {
		config.GoogleCredentials = v
	}

	if v := os.Getenv("FRONTEND_URL"); v != "" && config.FrontendUrl == "http://localhost:5173" {
		config.FrontendUrl = v
	}

	if v := os.Getenv("JWT_SECRET"); v != "" && config.JwtSecret == "" {
		config.JwtSecret = v
	}
}

func (config *Config) GetConfigFilePath() string {
	return config.GetPath(config.ConfigFile)
}

func (config *Config) GetPath(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return filepath.Join(config.BaseDir, p)
}

func (config *Config) GetUploadsDirPath() string {
	return config.GetPath(config.UploadsDir)
}

func (config *Config) GetGoogleCredentialsPath() string {
	if config.GoogleCredentials == "" {
		return ""
	}
	return config.GetPath(config.GoogleCredentials)
}

func (config *Config) GetSslCertFilePath() string {
	return config.GetPath(config.SslCertFile)
}

func (config *Config) GetSslKeyFilePath() string {
	return config.GetPath(config.SslKeyFile)
}

func (config *Config) isBaseDirWritable() bool {
	if f, err := os.CreateTemp(config.BaseDir, ".tmp*"); err == nil {
		f.Close()
		os.Remove(f.Name())
		return true
	}
	return false
}

func (config *Config) saveConfig() error {
	ini := []string{}

	if config.DbHost != "" {
		ini = append(ini, fmt.Sprintf("db_host = %s", config.DbHost))
	}

	if config.DbName != "" {
		ini = append(ini, fmt.Sprintf("db_name = %s", config.DbName))
	}

	if config.DbPassword != "" {
		ini = append(ini, fmt.Sprintf("db_pass = %s", config.DbPassword))
	}

	if config.DbPort > 0 {
		ini = append(ini, fmt.Sprintf("db_port = %s", strconv.Itoa(int(config.DbPort))))
	}

	if config.DbType != "" {
		ini = append(ini, fmt.Sprintf("db_type = %s", config.DbType))
	}

	if config.DbUsername != "" {
		ini = append(ini, fmt.Sprintf("db_user = %s", config.DbUsername))
	}

	if config.Listen != "" {
		ini = append(ini, fmt.Sprintf("listen = %s", config.Listen))
	}

	if config.GoogleCredentials != "" {
		ini = append(ini, fmt.Sprintf("google_credentials = %s", config.GoogleCredentials))
	}

	if config.UploadsDir != "" {
		ini = append(ini, fmt.Sprintf("uploads_dir = %s", config.UploadsDir))
	}

	if config.IngestDir != "" {
		ini = append(ini, fmt.Sprintf("ingest_dir = %s", config.IngestDir))
	}

	if config.IngestDeleteAfter {
		ini = append(ini, "ingest_delete_after = true")
	}

	if config.FrontendUrl != "" {
		ini = append(ini, fmt.Sprintf("frontend_url = %s", config.FrontendUrl))
	}

	if config.JwtSecret != "" {
		ini = append(ini, fmt.Sprintf("jwt_secret = %s", config.JwtSecret))
	}

	if config.SslAutoCert != "" {
		ini = append(ini, fmt.Sprintf("ssl_auto_cert = %s", config.SslAutoCert))
	}

	if config.SslCertFile != "" {
		ini = append(ini, fmt.Sprintf("ssl_cert_file = %s", config.SslCertFile))
	}

	if config.SslKeyFile != "" {
		ini = append(ini, fmt.Sprintf("ssl_key_file = %s", config.SslKeyFile))
	}

	if config.SslListen != "" {
		ini = append(ini, fmt.Sprintf("ssl_listen = %s", config.SslListen))
	}

	if config.EnableDebugLog {
		ini = append(ini, "enable_debug_log = true")
	}

	file, err := os.Create(config.GetConfigFilePath())
	if err != nil {
		return err
	}

	for _, line := range ini {
		_, err := file.WriteString(line + "\n")
		if err != nil {
			return err
		}
	}

	return file.Close()
}
