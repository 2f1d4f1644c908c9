package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	segments               = 5
	maxConcurrentDownloads = 3
	workerBudget           = 16
	maxRetries             = 5
	retryDelay             = 20 * time.Second
	splitThreshold         = 30 * time.Second
	userAgent              = "segdl/1.0"
	connectTimeout         = 30 * time.Second
	tlsMinVersion          = "1.2"
)

var (
	downloadDir = xdg.UserDirs.Download
	historyPath = filepath.Join(xdg.DataHome, appName, "history.db")
	logPath     = filepath.Join(xdg.StateHome, appName, "segdl.log")
)
