package main

import "time"

type Config struct {
	Host                   string        `env:"HOST,default=localhost"`
	Port                   int           `env:"PORT,default=9993"`
	LogLevel               string        `env:"LOG_LEVEL,required=true"`
	BadgerFilepath         string        `env:"BADGER_FILEPATH,required=true"`
	ServerVersion          string        `env:"SERVER_VERSION,default=dev"`
	HeartbeatInterval      time.Duration `env:"HEARTBEAT_INTERVAL,default=45s"`
	GCInterval             time.Duration `env:"GC_INTERVAL,default=1m"`
	SnapshotInterval       time.Duration `env:"SNAPSHOT_INTERVAL,default=15s"`
	NotificationBufferSize int           `env:"NOTIFICATION_BUFFER_SIZE,default=1024"`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}
