package types

import "time"

// AppConfig is the root configuration for the hub.
type AppConfig struct {
	DebugMode  bool `key:"debugMode" json:"debug_mode"`
	PrettyLogs bool `key:"prettyLogs" json:"pretty_logs"`

	Hub      HubConfig      `key:"hub" json:"hub"`
	Database DatabaseConfig `key:"database" json:"database"`
	Blob     BlobConfig     `key:"blob" json:"blob"`
}

// HubConfig configures the hub daemon: the HTTP lifecycle API, the
// hub-project TCP link, and the local-process backend.
type HubConfig struct {
	// HTTPAddr is the bind address of the lifecycle API.
	HTTPAddr string `key:"httpAddr" json:"http_addr"`
	// LinkAddr is the bind address of the hub-project TCP listener.
	LinkAddr string `key:"linkAddr" json:"link_addr"`
	// AuthToken gates the HTTP API. Empty disables the check (local mode).
	AuthToken string `key:"authToken" json:"auth_token"`

	// ProjectsRoot is the directory holding one working directory per project.
	ProjectsRoot string `key:"projectsRoot" json:"projects_root"`
	// RunnerCommand is the executable spawned per project by the process
	// backend, with its arguments.
	RunnerCommand []string `key:"runnerCommand" json:"runner_command"`
	// Host is the address projects report in their durable record.
	Host string `key:"host" json:"host"`

	ShutdownTimeout time.Duration `key:"shutdownTimeout" json:"shutdown_timeout"`

	// HeartbeatTimeout closes link connections that stop sending heartbeats.
	HeartbeatTimeout time.Duration `key:"heartbeatTimeout" json:"heartbeat_timeout"`
}

type DatabaseConfig struct {
	Redis RedisConfig `key:"redis" json:"redis"`
}

type RedisMode string

const (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Mode               RedisMode     `key:"mode" json:"mode"`
	Addrs              []string      `key:"addrs" json:"addrs"`
	Username           string        `key:"username" json:"username"`
	Password           string        `key:"password" json:"password"`
	ClientName         string        `key:"clientName" json:"client_name"`
	EnableTLS          bool          `key:"enableTLS" json:"enable_tls"`
	InsecureSkipVerify bool          `key:"insecureSkipVerify" json:"insecure_skip_verify"`
	PoolSize           int           `key:"poolSize" json:"pool_size"`
	DialTimeout        time.Duration `key:"dialTimeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `key:"readTimeout" json:"read_timeout"`
	WriteTimeout       time.Duration `key:"writeTimeout" json:"write_timeout"`
	MaxRetries         int           `key:"maxRetries" json:"max_retries"`
}

// BlobConfig selects where save_blob payloads land.
type BlobConfig struct {
	Mode     string   `key:"mode" json:"mode"` // "local" or "s3"
	LocalDir string   `key:"localDir" json:"local_dir"`
	S3       S3Config `key:"s3" json:"s3"`
}

type S3Config struct {
	Bucket         string `key:"bucket" json:"bucket"`
	Region         string `key:"region" json:"region"`
	Endpoint       string `key:"endpoint" json:"endpoint"`
	AccessKey      string `key:"accessKey" json:"access_key"`
	SecretKey      string `key:"secretKey" json:"secret_key"`
	ForcePathStyle bool   `key:"forcePathStyle" json:"force_path_style"`
}

// ProjectStateTTL expires records for projects no hub has touched in a week.
const ProjectStateTTL = 7 * 24 * time.Hour
